package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
)

// Frame is one entry of an ordered frame sequence. Load is called on a
// worker goroutine, so at most Runner.Workers clouds are in memory at once
// plus the reorder window.
type Frame struct {
	Seq  int
	Name string
	Load func() ([]l4perception.WorldPoint, error)
}

// StaticFrame wraps an already loaded cloud as a Frame.
func StaticFrame(seq int, name string, cloud []l4perception.WorldPoint) Frame {
	return Frame{Seq: seq, Name: name, Load: func() ([]l4perception.WorldPoint, error) { return cloud, nil }}
}

// Outcome pairs a frame with its result. Exactly one of Result and Err is
// set.
type Outcome struct {
	Frame  Frame
	Result *FrameResult
	Err    error
}

// Sink consumes outcomes in frame order. A non-nil error stops the run.
type Sink interface {
	Consume(ctx context.Context, out Outcome) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, out Outcome) error

// Consume implements Sink.
func (f SinkFunc) Consume(ctx context.Context, out Outcome) error { return f(ctx, out) }

// MultiSink fans each outcome out to every sink in order, stopping at the
// first error.
type MultiSink []Sink

// Consume implements Sink.
func (m MultiSink) Consume(ctx context.Context, out Outcome) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Consume(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

// RunSummary counts frame outcomes for one Run.
type RunSummary struct {
	Frames   int
	Complete int
	Empty    int
	Failed   int
	Boxes    int
	Elapsed  time.Duration
}

func (s *RunSummary) add(out Outcome) {
	s.Frames++
	switch {
	case out.Err != nil:
		s.Failed++
	case out.Result.Status == StatusEmpty:
		s.Empty++
	default:
		s.Complete++
		s.Boxes += len(out.Result.Boxes)
	}
}

// Runner processes an ordered sequence of frames. Frames are independent,
// so up to Workers of them run at once; the Sink still sees them in input
// order.
type Runner struct {
	Processor *Processor
	Sink      Sink

	// Workers bounds concurrently processed frames. Values < 1 mean 1.
	Workers int

	// FrameTimeout, when > 0, bounds each frame. A frame that exceeds it
	// fails with context.DeadlineExceeded without affecting other frames.
	FrameTimeout time.Duration
}

// Run processes frames and delivers one Outcome per frame to the Sink.
// Stage failures are per-frame and do not stop the run; invalid parameters,
// sink errors and cancellation of ctx do.
func (r *Runner) Run(ctx context.Context, frames []Frame) (RunSummary, error) {
	var summary RunSummary
	if r.Processor == nil {
		return summary, errors.New("runner has no processor")
	}
	if err := r.Processor.Params.Validate(); err != nil {
		return summary, err
	}
	workers := max(r.Workers, 1)
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	var work errgroup.Group
	work.SetLimit(workers)

	// pending carries one result slot per frame in input order; its capacity
	// bounds how far processing may run ahead of the sink.
	pending := make(chan chan Outcome, workers)

	g.Go(func() error {
		defer close(pending)
		for _, f := range frames {
			f := f
			slot := make(chan Outcome, 1)
			select {
			case pending <- slot:
			case <-gctx.Done():
				return gctx.Err()
			}
			work.Go(func() error {
				slot <- r.processOne(gctx, f)
				return nil
			})
		}
		return nil
	})

	g.Go(func() error {
		for slot := range pending {
			var out Outcome
			select {
			case out = <-slot:
			case <-gctx.Done():
				return gctx.Err()
			}
			summary.add(out)
			if out.Err != nil {
				opsf("frame %d (%s) failed: %v", out.Frame.Seq, out.Frame.Name, out.Err)
			}
			if r.Sink == nil {
				continue
			}
			if err := r.Sink.Consume(gctx, out); err != nil {
				return fmt.Errorf("sink: frame %d: %w", out.Frame.Seq, err)
			}
		}
		return nil
	})

	err := g.Wait()
	_ = work.Wait()
	summary.Elapsed = time.Since(started)
	diagf("run finished in %v: %d frames, %d complete, %d empty, %d failed, %d boxes",
		summary.Elapsed, summary.Frames, summary.Complete, summary.Empty, summary.Failed, summary.Boxes)
	return summary, err
}

func (r *Runner) processOne(ctx context.Context, f Frame) Outcome {
	out := Outcome{Frame: f}
	if r.FrameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.FrameTimeout)
		defer cancel()
	}
	if f.Load == nil {
		out.Err = fmt.Errorf("frame %d: no loader", f.Seq)
		return out
	}
	cloud, err := f.Load()
	if err != nil {
		out.Err = fmt.Errorf("load %s: %w", f.Name, err)
		return out
	}
	out.Result, out.Err = r.Processor.Process(ctx, cloud)
	return out
}
