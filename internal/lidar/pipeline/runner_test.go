package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
)

// collectSink records outcomes in delivery order.
type collectSink struct {
	mu   sync.Mutex
	outs []Outcome
}

func (c *collectSink) Consume(_ context.Context, out Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outs = append(c.outs, out)
	return nil
}

func (c *collectSink) seqs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seqs := make([]int, len(c.outs))
	for i, o := range c.outs {
		seqs[i] = o.Frame.Seq
	}
	return seqs
}

// slowFrame delays its load so later frames finish first.
func slowFrame(seq int, delay time.Duration, cloud []l4perception.WorldPoint) Frame {
	return Frame{Seq: seq, Name: "slow", Load: func() ([]l4perception.WorldPoint, error) {
		time.Sleep(delay)
		return cloud, nil
	}}
}

func TestRunner_PreservesFrameOrder(t *testing.T) {
	var frames []Frame
	for i := 0; i < 8; i++ {
		// Earlier frames sleep longer.
		frames = append(frames, slowFrame(i, time.Duration(8-i)*5*time.Millisecond, streetScene()))
	}
	sink := &collectSink{}
	r := &Runner{Processor: &Processor{Params: sceneParams()}, Sink: sink, Workers: 4}

	summary, err := r.Run(context.Background(), frames)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, sink.seqs())
	assert.Equal(t, 8, summary.Frames)
	assert.Equal(t, 8, summary.Complete)
	assert.Equal(t, 16, summary.Boxes)
}

func TestRunner_ParallelMatchesSequential(t *testing.T) {
	frames := []Frame{
		StaticFrame(0, "a", streetScene()),
		StaticFrame(1, "b", streetScene()[:100]),
		StaticFrame(2, "c", streetScene()),
	}
	run := func(workers int) []Outcome {
		sink := &collectSink{}
		r := &Runner{Processor: &Processor{Params: sceneParams()}, Sink: sink, Workers: workers}
		_, err := r.Run(context.Background(), frames)
		require.NoError(t, err)
		return sink.outs
	}
	seq, par := run(1), run(3)
	require.Len(t, par, len(seq))
	for i := range seq {
		assert.Equal(t, seq[i].Result.Status, par[i].Result.Status)
		assert.Equal(t, seq[i].Result.Clusters, par[i].Result.Clusters)
		assert.Equal(t, seq[i].Result.Boxes, par[i].Result.Boxes)
	}
}

func TestRunner_FrameFailureDoesNotStopRun(t *testing.T) {
	loadErr := errors.New("truncated file")
	frames := []Frame{
		StaticFrame(0, "ok", streetScene()),
		{Seq: 1, Name: "broken", Load: func() ([]l4perception.WorldPoint, error) { return nil, loadErr }},
		StaticFrame(2, "ground", streetScene()[:100]),
	}
	sink := &collectSink{}
	r := &Runner{Processor: &Processor{Params: sceneParams()}, Sink: sink, Workers: 2}

	summary, err := r.Run(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, sink.outs, 3)
	assert.ErrorIs(t, sink.outs[1].Err, loadErr)
	assert.Nil(t, sink.outs[1].Result)
	assert.Equal(t, RunSummary{Frames: 3, Complete: 1, Empty: 1, Failed: 1, Boxes: 2, Elapsed: summary.Elapsed}, summary)
}

func TestRunner_SinkErrorStopsRun(t *testing.T) {
	var frames []Frame
	for i := 0; i < 20; i++ {
		frames = append(frames, StaticFrame(i, "f", streetScene()))
	}
	stop := errors.New("disk full")
	var seen int
	sink := SinkFunc(func(_ context.Context, out Outcome) error {
		seen++
		if out.Frame.Seq == 2 {
			return stop
		}
		return nil
	})
	r := &Runner{Processor: &Processor{Params: sceneParams()}, Sink: sink, Workers: 2}

	_, err := r.Run(context.Background(), frames)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, seen)
}

func TestRunner_InvalidParams(t *testing.T) {
	params := sceneParams()
	params.Cluster.Tolerance = -1
	called := false
	r := &Runner{
		Processor: &Processor{Params: params},
		Sink:      SinkFunc(func(context.Context, Outcome) error { called = true; return nil }),
	}
	_, err := r.Run(context.Background(), []Frame{StaticFrame(0, "a", streetScene())})
	assert.ErrorIs(t, err, l4perception.ErrInvalidParameter)
	assert.False(t, called, "sink must not run when parameters are invalid")
}

func TestRunner_FrameTimeout(t *testing.T) {
	frames := []Frame{slowFrame(0, 20*time.Millisecond, streetScene())}
	sink := &collectSink{}
	r := &Runner{Processor: &Processor{Params: sceneParams()}, Sink: sink, FrameTimeout: time.Millisecond}

	summary, err := r.Run(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, sink.outs, 1)
	assert.ErrorIs(t, sink.outs[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestMultiSink(t *testing.T) {
	a, b := &collectSink{}, &collectSink{}
	m := MultiSink{a, nil, b}
	require.NoError(t, m.Consume(context.Background(), Outcome{Frame: Frame{Seq: 7}}))
	assert.Equal(t, []int{7}, a.seqs())
	assert.Equal(t, []int{7}, b.seqs())
}
