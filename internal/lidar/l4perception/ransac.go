package l4perception

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

// parallelInlierMinPoints is the cloud size below which the per-iteration
// distance pass stays on the calling goroutine.
const parallelInlierMinPoints = 4096

// Sampler draws uniform integers in [0, n). *math/rand.Rand satisfies it.
// Callers own the generator so that a fixed seed reproduces a segmentation.
type Sampler interface {
	Intn(n int) int
}

// PlaneParams configures SegmentPlane.
type PlaneParams struct {
	MaxIterations     int     // RANSAC trials, > 0; collinear samples still consume a trial
	DistanceThreshold float64 // Inlier distance in metres, > 0
	Workers           int     // Goroutines for the distance pass; <= 1 runs inline
	Refine            bool    // Refit the best model to its inliers by least squares
}

// Validate checks the segmentation parameters.
func (p PlaneParams) Validate() error {
	if p.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be > 0, got %d", ErrInvalidParameter, p.MaxIterations)
	}
	if !(p.DistanceThreshold > 0) || math.IsInf(p.DistanceThreshold, 1) {
		return fmt.Errorf("%w: distance threshold must be > 0, got %v", ErrInvalidParameter, p.DistanceThreshold)
	}
	return nil
}

// SegmentPlane fits a plane to cloud with RANSAC and returns the model and
// its inlier indices (ascending).
//
// Each iteration draws three distinct indices from rng, skips collinear
// samples, and counts points within DistanceThreshold of the sampled plane.
// The first iteration reaching the highest count wins; later ties never
// replace it. Inlier counting may be split across Workers goroutines, but the
// count is an integer sum, so the outcome is identical to a sequential run.
func SegmentPlane[P Point[P]](ctx context.Context, cloud []P, params PlaneParams, rng Sampler) (PlaneModel, IndexSet, error) {
	if err := params.Validate(); err != nil {
		return PlaneModel{}, nil, err
	}
	if rng == nil {
		return PlaneModel{}, nil, fmt.Errorf("%w: random sampler is required", ErrInvalidParameter)
	}
	n := len(cloud)
	if n < 3 {
		return PlaneModel{}, nil, fmt.Errorf("%w: plane segmentation needs 3 points, got %d", ErrInsufficientData, n)
	}

	pts := make([]r3.Vector, n)
	for i, p := range cloud {
		pts[i] = Vec(p)
	}

	var (
		best      PlaneModel
		bestCount int
	)
	for iter := 0; iter < params.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return PlaneModel{}, nil, err
		}
		i, j, k := sampleTriple(rng, n)
		model, ok := PlaneFromPoints(pts[i], pts[j], pts[k])
		if !ok {
			continue
		}
		count, err := countInliers(ctx, pts, model, params.DistanceThreshold, params.Workers)
		if err != nil {
			return PlaneModel{}, nil, err
		}
		if count > bestCount {
			best, bestCount = model, count
		}
	}

	if bestCount < 3 {
		return PlaneModel{}, nil, fmt.Errorf("%w: best model has %d inliers after %d iterations",
			ErrNoPlaneFound, bestCount, params.MaxIterations)
	}

	inliers := collectInliers(pts, best, params.DistanceThreshold)

	if params.Refine {
		refined, err := FitPlane(Select(pts, inliers))
		if err == nil {
			best = refined
		}
	}
	return best, inliers, nil
}

// sampleTriple draws three distinct indices in [0, n) uniformly. n must be
// at least 3.
func sampleTriple(rng Sampler, n int) (int, int, int) {
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	lo, hi := min(i, j), max(i, j)
	k := rng.Intn(n - 2)
	if k >= lo {
		k++
	}
	if k >= hi {
		k++
	}
	return i, j, k
}

// countInliers returns how many of pts lie within threshold of model.
func countInliers(ctx context.Context, pts []r3.Vector, model PlaneModel, threshold float64, workers int) (int, error) {
	if workers <= 1 || len(pts) < parallelInlierMinPoints {
		return countRange(pts, model, threshold), nil
	}

	chunk := (len(pts) + workers - 1) / workers
	counts := make([]int, workers)
	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= len(pts) {
			break
		}
		hi := min(lo+chunk, len(pts))
		w := w
		g.Go(func() error {
			counts[w] = countRange(pts[lo:hi], model, threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

func countRange(pts []r3.Vector, model PlaneModel, threshold float64) int {
	count := 0
	for _, p := range pts {
		if model.Distance(p) <= threshold {
			count++
		}
	}
	return count
}

func collectInliers(pts []r3.Vector, model PlaneModel, threshold float64) IndexSet {
	inliers := make(IndexSet, 0, len(pts))
	for i, p := range pts {
		if model.Distance(p) <= threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}
