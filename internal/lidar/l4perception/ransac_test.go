package l4perception

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// groundGrid returns an n×n grid of points on z=0 spaced 1m apart.
func groundGrid(n int) []WorldPoint {
	pts := make([]WorldPoint, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, WorldPoint{X: float64(i), Y: float64(j), Z: 0})
		}
	}
	return pts
}

func TestSegmentPlane_AllPointsOnPlane(t *testing.T) {
	cloud := groundGrid(10)
	params := PlaneParams{MaxIterations: 50, DistanceThreshold: 0.01}

	model, inliers, err := SegmentPlane(context.Background(), cloud, params, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, inliers, len(cloud))
	assert.InDelta(t, 1.0, model.C, 1e-9, "normal should be +Z: %v", model)
	assert.InDelta(t, 0.0, model.D, 1e-9)
}

func TestSegmentPlane_ExcludesFarNoise(t *testing.T) {
	cloud := groundGrid(10)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 30; i++ {
		cloud = append(cloud, WorldPoint{X: rng.Float64() * 9, Y: rng.Float64() * 9, Z: 2 + rng.Float64()*3})
	}
	params := PlaneParams{MaxIterations: 100, DistanceThreshold: 0.2}

	_, inliers, err := SegmentPlane(context.Background(), cloud, params, rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	require.Len(t, inliers, 100)
	for _, idx := range inliers {
		assert.Less(t, idx, 100, "noise point %d classified as inlier", idx)
	}
}

func TestSegmentPlane_TiltedPlaneWithRefine(t *testing.T) {
	// Plane x + 2y - z + 3 = 0 with small deterministic noise.
	var cloud []WorldPoint
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 400; i++ {
		x, y := rng.Float64()*10, rng.Float64()*10
		z := x + 2*y + 3 + (rng.Float64()-0.5)*0.01
		cloud = append(cloud, WorldPoint{X: x, Y: y, Z: z})
	}
	params := PlaneParams{MaxIterations: 200, DistanceThreshold: 0.05, Refine: true}

	model, inliers, err := SegmentPlane(context.Background(), cloud, params, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	assert.Len(t, inliers, len(cloud))

	want := r3.Vector{X: -1, Y: -2, Z: 1}.Normalize()
	assert.InDelta(t, 1.0, model.Normal().Dot(want), 1e-4, "normal %v", model.Normal())
	assert.InDelta(t, 1.0, model.Normal().Norm(), 1e-12)
}

func TestSegmentPlane_Deterministic(t *testing.T) {
	cloud := groundGrid(8)
	rng := rand.New(rand.NewSource(21))
	for i := 0; i < 40; i++ {
		cloud = append(cloud, WorldPoint{X: rng.Float64() * 8, Y: rng.Float64() * 8, Z: rng.Float64() * 3})
	}
	params := PlaneParams{MaxIterations: 60, DistanceThreshold: 0.15}

	m1, in1, err := SegmentPlane(context.Background(), cloud, params, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	m2, in2, err := SegmentPlane(context.Background(), cloud, params, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
	assert.Equal(t, in1, in2)
}

func TestSegmentPlane_ParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	cloud := make([]WorldPoint, 0, 12000)
	for i := 0; i < 9000; i++ {
		cloud = append(cloud, WorldPoint{X: rng.Float64() * 50, Y: rng.Float64() * 50, Z: rng.NormFloat64() * 0.02})
	}
	for i := 0; i < 3000; i++ {
		cloud = append(cloud, WorldPoint{X: rng.Float64() * 50, Y: rng.Float64() * 50, Z: rng.Float64() * 4})
	}
	seq := PlaneParams{MaxIterations: 40, DistanceThreshold: 0.1, Workers: 1}
	par := seq
	par.Workers = 4

	m1, in1, err := SegmentPlane(context.Background(), cloud, seq, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	m2, in2, err := SegmentPlane(context.Background(), cloud, par, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
	assert.Equal(t, in1, in2)
}

func TestSegmentPlane_Errors(t *testing.T) {
	valid := PlaneParams{MaxIterations: 10, DistanceThreshold: 0.1}
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name   string
		cloud  []WorldPoint
		params PlaneParams
		rng    Sampler
		want   error
	}{
		{"zero iterations", groundGrid(3), PlaneParams{MaxIterations: 0, DistanceThreshold: 0.1}, rng, ErrInvalidParameter},
		{"zero threshold", groundGrid(3), PlaneParams{MaxIterations: 10}, rng, ErrInvalidParameter},
		{"NaN threshold", groundGrid(3), PlaneParams{MaxIterations: 10, DistanceThreshold: math.NaN()}, rng, ErrInvalidParameter},
		{"nil sampler", groundGrid(3), valid, nil, ErrInvalidParameter},
		{"two points", groundGrid(3)[:2], valid, rng, ErrInsufficientData},
		{"empty cloud", nil, valid, rng, ErrInsufficientData},
		{"collinear cloud", []WorldPoint{{X: 0}, {X: 1}, {X: 2}, {X: 3}}, valid, rng, ErrNoPlaneFound},
		{"coincident cloud", []WorldPoint{{X: 1}, {X: 1}, {X: 1}}, valid, rng, ErrNoPlaneFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SegmentPlane(context.Background(), tt.cloud, tt.params, tt.rng)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSegmentPlane_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := SegmentPlane(ctx, groundGrid(5), PlaneParams{MaxIterations: 10, DistanceThreshold: 0.1}, rand.New(rand.NewSource(1)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// scriptedSampler replays a fixed sequence of draws.
type scriptedSampler struct {
	draws []int
	pos   int
}

func (s *scriptedSampler) Intn(n int) int {
	v := s.draws[s.pos%len(s.draws)] % n
	s.pos++
	return v
}

func TestSegmentPlane_TieKeepsEarliestIteration(t *testing.T) {
	// Two parallel planes with four points each; both iterations score 4.
	cloud := []WorldPoint{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 5}, {X: 1, Y: 0, Z: 5}, {X: 0, Y: 1, Z: 5}, {X: 1, Y: 1, Z: 5},
	}
	// sampleTriple maps draws (i, j', k') to distinct indices. Draws 4,4,4
	// select (4,5,6) on the upper plane; draws 0,0,0 select (0,1,2).
	sampler := &scriptedSampler{draws: []int{4, 4, 4, 0, 0, 0}}
	params := PlaneParams{MaxIterations: 2, DistanceThreshold: 0.1}

	model, inliers, err := SegmentPlane(context.Background(), cloud, params, sampler)
	require.NoError(t, err)
	assert.Equal(t, IndexSet{4, 5, 6, 7}, inliers)
	assert.InDelta(t, -5.0, model.D, 1e-12)
}

func TestSampleTriple_Distinct(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for _, n := range []int{3, 4, 10} {
		for i := 0; i < 1000; i++ {
			a, b, c := sampleTriple(rng, n)
			if a == b || b == c || a == c {
				t.Fatalf("n=%d: non-distinct triple (%d, %d, %d)", n, a, b, c)
			}
			for _, v := range []int{a, b, c} {
				if v < 0 || v >= n {
					t.Fatalf("n=%d: index %d out of range", n, v)
				}
			}
		}
	}
}
