package l4perception

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeparateClouds(t *testing.T) {
	cloud := []WorldPoint{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}

	tests := []struct {
		name      string
		inliers   IndexSet
		wantPlane []WorldPoint
		wantObst  []WorldPoint
	}{
		{"empty inliers", IndexSet{}, []WorldPoint{}, cloud},
		{"all inliers", IndexSet{0, 1, 2, 3, 4}, cloud, []WorldPoint{}},
		{"interleaved", IndexSet{1, 3}, []WorldPoint{{X: 1}, {X: 3}}, []WorldPoint{{X: 0}, {X: 2}, {X: 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plane, obst, err := SeparateClouds(cloud, tt.inliers)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantPlane, plane); diff != "" {
				t.Errorf("plane cloud mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantObst, obst); diff != "" {
				t.Errorf("obstacle cloud mismatch (-want +got):\n%s", diff)
			}
			if len(plane)+len(obst) != len(cloud) {
				t.Errorf("partition lost points: %d + %d != %d", len(plane), len(obst), len(cloud))
			}
		})
	}
}

func TestSeparateClouds_InvalidIndices(t *testing.T) {
	cloud := []WorldPoint{{X: 0}, {X: 1}, {X: 2}}
	for _, inliers := range []IndexSet{{3}, {-1}, {2, 1}, {1, 1}} {
		if _, _, err := SeparateClouds(cloud, inliers); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("inliers %v: expected ErrInvalidParameter, got %v", inliers, err)
		}
	}
}

func TestIndexSet(t *testing.T) {
	s := NewIndexSet([]int{5, 1, 3, 1, 5})
	if diff := cmp.Diff(IndexSet{1, 3, 5}, s); diff != "" {
		t.Errorf("NewIndexSet mismatch (-want +got):\n%s", diff)
	}
	if !s.Contains(3) || s.Contains(2) {
		t.Errorf("Contains gave wrong answers for %v", s)
	}
	if diff := cmp.Diff(IndexSet{0, 2, 4, 6}, s.Complement(7)); diff != "" {
		t.Errorf("Complement mismatch (-want +got):\n%s", diff)
	}
}

func TestBoundingBoxOf(t *testing.T) {
	cloud := []WorldPoint{
		{X: 1, Y: 2, Z: 3},
		{X: -1, Y: 5, Z: 0},
		{X: 4, Y: -2, Z: 1},
		{X: 100, Y: 100, Z: 100},
	}
	box, err := BoundingBoxOf(cloud, Cluster{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, r3.Vector{X: -1, Y: -2, Z: 0}, box.Min)
	assert.Equal(t, r3.Vector{X: 4, Y: 5, Z: 3}, box.Max)
	for _, idx := range []int{0, 1, 2} {
		assert.True(t, box.Contains(Vec(cloud[idx])), "member %d outside box", idx)
	}
	assert.False(t, box.Contains(Vec(cloud[3])))
	assert.InDelta(t, 5*7*3, box.Volume(), 1e-12)
	assert.Equal(t, r3.Vector{X: 1.5, Y: 1.5, Z: 1.5}, box.Center())
}

func TestBoundingBoxOf_SinglePoint(t *testing.T) {
	cloud := []WorldPoint{{X: 2, Y: 3, Z: 4}}
	box, err := BoundingBoxOf(cloud, Cluster{0})
	require.NoError(t, err)
	assert.Equal(t, box.Min, box.Max)
	assert.Zero(t, box.Volume())
}

func TestBoundingBoxes_Errors(t *testing.T) {
	cloud := []WorldPoint{{X: 0}, {X: 1}}

	_, err := BoundingBoxes(cloud, []Cluster{{0}, {}})
	assert.ErrorIs(t, err, ErrEmptyResult)

	_, err = BoundingBoxes(cloud, []Cluster{{0, 7}})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, _, err = MinMax3D[WorldPoint](nil)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestPlaneFromPoints(t *testing.T) {
	m, ok := PlaneFromPoints(r3.Vector{Z: 2}, r3.Vector{X: 1, Z: 2}, r3.Vector{Y: 1, Z: 2})
	require.True(t, ok)
	assert.Equal(t, PlaneModel{C: 1, D: -2}, m)
	assert.InDelta(t, 3.0, m.SignedDistance(r3.Vector{X: 7, Y: -4, Z: 5}), 1e-12)
	assert.InDelta(t, 1.0, m.Distance(r3.Vector{Z: 1}), 1e-12)

	// Reversed winding gives the same canonical model.
	m2, ok := PlaneFromPoints(r3.Vector{Z: 2}, r3.Vector{Y: 1, Z: 2}, r3.Vector{X: 1, Z: 2})
	require.True(t, ok)
	assert.Equal(t, m, m2)

	_, ok = PlaneFromPoints(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{X: 2})
	assert.False(t, ok, "collinear points must not define a plane")
}

func TestFitPlane(t *testing.T) {
	// Exact samples of z = 0.5x - 0.25y + 1.
	var pts []r3.Vector
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			fx, fy := float64(x), float64(y)
			pts = append(pts, r3.Vector{X: fx, Y: fy, Z: 0.5*fx - 0.25*fy + 1})
		}
	}
	m, err := FitPlane(pts)
	require.NoError(t, err)
	want := r3.Vector{X: -0.5, Y: 0.25, Z: 1}.Normalize()
	assert.InDelta(t, want.X, m.A, 1e-9)
	assert.InDelta(t, want.Y, m.B, 1e-9)
	assert.InDelta(t, want.Z, m.C, 1e-9)
	for _, p := range pts {
		assert.InDelta(t, 0.0, m.Distance(p), 1e-9)
	}

	_, err = FitPlane(pts[:2])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestGroundSegmenters(t *testing.T) {
	cloud := groundGrid(6)
	for i := 0; i < 10; i++ {
		cloud = append(cloud, WorldPoint{X: 2, Y: 2, Z: 1 + float64(i)*0.1})
	}

	segmenters := map[string]GroundSegmenter{
		"ransac":      RANSACSegmenter{Params: PlaneParams{MaxIterations: 50, DistanceThreshold: 0.1}, Seed: 4},
		"height band": DefaultHeightBandSegmenter(),
	}
	for name, seg := range segmenters {
		t.Run(name, func(t *testing.T) {
			model, inliers, err := seg.SegmentGround(context.Background(), cloud)
			require.NoError(t, err)
			assert.Len(t, inliers, 36)
			assert.InDelta(t, 1.0, model.C, 1e-9)
			assert.InDelta(t, 0.0, model.D, 1e-9)
		})
	}
}

func TestHeightBandSegmenter_NoGround(t *testing.T) {
	cloud := []WorldPoint{{Z: 5}, {Z: 6}, {Z: 0}}
	_, _, err := DefaultHeightBandSegmenter().SegmentGround(context.Background(), cloud)
	assert.ErrorIs(t, err, ErrNoPlaneFound)
}

func TestRegion(t *testing.T) {
	r := Region{Min: r3.Vector{X: -1, Y: -1, Z: -1}, Max: r3.Vector{X: 1, Y: 1, Z: 1}}
	assert.False(t, r.Empty())
	assert.True(t, r.Contains(r3.Vector{X: 1, Y: -1}))
	assert.False(t, r.Contains(r3.Vector{X: math.Nextafter(1, 2)}))
	assert.True(t, Region{Min: r.Max, Max: r.Min}.Empty())
}
