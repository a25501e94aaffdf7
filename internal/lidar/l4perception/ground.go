package l4perception

import (
	"context"
	"fmt"
	"math/rand"
)

// GroundSegmenter separates ground-plane returns from a world-frame cloud.
// Implementations return the plane model and the ascending indices of the
// points that belong to it.
type GroundSegmenter interface {
	SegmentGround(ctx context.Context, cloud []WorldPoint) (PlaneModel, IndexSet, error)
}

// RANSACSegmenter fits the ground plane with SegmentPlane. Each call seeds
// a fresh generator from Seed, so identical clouds give identical results
// and concurrent calls share no state.
type RANSACSegmenter struct {
	Params PlaneParams
	Seed   int64
}

// SegmentGround implements GroundSegmenter.
func (s RANSACSegmenter) SegmentGround(ctx context.Context, cloud []WorldPoint) (PlaneModel, IndexSet, error) {
	rng := rand.New(rand.NewSource(s.Seed))
	return SegmentPlane(ctx, cloud, s.Params, rng)
}

// HeightBandSegmenter classifies every point at or below FloorHeightM as
// ground. It suits level street scenes where the sensor pose is known and
// avoids the RANSAC cost entirely. The reported model is the horizontal
// plane through the mean height of the ground points.
type HeightBandSegmenter struct {
	// FloorHeightM is the upper bound of the ground band in world Z.
	// Typical value: 0.2m above the road surface.
	FloorHeightM float64
}

// DefaultHeightBandSegmenter returns a segmenter with a 0.2m floor.
func DefaultHeightBandSegmenter() HeightBandSegmenter {
	return HeightBandSegmenter{FloorHeightM: 0.2}
}

// SegmentGround implements GroundSegmenter.
func (s HeightBandSegmenter) SegmentGround(ctx context.Context, cloud []WorldPoint) (PlaneModel, IndexSet, error) {
	if err := ctx.Err(); err != nil {
		return PlaneModel{}, nil, err
	}
	inliers := make(IndexSet, 0, len(cloud))
	var sumZ float64
	for i, p := range cloud {
		if p.Z <= s.FloorHeightM {
			inliers = append(inliers, i)
			sumZ += p.Z
		}
	}
	if len(inliers) < 3 {
		return PlaneModel{}, nil, fmt.Errorf("%w: %d points below floor %.2fm", ErrNoPlaneFound, len(inliers), s.FloorHeightM)
	}
	return PlaneModel{C: 1, D: -sumZ / float64(len(inliers))}, inliers, nil
}

var (
	_ GroundSegmenter = RANSACSegmenter{}
	_ GroundSegmenter = HeightBandSegmenter{}
)
