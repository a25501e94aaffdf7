package pipeline

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
)

// NoPlanePolicy decides what a frame does when ground segmentation fails
// with ErrNoPlaneFound or ErrInsufficientData.
type NoPlanePolicy string

const (
	// PolicyAbort fails the frame with the segmentation error.
	PolicyAbort NoPlanePolicy = "abort"

	// PolicyAllObstacles clusters the whole filtered cloud as obstacles.
	PolicyAllObstacles NoPlanePolicy = "all_obstacles"
)

// Params is the full per-frame configuration surface.
type Params struct {
	Voxel   l4perception.VoxelParams
	Plane   l4perception.PlaneParams
	Cluster l4perception.ClusterParams

	// Seed initialises the RANSAC generator afresh for every frame, so a
	// frame's result does not depend on which frames ran before it.
	Seed int64

	// NoPlanePolicy defaults to PolicyAbort when empty.
	NoPlanePolicy NoPlanePolicy
}

// DefaultParams returns parameters suited to a street-scene frame with the
// sensor near the origin.
func DefaultParams() Params {
	return Params{
		Voxel: l4perception.VoxelParams{
			LeafSize: 0.2,
			Region: l4perception.Region{
				Min: r3.Vector{X: -10, Y: -6, Z: -2},
				Max: r3.Vector{X: 30, Y: 7, Z: 1},
			},
		},
		Plane: l4perception.PlaneParams{
			MaxIterations:     100,
			DistanceThreshold: 0.2,
			Refine:            true,
		},
		Cluster:       l4perception.DefaultClusterParams(),
		NoPlanePolicy: PolicyAbort,
	}
}

// Validate checks every stage's parameters up front so that bad
// configuration surfaces before any stage runs.
func (p Params) Validate() error {
	if err := p.Voxel.Validate(); err != nil {
		return fmt.Errorf("voxel: %w", err)
	}
	if err := p.Plane.Validate(); err != nil {
		return fmt.Errorf("plane: %w", err)
	}
	if err := p.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	switch p.NoPlanePolicy {
	case "", PolicyAbort, PolicyAllObstacles:
	default:
		return fmt.Errorf("%w: unknown no-plane policy %q", l4perception.ErrInvalidParameter, p.NoPlanePolicy)
	}
	return nil
}

func (p Params) policy() NoPlanePolicy {
	if p.NoPlanePolicy == "" {
		return PolicyAbort
	}
	return p.NoPlanePolicy
}
