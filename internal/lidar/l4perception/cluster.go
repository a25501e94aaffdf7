package l4perception

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

// Constants for clustering configuration
const (
	// DefaultClusterTolerance is the default neighbour distance in metres.
	DefaultClusterTolerance = 0.5
	// DefaultMinClusterSize is the default minimum points to accept a cluster.
	DefaultMinClusterSize = 5
	// DefaultMaxClusterSize is the default maximum points to accept a cluster.
	DefaultMaxClusterSize = 10000

	// parallelFrontierMinPoints is the BFS frontier size below which radius
	// queries stay on the calling goroutine.
	parallelFrontierMinPoints = 64
)

// ClusterParams contains parameters for Euclidean clustering.
type ClusterParams struct {
	Tolerance      float64   // Neighbour distance in metres, > 0
	MinSize        int       // Minimum accepted component size, >= 1
	MaxSize        int       // Maximum accepted component size, >= MinSize
	Index          IndexKind // Spatial index backing the radius queries
	Workers        int       // Goroutines for frontier queries; <= 1 runs inline
	ReportRejected bool      // Keep size-rejected components in ClusterReport.Rejected
}

// DefaultClusterParams returns production-default clustering parameters.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		Tolerance: DefaultClusterTolerance,
		MinSize:   DefaultMinClusterSize,
		MaxSize:   DefaultMaxClusterSize,
		Index:     IndexKDTree,
	}
}

// Validate checks the clustering parameters.
func (p ClusterParams) Validate() error {
	if !(p.Tolerance > 0) || math.IsInf(p.Tolerance, 1) {
		return fmt.Errorf("%w: cluster tolerance must be > 0, got %v", ErrInvalidParameter, p.Tolerance)
	}
	if p.MinSize < 1 {
		return fmt.Errorf("%w: min cluster size must be >= 1, got %d", ErrInvalidParameter, p.MinSize)
	}
	if p.MinSize > p.MaxSize {
		return fmt.Errorf("%w: min cluster size %d exceeds max %d", ErrInvalidParameter, p.MinSize, p.MaxSize)
	}
	switch p.Index {
	case IndexKDTree, IndexGrid, "":
	default:
		return fmt.Errorf("%w: unknown spatial index kind %q", ErrInvalidParameter, p.Index)
	}
	return nil
}

// ClusterReport is the outcome of one clustering run. Clusters are ordered
// by their lowest member index, ascending, and each cluster's members are
// ascending. Rejected holds components outside [MinSize, MaxSize] in the
// same order when ClusterParams.ReportRejected is set.
type ClusterReport struct {
	Clusters []Cluster
	Rejected []Cluster
}

// ClusteredPoints returns the number of points in accepted clusters.
func (r ClusterReport) ClusteredPoints() int {
	n := 0
	for _, c := range r.Clusters {
		n += len(c)
	}
	return n
}

// EuclideanCluster groups cloud into connected components where two points
// are connected when they lie within Tolerance of each other (3D distance).
// Components whose size falls outside [MinSize, MaxSize] are not reported as
// clusters, and their points are not reconsidered.
//
// A spatial index is built once per call. Expansion is breadth-first by
// frontier level: the radius queries of one level are independent and may run
// on Workers goroutines, after which a single writer claims unvisited
// neighbours in frontier order. Component membership does not depend on the
// worker count.
func EuclideanCluster[P Point[P]](ctx context.Context, cloud []P, params ClusterParams) (ClusterReport, error) {
	if err := params.Validate(); err != nil {
		return ClusterReport{}, err
	}
	n := len(cloud)
	if n == 0 {
		return ClusterReport{}, nil
	}

	index, err := NewSpatialIndex(params.Index, cloud, params.Tolerance)
	if err != nil {
		return ClusterReport{}, err
	}
	pts := make([]r3.Vector, n)
	for i, p := range cloud {
		pts[i] = Vec(p)
	}

	var report ClusterReport
	visited := make([]bool, n)
	for seed := 0; seed < n; seed++ {
		if visited[seed] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return ClusterReport{}, err
		}

		component, err := expandComponent(ctx, index, pts, visited, seed, params)
		if err != nil {
			return ClusterReport{}, err
		}
		if len(component) >= params.MinSize && len(component) <= params.MaxSize {
			report.Clusters = append(report.Clusters, component)
		} else if params.ReportRejected {
			report.Rejected = append(report.Rejected, component)
		}
	}
	return report, nil
}

// expandComponent grows the connected component containing seed, marking
// every member visited, and returns the members sorted ascending.
func expandComponent(ctx context.Context, index SpatialIndex, pts []r3.Vector, visited []bool,
	seed int, params ClusterParams) (Cluster, error) {

	visited[seed] = true
	members := []int{seed}
	frontier := []int{seed}
	for len(frontier) > 0 {
		neighbors, err := queryFrontier(ctx, index, pts, frontier, params.Tolerance, params.Workers)
		if err != nil {
			return nil, err
		}

		// Single-writer claim step: the first frontier point to report a
		// neighbour claims it, so no point joins two components.
		next := make([]int, 0, len(frontier))
		for _, list := range neighbors {
			for _, idx := range list {
				if visited[idx] {
					continue
				}
				visited[idx] = true
				members = append(members, idx)
				next = append(next, idx)
			}
		}
		frontier = next
	}
	return NewIndexSet(members), nil
}

// queryFrontier runs the radius query for each frontier point and returns
// the neighbour lists in frontier order.
func queryFrontier(ctx context.Context, index SpatialIndex, pts []r3.Vector, frontier []int,
	radius float64, workers int) ([][]int, error) {

	out := make([][]int, len(frontier))
	if workers <= 1 || len(frontier) < parallelFrontierMinPoints {
		for i, idx := range frontier {
			out[i] = index.Radius(pts[idx], radius, nil)
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, idx := range frontier {
		i, idx := i, idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = index.Radius(pts[idx], radius, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
