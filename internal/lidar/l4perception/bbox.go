package l4perception

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// BoundingBox is an axis-aligned box with Min <= Max on every axis. A
// single-point cluster yields a zero-volume box.
type BoundingBox struct {
	Min, Max r3.Vector
}

// Size returns the box extent along each axis.
func (b BoundingBox) Size() r3.Vector { return b.Max.Sub(b.Min) }

// Center returns the box centre.
func (b BoundingBox) Center() r3.Vector { return b.Min.Add(b.Max).Mul(0.5) }

// Volume returns the box volume in cubic metres.
func (b BoundingBox) Volume() float64 {
	s := b.Size()
	return s.X * s.Y * s.Z
}

// Contains reports whether v lies inside the box, bounds included.
func (b BoundingBox) Contains(v r3.Vector) bool {
	return Region(b).Contains(v)
}

// MinMax3D returns the per-axis extrema of points. It fails with
// ErrEmptyResult when points is empty.
func MinMax3D[P Point[P]](points []P) (minPt, maxPt r3.Vector, err error) {
	if len(points) == 0 {
		return r3.Vector{}, r3.Vector{}, fmt.Errorf("%w: no points for extrema", ErrEmptyResult)
	}
	minPt = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	maxPt = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range points {
		x, y, z := p.XYZ()
		minPt.X, maxPt.X = math.Min(minPt.X, x), math.Max(maxPt.X, x)
		minPt.Y, maxPt.Y = math.Min(minPt.Y, y), math.Max(maxPt.Y, y)
		minPt.Z, maxPt.Z = math.Min(minPt.Z, z), math.Max(maxPt.Z, z)
	}
	return minPt, maxPt, nil
}

// BoundingBoxOf computes the axis-aligned box of the cluster members.
func BoundingBoxOf[P Point[P]](cloud []P, cluster Cluster) (BoundingBox, error) {
	if err := cluster.Validate(len(cloud)); err != nil {
		return BoundingBox{}, err
	}
	lo, hi, err := MinMax3D(Select(cloud, cluster))
	if err != nil {
		return BoundingBox{}, err
	}
	return BoundingBox{Min: lo, Max: hi}, nil
}

// BoundingBoxes returns one box per cluster, in cluster order.
func BoundingBoxes[P Point[P]](cloud []P, clusters []Cluster) ([]BoundingBox, error) {
	boxes := make([]BoundingBox, 0, len(clusters))
	for i, c := range clusters {
		b, err := BoundingBoxOf(cloud, c)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}
