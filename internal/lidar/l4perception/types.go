package l4perception

import (
	"fmt"
	"sort"

	"github.com/golang/geo/r3"
)

// Point is the coordinate capability the perception stages need from a
// point representation. WithXYZ returns a copy of the receiver moved to the
// given position, keeping any auxiliary channels.
type Point[P any] interface {
	XYZ() (x, y, z float64)
	WithXYZ(x, y, z float64) P
}

// WorldPoint represents a point in Cartesian world coordinates (site frame).
type WorldPoint struct {
	X, Y, Z   float64 // World frame position (meters)
	Intensity float32 // Laser return intensity
}

// XYZ returns the point position.
func (p WorldPoint) XYZ() (x, y, z float64) { return p.X, p.Y, p.Z }

// WithXYZ returns a copy of p at (x, y, z) with the same intensity.
func (p WorldPoint) WithXYZ(x, y, z float64) WorldPoint {
	p.X, p.Y, p.Z = x, y, z
	return p
}

// Vec returns the position of p as an r3.Vector.
func Vec[P Point[P]](p P) r3.Vector {
	x, y, z := p.XYZ()
	return r3.Vector{X: x, Y: y, Z: z}
}

// IndexSet is a set of indices into one specific cloud, kept sorted
// ascending with no duplicates.
type IndexSet []int

// Cluster is a non-empty IndexSet over an obstacle cloud.
type Cluster = IndexSet

// NewIndexSet returns a sorted, de-duplicated copy of idx.
func NewIndexSet(idx []int) IndexSet {
	out := make(IndexSet, len(idx))
	copy(out, idx)
	sort.Ints(out)
	w := 0
	for i, v := range out {
		if i > 0 && v == out[w-1] {
			continue
		}
		out[w] = v
		w++
	}
	return out[:w]
}

// Validate checks that s is sorted, unique and within [0, n).
func (s IndexSet) Validate(n int) error {
	for i, v := range s {
		if v < 0 || v >= n {
			return fmt.Errorf("%w: index %d out of range [0, %d)", ErrInvalidParameter, v, n)
		}
		if i > 0 && v <= s[i-1] {
			return fmt.Errorf("%w: index set not strictly ascending at position %d", ErrInvalidParameter, i)
		}
	}
	return nil
}

// Contains reports whether idx is a member of s.
func (s IndexSet) Contains(idx int) bool {
	i := sort.SearchInts(s, idx)
	return i < len(s) && s[i] == idx
}

// Select returns the points of cloud at the indices of s, in index order.
func Select[P any](cloud []P, s IndexSet) []P {
	out := make([]P, len(s))
	for i, idx := range s {
		out[i] = cloud[idx]
	}
	return out
}

// Region is an axis-aligned region of interest. Bounds are inclusive.
type Region struct {
	Min, Max r3.Vector
}

// Empty reports whether the region contains no points, which is the case
// when Min is not strictly below Max on some axis.
func (r Region) Empty() bool {
	return r.Min.X >= r.Max.X || r.Min.Y >= r.Max.Y || r.Min.Z >= r.Max.Z
}

// Contains reports whether v lies inside the region, bounds included.
func (r Region) Contains(v r3.Vector) bool {
	return v.X >= r.Min.X && v.X <= r.Max.X &&
		v.Y >= r.Min.Y && v.Y <= r.Max.Y &&
		v.Z >= r.Min.Z && v.Z <= r.Max.Z
}
