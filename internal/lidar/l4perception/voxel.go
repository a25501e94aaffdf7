package l4perception

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// VoxelParams configures FilterCloud. Voxel keys are int64 cell indices, so
// every cropped coordinate must satisfy |coordinate / LeafSize| < 2^62;
// FilterCloud reports ErrInvalidParameter for points beyond that.
type VoxelParams struct {
	LeafSize float64 // Voxel edge length in metres, > 0
	Region   Region  // Inclusive crop box applied before voxelization
}

// Validate checks the voxel filter parameters.
func (p VoxelParams) Validate() error {
	if !(p.LeafSize > 0) || math.IsInf(p.LeafSize, 1) {
		return fmt.Errorf("%w: voxel leaf size must be > 0, got %v", ErrInvalidParameter, p.LeafSize)
	}
	return nil
}

// FilterCloud crops cloud to the region of interest and then downsamples it
// to one representative point per occupied voxel. An empty region yields an
// empty cloud rather than an error.
func FilterCloud[P Point[P]](cloud []P, params VoxelParams) ([]P, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cropped := CropBox(cloud, params.Region)
	return VoxelGrid(cropped, params.LeafSize)
}

// CropBox returns the points of cloud inside region, in input order.
func CropBox[P Point[P]](cloud []P, region Region) []P {
	if region.Empty() {
		return []P{}
	}
	out := make([]P, 0, len(cloud))
	for _, p := range cloud {
		if region.Contains(Vec(p)) {
			out = append(out, p)
		}
	}
	return out
}

// voxelKey is the integer cell triple floor(coordinate / leafSize).
type voxelKey [3]int64

// maxCellCoord bounds |floor(coordinate / cell size)| so a cell index and
// the neighbour offsets added to it stay inside int64.
const maxCellCoord = 1 << 62

// cellCoord returns floor(v / size) as an int64. ok is false when the
// quotient is NaN or too large to represent.
func cellCoord(v, size float64) (int64, bool) {
	f := math.Floor(v / size)
	if !(math.Abs(f) < maxCellCoord) {
		return 0, false
	}
	return int64(f), true
}

// voxelAccum gathers the members of one occupied voxel.
type voxelAccum struct {
	sum      r3.Vector
	min, max r3.Vector
	members  []int
}

// VoxelGrid performs voxel-based downsampling. Each occupied cubic voxel of
// edge leafSize is replaced by one point positioned at the centroid of its
// members; auxiliary channels come from the member nearest that centroid,
// lowest index first on ties. Output is ordered by voxel key (x, y, z), so it
// does not depend on the input order.
func VoxelGrid[P Point[P]](points []P, leafSize float64) ([]P, error) {
	if !(leafSize > 0) || math.IsInf(leafSize, 1) {
		return nil, fmt.Errorf("%w: voxel leaf size must be > 0, got %v", ErrInvalidParameter, leafSize)
	}
	if len(points) == 0 {
		return []P{}, nil
	}

	cells := make(map[voxelKey]*voxelAccum)
	for i, p := range points {
		v := Vec(p)
		x, okX := cellCoord(v.X, leafSize)
		y, okY := cellCoord(v.Y, leafSize)
		z, okZ := cellCoord(v.Z, leafSize)
		if !okX || !okY || !okZ {
			return nil, fmt.Errorf("%w: point %d at %v has no voxel for leaf size %v", ErrInvalidParameter, i, v, leafSize)
		}
		k := voxelKey{x, y, z}
		acc, ok := cells[k]
		if !ok {
			acc = &voxelAccum{min: v, max: v}
			cells[k] = acc
		}
		acc.sum = acc.sum.Add(v)
		acc.min = r3.Vector{X: math.Min(acc.min.X, v.X), Y: math.Min(acc.min.Y, v.Y), Z: math.Min(acc.min.Z, v.Z)}
		acc.max = r3.Vector{X: math.Max(acc.max.X, v.X), Y: math.Max(acc.max.Y, v.Y), Z: math.Max(acc.max.Z, v.Z)}
		acc.members = append(acc.members, i)
	}

	keys := make([]voxelKey, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})

	out := make([]P, 0, len(keys))
	for _, k := range keys {
		acc := cells[k]
		n := float64(len(acc.members))
		c := r3.Vector{X: acc.sum.X / n, Y: acc.sum.Y / n, Z: acc.sum.Z / n}
		// Rounding in the mean can step outside the members' extent, which
		// would move the point into a neighbouring voxel or out of the crop.
		c = r3.Vector{
			X: clamp(c.X, acc.min.X, acc.max.X),
			Y: clamp(c.Y, acc.min.Y, acc.max.Y),
			Z: clamp(c.Z, acc.min.Z, acc.max.Z),
		}

		rep := acc.members[0]
		best := math.Inf(1)
		for _, i := range acc.members {
			if d := Vec(points[i]).Sub(c).Norm2(); d < best {
				best, rep = d, i
			}
		}
		out = append(out, points[rep].WithXYZ(c.X, c.Y, c.Z))
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
