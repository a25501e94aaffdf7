package l4perception

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// IndexKind selects the SpatialIndex implementation used for clustering.
type IndexKind string

const (
	// IndexKDTree is a balanced k-d tree. Average radius queries are
	// O(log n + k). Near-linear or heavily duplicated layouts and radii that
	// are large relative to the point spacing degrade each query toward O(n),
	// which makes a clustering run O(n²) in the worst case.
	IndexKDTree IndexKind = "kdtree"

	// IndexGrid is a hashed uniform grid with cell size equal to the query
	// radius. Query cost depends only on local density, so it is the better
	// choice for adversarial distributions that unbalance the k-d tree.
	IndexGrid IndexKind = "grid"
)

// SpatialIndex answers neighbour queries over a fixed point set. Returned
// indices refer to positions in the slice the index was built from.
type SpatialIndex interface {
	// Len returns the number of indexed points.
	Len() int

	// Radius appends to dst the indices of all points within distance r of
	// q (inclusive), sorted ascending, and returns the extended slice.
	Radius(q r3.Vector, r float64, dst []int) []int

	// Nearest returns the index of the point closest to q and its distance.
	// It returns -1 and +Inf for an empty index.
	Nearest(q r3.Vector) (int, float64)
}

// NewSpatialIndex builds an index of the requested kind over points.
// cellSize is only used by IndexGrid.
func NewSpatialIndex[P Point[P]](kind IndexKind, points []P, cellSize float64) (SpatialIndex, error) {
	switch kind {
	case IndexKDTree, "":
		return NewKDTreeIndex(points), nil
	case IndexGrid:
		if !(cellSize > 0) {
			return nil, fmt.Errorf("%w: grid cell size must be > 0, got %v", ErrInvalidParameter, cellSize)
		}
		return NewGridIndex(points, cellSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown spatial index kind %q", ErrInvalidParameter, kind)
	}
}

// =============================================================================
// k-d tree
// =============================================================================

// kdPoint is an indexed position stored in the k-d tree.
type kdPoint struct {
	pos [3]float64
	idx int
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	return p.pos[d] - q.pos[d]
}

func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, matching the convention
// of the kdtree package's own point types.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	dx := p.pos[0] - q.pos[0]
	dy := p.pos[1] - q.pos[1]
	dz := p.pos[2] - q.pos[2]
	return dx*dx + dy*dy + dz*dz
}

// kdPoints implements kdtree.Interface. The tree reorders it in place
// during construction, which is why it is always a private copy.
type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p kdPoints) Len() int                      { return len(p) }
func (p kdPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p kdPoints) Pivot(d kdtree.Dim) int {
	return kdPlane{kdPoints: p, Dim: d}.Pivot()
}

// kdPlane sorts kdPoints along one dimension for median selection.
type kdPlane struct {
	kdtree.Dim
	kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return p.kdPoints[i].pos[p.Dim] < p.kdPoints[j].pos[p.Dim]
}
func (p kdPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}
func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}

// KDTreeIndex is a SpatialIndex backed by a balanced k-d tree.
type KDTreeIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTreeIndex builds a k-d tree over points. The input slice is not
// modified.
func NewKDTreeIndex[P Point[P]](points []P) *KDTreeIndex {
	idx := &KDTreeIndex{n: len(points)}
	if len(points) == 0 {
		return idx
	}
	pts := make(kdPoints, len(points))
	for i, p := range points {
		x, y, z := p.XYZ()
		pts[i] = kdPoint{pos: [3]float64{x, y, z}, idx: i}
	}
	idx.tree = kdtree.New(pts, false)
	return idx
}

// Len returns the number of indexed points.
func (t *KDTreeIndex) Len() int { return t.n }

// Radius returns the indices of all points within r of q, sorted ascending.
func (t *KDTreeIndex) Radius(q r3.Vector, r float64, dst []int) []int {
	if t.tree == nil || r < 0 {
		return dst
	}
	keep := kdtree.NewDistKeeper(r * r)
	t.tree.NearestSet(keep, kdPoint{pos: [3]float64{q.X, q.Y, q.Z}})
	start := len(dst)
	for _, c := range keep.Heap {
		// The keeper seeds its heap with a sentinel carrying no point.
		if c.Comparable == nil {
			continue
		}
		dst = append(dst, c.Comparable.(kdPoint).idx)
	}
	sort.Ints(dst[start:])
	return dst
}

// Nearest returns the closest indexed point to q.
func (t *KDTreeIndex) Nearest(q r3.Vector) (int, float64) {
	if t.tree == nil {
		return -1, math.Inf(1)
	}
	c, d2 := t.tree.Nearest(kdPoint{pos: [3]float64{q.X, q.Y, q.Z}})
	if c == nil {
		return -1, math.Inf(1)
	}
	return c.(kdPoint).idx, math.Sqrt(d2)
}

// =============================================================================
// Hashed uniform grid
// =============================================================================

// cellKey identifies one grid cell by its integer coordinates.
type cellKey struct {
	x, y, z int64
}

// GridIndex provides neighbour queries using a regular 3D grid.
// Cell size should approximately match the query radius.
type GridIndex struct {
	CellSize float64
	Grid     map[cellKey][]int // Cell → point indices, ascending
	points   []r3.Vector

	// far lists points whose cell coordinates do not fit a cellKey. Every
	// query checks them directly.
	far []int
}

// NewGridIndex populates a grid index from points.
func NewGridIndex[P Point[P]](points []P, cellSize float64) *GridIndex {
	g := &GridIndex{
		CellSize: cellSize,
		Grid:     make(map[cellKey][]int, len(points)/EstimatedPointsPerCell+1),
		points:   make([]r3.Vector, len(points)),
	}
	for i, p := range points {
		v := Vec(p)
		g.points[i] = v
		k, ok := g.cellOf(v)
		if !ok {
			g.far = append(g.far, i)
			continue
		}
		g.Grid[k] = append(g.Grid[k], i)
	}
	return g
}

// EstimatedPointsPerCell is used for initial grid capacity estimation.
const EstimatedPointsPerCell = 4

func (g *GridIndex) cellOf(v r3.Vector) (cellKey, bool) {
	x, okX := cellCoord(v.X, g.CellSize)
	y, okY := cellCoord(v.Y, g.CellSize)
	z, okZ := cellCoord(v.Z, g.CellSize)
	return cellKey{x: x, y: y, z: z}, okX && okY && okZ
}

// Len returns the number of indexed points.
func (g *GridIndex) Len() int { return len(g.points) }

// Radius returns the indices of all points within r of q, sorted ascending.
// Small radii walk the cube of cells around q; once that cube holds more
// cells than are occupied, the occupied cells are scanned instead.
func (g *GridIndex) Radius(q r3.Vector, r float64, dst []int) []int {
	if len(g.points) == 0 || !(r >= 0) {
		return dst
	}
	r2 := r * r
	start := len(dst)
	span := math.Ceil(r / g.CellSize)
	c, ok := g.cellOf(q)
	if ok && cubeCells(span) <= float64(len(g.Grid)) {
		s := int64(span)
		for dx := -s; dx <= s; dx++ {
			for dy := -s; dy <= s; dy++ {
				for dz := -s; dz <= s; dz++ {
					dst = g.appendWithin(dst, g.Grid[cellKey{c.x + dx, c.y + dy, c.z + dz}], q, r2)
				}
			}
		}
	} else {
		for _, idx := range g.Grid {
			dst = g.appendWithin(dst, idx, q, r2)
		}
	}
	dst = g.appendWithin(dst, g.far, q, r2)
	sort.Ints(dst[start:])
	return dst
}

func (g *GridIndex) appendWithin(dst, idx []int, q r3.Vector, r2 float64) []int {
	for _, i := range idx {
		if g.points[i].Sub(q).Norm2() <= r2 {
			dst = append(dst, i)
		}
	}
	return dst
}

// Nearest scans rings of cells outward from q until the closest point is
// provably found. When the next ring would visit more cells than are
// occupied, it scans the occupied cells directly.
func (g *GridIndex) Nearest(q r3.Vector) (int, float64) {
	best, bestD2 := -1, math.Inf(1)
	if len(g.points) == 0 {
		return best, bestD2
	}
	best, bestD2 = g.closest(g.far, q, best, bestD2)

	c, ok := g.cellOf(q)
	visited := 0
	for span := int64(0); ; span++ {
		ring := ringCells(span)
		if !ok || visited+ring > len(g.Grid) {
			for _, idx := range g.Grid {
				best, bestD2 = g.closest(idx, q, best, bestD2)
			}
			break
		}
		visited += ring
		for dx := -span; dx <= span; dx++ {
			for dy := -span; dy <= span; dy++ {
				for dz := -span; dz <= span; dz++ {
					if abs64(dx) != span && abs64(dy) != span && abs64(dz) != span {
						continue // interior cells were visited at a smaller span
					}
					best, bestD2 = g.closest(g.Grid[cellKey{c.x + dx, c.y + dy, c.z + dz}], q, best, bestD2)
				}
			}
		}
		// Every unvisited cell is at least span*CellSize away from q.
		if best >= 0 {
			reach := float64(span) * g.CellSize
			if bestD2 <= reach*reach {
				break
			}
		}
	}
	if best < 0 {
		return best, math.Inf(1)
	}
	return best, math.Sqrt(bestD2)
}

// closest folds idx into the running (best, bestD2) pair. Ties go to the
// lower index; points at a NaN distance never win.
func (g *GridIndex) closest(idx []int, q r3.Vector, best int, bestD2 float64) (int, float64) {
	for _, i := range idx {
		d2 := g.points[i].Sub(q).Norm2()
		if math.IsNaN(d2) {
			continue
		}
		if best < 0 || d2 < bestD2 || (d2 == bestD2 && i < best) {
			best, bestD2 = i, d2
		}
	}
	return best, bestD2
}

// cubeCells is the number of cells in a cube of half-width span.
func cubeCells(span float64) float64 {
	side := 2*span + 1
	return side * side * side
}

// ringCells is the number of cells at Chebyshev distance exactly span.
func ringCells(span int64) int {
	if span == 0 {
		return 1
	}
	outer, inner := 2*span+1, 2*span-1
	return int(outer*outer*outer - inner*inner*inner)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
