package l4perception

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// collinearEpsilon is the smallest |e1×e2| / (|e1||e2|) (the sine of the
// angle between two edge vectors) for which three samples define a plane.
const collinearEpsilon = 1e-9

// PlaneModel holds the coefficients of ax+by+cz+d=0 with (a,b,c) of unit
// length. Coefficients are sign-normalised so the first non-zero of c, b, a
// is positive; a ground plane therefore has an upward normal.
type PlaneModel struct {
	A, B, C, D float64
}

// Normal returns the unit normal (a, b, c).
func (m PlaneModel) Normal() r3.Vector {
	return r3.Vector{X: m.A, Y: m.B, Z: m.C}
}

// SignedDistance returns the signed perpendicular distance of v to the plane.
func (m PlaneModel) SignedDistance(v r3.Vector) float64 {
	return m.A*v.X + m.B*v.Y + m.C*v.Z + m.D
}

// Distance returns the perpendicular distance of v to the plane.
func (m PlaneModel) Distance(v r3.Vector) float64 {
	return math.Abs(m.SignedDistance(v))
}

// String formats the plane equation.
func (m PlaneModel) String() string {
	return fmt.Sprintf("%.4fx + %.4fy + %.4fz + %.4f = 0", m.A, m.B, m.C, m.D)
}

// planeFromNormal builds a canonical model from a (not necessarily unit)
// normal and a point on the plane. ok is false for a zero normal.
func planeFromNormal(n, on r3.Vector) (PlaneModel, bool) {
	norm := n.Norm()
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return PlaneModel{}, false
	}
	n = n.Mul(1 / norm)
	if n.Z < 0 || (n.Z == 0 && (n.Y < 0 || (n.Y == 0 && n.X < 0))) {
		n = n.Mul(-1)
	}
	return PlaneModel{A: n.X, B: n.Y, C: n.Z, D: -n.Dot(on)}, true
}

// PlaneFromPoints returns the plane through three points. ok is false when
// the points are collinear or coincident.
func PlaneFromPoints(p0, p1, p2 r3.Vector) (PlaneModel, bool) {
	e1 := p1.Sub(p0)
	e2 := p2.Sub(p0)
	cross := e1.Cross(e2)
	if cross.Norm() <= collinearEpsilon*e1.Norm()*e2.Norm() {
		return PlaneModel{}, false
	}
	return planeFromNormal(cross, p0)
}

// FitPlane computes the least-squares plane through points: it passes
// through the centroid and its normal is the eigenvector of the smallest
// eigenvalue of the scatter matrix. The result depends only on the input
// values and order.
func FitPlane(points []r3.Vector) (PlaneModel, error) {
	if len(points) < 3 {
		return PlaneModel{}, fmt.Errorf("%w: plane fit needs 3 points, got %d", ErrInsufficientData, len(points))
	}

	var c r3.Vector
	for _, p := range points {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(points)))

	var xx, xy, xz, yy, yz, zz float64
	for _, p := range points {
		d := p.Sub(c)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	scatter := mat.NewSymDense(3, []float64{
		xx, xy, xz,
		xy, yy, yz,
		xz, yz, zz,
	})

	var es mat.EigenSym
	if ok := es.Factorize(scatter, true); !ok {
		return PlaneModel{}, fmt.Errorf("%w: eigen decomposition of scatter matrix failed", ErrNoPlaneFound)
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Eigenvalues are ascending, so column 0 is the normal.
	n := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	model, ok := planeFromNormal(n, c)
	if !ok {
		return PlaneModel{}, fmt.Errorf("%w: degenerate plane normal", ErrNoPlaneFound)
	}
	return model, nil
}
