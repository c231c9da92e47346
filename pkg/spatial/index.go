package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Cell is the integer coordinate of a cubic grid cell of side tol.
type Cell [3]int64

// MaxCellCoord bounds |coord/tol| so that cell keys and their neighbours fit
// in an int64 without wrapping.
const MaxCellCoord = 1 << 62

// InRange reports whether every coordinate of p maps to a representable cell
// for cell side tol. Any finite point is in range when tol <= 0.
func InRange(p r3.Vec, tol float64) bool {
	for _, c := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
		if tol > 0 && math.Abs(c/tol) > MaxCellCoord {
			return false
		}
	}
	return true
}

// CellOf returns the cell containing p for cell side tol. p must be InRange.
func CellOf(p r3.Vec, tol float64) Cell {
	return Cell{
		int64(math.Floor(p.X / tol)),
		int64(math.Floor(p.Y / tol)),
		int64(math.Floor(p.Z / tol)),
	}
}

// within reports whether a and b are no further than sqrt(tolSq) apart.
func within(a, b r3.Vec, tolSq float64) bool {
	return r3.Norm2(r3.Sub(a, b)) <= tolSq
}

// Index is a tolerance-bucketed spatial hash over 3D points.
//
// Matching is pairwise against points already registered: a new point merges
// with the first registered point within tol in its 3x3x3 cell neighbourhood.
// Chains of points that are each within tol of the next are not merged
// transitively, so node identity can depend on insertion order near the
// tolerance boundary.
type Index struct {
	tol    float64
	tolSq  float64
	cells  map[Cell][]int32
	points []r3.Vec
}

// NewIndex creates an empty index. A tol <= 0 selects exact coordinate
// matching via a linear scan.
func NewIndex(tol float64) *Index {
	ix := &Index{tol: tol, tolSq: tol * tol}
	if tol > 0 {
		ix.cells = make(map[Cell][]int32)
	}
	return ix
}

// Tolerance returns the merge tolerance.
func (ix *Index) Tolerance() float64 { return ix.tol }

// Len returns the number of registered points.
func (ix *Index) Len() int { return len(ix.points) }

// Point returns the registered point with the given id.
func (ix *Index) Point(id int) r3.Vec { return ix.points[id] }

// Find returns the id of the first registered point within tolerance of p.
func (ix *Index) Find(p r3.Vec) (int, bool) {
	if ix.tol <= 0 {
		for i, q := range ix.points {
			if q == p {
				return i, true
			}
		}
		return -1, false
	}

	best := int32(-1)
	c := CellOf(p, ix.tol)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				for _, id := range ix.cells[Cell{c[0] + dx, c[1] + dy, c[2] + dz}] {
					// Lowest id is the earliest insertion.
					if (best < 0 || id < best) && within(ix.points[id], p, ix.tolSq) {
						best = id
					}
				}
			}
		}
	}
	if best < 0 {
		return -1, false
	}
	return int(best), true
}

// GetOrInsert returns the id of an existing point within tolerance of p, or
// registers p and returns its new id.
func (ix *Index) GetOrInsert(p r3.Vec) (id int, inserted bool) {
	if id, ok := ix.Find(p); ok {
		return id, false
	}
	id = len(ix.points)
	ix.points = append(ix.points, p)
	if ix.tol > 0 {
		c := CellOf(p, ix.tol)
		ix.cells[c] = append(ix.cells[c], int32(id))
	}
	return id, true
}
