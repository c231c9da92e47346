package spatial

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// regionSpan is the number of cells per axis grouped under one region lock.
const regionSpan = 4

// Region identifies a 4x4x4 block of cells sharing one lock.
type Region [3]int64

// RegionOf returns the region containing cell c.
func RegionOf(c Cell) Region {
	return Region{floorDiv(c[0], regionSpan), floorDiv(c[1], regionSpan), floorDiv(c[2], regionSpan)}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

type region struct {
	mu    sync.Mutex
	cells map[Cell][]int32
}

// ShardedIndex is the concurrent counterpart of Index. Points live in a
// single pre-sized arena owned by the index; ids are handed out by an atomic
// counter. Each region guards the cells inside it, and a lookup locks every
// region its 3x3x3 neighbourhood touches, in ascending region order.
type ShardedIndex struct {
	tol   float64
	tolSq float64

	regions sync.Map // Region -> *region
	arena   []r3.Vec
	next    atomic.Int32

	exactMu sync.Mutex // guards the tol <= 0 linear scan
}

// NewShardedIndex creates an index able to hold capacity points.
func NewShardedIndex(tol float64, capacity int) *ShardedIndex {
	return &ShardedIndex{
		tol:   tol,
		tolSq: tol * tol,
		arena: make([]r3.Vec, capacity),
	}
}

// Len returns the number of registered points.
func (ix *ShardedIndex) Len() int { return int(ix.next.Load()) }

// Points returns the registered points ordered by id. Only call once all
// concurrent insertions have finished.
func (ix *ShardedIndex) Points() []r3.Vec { return ix.arena[:ix.Len()] }

func (ix *ShardedIndex) region(key Region) *region {
	if v, ok := ix.regions.Load(key); ok {
		return v.(*region)
	}
	v, _ := ix.regions.LoadOrStore(key, &region{cells: make(map[Cell][]int32)})
	return v.(*region)
}

func (ix *ShardedIndex) alloc(p r3.Vec) int32 {
	id := ix.next.Add(1) - 1
	if int(id) >= len(ix.arena) {
		panic("spatial: sharded index arena capacity exceeded")
	}
	ix.arena[id] = p
	return id
}

// GetOrInsert returns the id of a registered point within tolerance of p, or
// registers p. Safe for concurrent use. p must be InRange for the index
// tolerance.
func (ix *ShardedIndex) GetOrInsert(p r3.Vec) (id int, inserted bool) {
	if ix.tol <= 0 {
		return ix.getOrInsertExact(p)
	}

	c := CellOf(p, ix.tol)
	lo := RegionOf(Cell{c[0] - 1, c[1] - 1, c[2] - 1})
	hi := RegionOf(Cell{c[0] + 1, c[1] + 1, c[2] + 1})
	ny := hi[1] - lo[1] + 1
	nz := hi[2] - lo[2] + 1

	// At most 2 regions per axis.
	var held [8]*region
	n := 0
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				r := ix.region(Region{x, y, z})
				r.mu.Lock()
				held[n] = r
				n++
			}
		}
	}
	defer func() {
		for i := n - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
	}()

	regionFor := func(cell Cell) *region {
		rk := RegionOf(cell)
		return held[(rk[0]-lo[0])*ny*nz+(rk[1]-lo[1])*nz+(rk[2]-lo[2])]
	}

	best := int32(-1)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				cell := Cell{c[0] + dx, c[1] + dy, c[2] + dz}
				for _, cand := range regionFor(cell).cells[cell] {
					if (best < 0 || cand < best) && within(ix.arena[cand], p, ix.tolSq) {
						best = cand
					}
				}
			}
		}
	}
	if best >= 0 {
		return int(best), false
	}

	nid := ix.alloc(p)
	home := regionFor(c)
	home.cells[c] = append(home.cells[c], nid)
	return int(nid), true
}

func (ix *ShardedIndex) getOrInsertExact(p r3.Vec) (int, bool) {
	ix.exactMu.Lock()
	defer ix.exactMu.Unlock()
	for i, q := range ix.arena[:ix.next.Load()] {
		if q == p {
			return i, false
		}
	}
	return int(ix.alloc(p)), true
}
