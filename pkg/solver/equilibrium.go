package solver

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"form_finder/pkg/fdm"
)

// errSingular is returned when the free-node stiffness matrix cannot be solved.
var errSingular = &Error{Op: "solve", Status: StatusSingular, Message: "equilibrium matrix is singular"}

// equilibrium caches the topology of a problem for repeated solves with
// different force densities.
type equilibrium struct {
	p     *fdm.Problem
	start []int // node index per edge
	end   []int
	free  []int // node index -> free slot, -1 when fixed
	fixed []int // node index -> fixed slot, -1 when free
}

// state is the network geometry for one force density vector.
type state struct {
	q         []float64
	xyz       []float64 // 3 per node
	lengths   []float64
	forces    []float64
	reactions []float64 // 3 per node
}

func newEquilibrium(p *fdm.Problem) *equilibrium {
	eq := &equilibrium{
		p:     p,
		start: make([]int, p.NumEdges),
		end:   make([]int, p.NumEdges),
		free:  make([]int, p.NumNodes),
		fixed: make([]int, p.NumNodes),
	}
	for k := range p.Rows {
		if p.Vals[k] < 0 {
			eq.start[p.Rows[k]] = p.Cols[k]
		} else {
			eq.end[p.Rows[k]] = p.Cols[k]
		}
	}
	for i := range eq.free {
		eq.free[i], eq.fixed[i] = -1, -1
	}
	for slot, n := range p.FreeNodes {
		eq.free[n] = slot
	}
	for slot, n := range p.FixedNodes {
		eq.fixed[n] = slot
	}
	return eq
}

// solve computes free node positions from (Cfᵀ Q Cf) x = p − Cfᵀ Q Cx x_fixed
// and derives lengths, forces and reactions.
func (eq *equilibrium) solve(q []float64) (*state, error) {
	p := eq.p
	nf := p.NumFree
	s := &state{
		q:         q,
		xyz:       make([]float64, 3*p.NumNodes),
		lengths:   make([]float64, p.NumEdges),
		forces:    make([]float64, p.NumEdges),
		reactions: make([]float64, 3*p.NumNodes),
	}
	for slot, n := range p.FixedNodes {
		copy(s.xyz[3*n:3*n+3], p.FixedPositions[3*slot:3*slot+3])
	}

	if nf > 0 {
		d := mat.NewSymDense(nf, nil)
		rhs := mat.NewDense(nf, 3, nil)
		for i := 0; i < nf; i++ {
			for c := 0; c < 3; c++ {
				rhs.Set(i, c, p.Loads[3*i+c])
			}
		}
		for e, qe := range q {
			a, b := eq.start[e], eq.end[e]
			if a == b {
				// Its incidence row sums to zero.
				continue
			}
			fa, fb := eq.free[a], eq.free[b]
			switch {
			case fa >= 0 && fb >= 0:
				d.SetSym(fa, fa, d.At(fa, fa)+qe)
				d.SetSym(fb, fb, d.At(fb, fb)+qe)
				d.SetSym(fa, fb, d.At(fa, fb)-qe)
			case fa >= 0:
				d.SetSym(fa, fa, d.At(fa, fa)+qe)
				eq.addFixed(rhs, fa, b, qe)
			case fb >= 0:
				d.SetSym(fb, fb, d.At(fb, fb)+qe)
				eq.addFixed(rhs, fb, a, qe)
			}
		}

		x, err := solveSym(d, rhs)
		if err != nil {
			return nil, err
		}
		for slot, n := range p.FreeNodes {
			for c := 0; c < 3; c++ {
				s.xyz[3*n+c] = x.At(slot, c)
			}
		}
	}

	for e, qe := range q {
		a, b := eq.start[e], eq.end[e]
		var l2 float64
		var dv [3]float64
		for c := 0; c < 3; c++ {
			dv[c] = s.xyz[3*b+c] - s.xyz[3*a+c]
			l2 += dv[c] * dv[c]
		}
		s.lengths[e] = math.Sqrt(l2)
		s.forces[e] = qe * s.lengths[e]
		for c := 0; c < 3; c++ {
			if eq.fixed[a] >= 0 {
				s.reactions[3*a+c] -= qe * dv[c]
			}
			if eq.fixed[b] >= 0 {
				s.reactions[3*b+c] += qe * dv[c]
			}
		}
	}
	return s, nil
}

func (eq *equilibrium) addFixed(rhs *mat.Dense, row, fixedNode int, q float64) {
	slot := eq.fixed[fixedNode]
	for c := 0; c < 3; c++ {
		rhs.Set(row, c, rhs.At(row, c)+q*eq.p.FixedPositions[3*slot+c])
	}
}

// solveSym tries a Cholesky factorization and falls back to LU when the
// matrix is not positive definite, which happens with compressive densities.
func solveSym(a *mat.SymDense, b *mat.Dense) (*mat.Dense, error) {
	var ch mat.Cholesky
	if ch.Factorize(a) {
		var x mat.Dense
		if err := ch.SolveTo(&x, b); err == nil {
			return &x, nil
		}
	}
	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, errSingular
		}
	}
	for _, v := range x.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errSingular
		}
	}
	return &x, nil
}
