// Package fdm turns a partitioned network into the flat arrays consumed by a
// force density equilibrium solver, and resolves design objectives into
// solver index sets.
package fdm

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/network"
)

var (
	ErrInvalidNetwork   = errors.New("fdm: network is not valid for solving")
	ErrEmptyLoads       = errors.New("fdm: load list is empty")
	ErrEmptyQ           = errors.New("fdm: initial force density list is empty")
	ErrEmptyLowerBounds = errors.New("fdm: lower bound list is empty")
	ErrEmptyUpperBounds = errors.New("fdm: upper bound list is empty")
)

// Parameters are the per-solve numeric inputs. Each list is broadcast to its
// target length by repeating the last element.
type Parameters struct {
	Loads []r3.Vec  // per free node
	Q     []float64 // per edge initial force densities
	Lower []float64 // per edge
	Upper []float64 // per edge
}

// Problem is everything handed across the solver boundary.
//
// The incidence matrix C (NumEdges × NumNodes) is stored in coordinate form:
// entry k is C[Rows[k]][Cols[k]] = Vals[k].
type Problem struct {
	NumEdges int
	NumNodes int
	NumFree  int

	Rows []int
	Cols []int
	Vals []float64

	FreeNodes  []int
	FixedNodes []int

	Loads          []float64 // 3 per free node
	FixedPositions []float64 // 3 per fixed node, FixedNodes order

	Q     []float64
	Lower []float64
	Upper []float64
}

// Assemble builds the solver inputs for a valid network.
func Assemble(net *network.Network, params Parameters) (*Problem, error) {
	if len(params.Loads) == 0 {
		return nil, ErrEmptyLoads
	}
	if len(params.Q) == 0 {
		return nil, ErrEmptyQ
	}
	if len(params.Lower) == 0 {
		return nil, ErrEmptyLowerBounds
	}
	if len(params.Upper) == 0 {
		return nil, ErrEmptyUpperBounds
	}
	if net == nil || !net.Valid {
		return nil, ErrInvalidNetwork
	}

	g := net.Graph
	ne := len(g.Edges)
	p := &Problem{
		NumEdges:   ne,
		NumNodes:   len(g.Nodes),
		NumFree:    len(net.FreeNodes),
		Rows:       make([]int, 0, 2*ne),
		Cols:       make([]int, 0, 2*ne),
		Vals:       make([]float64, 0, 2*ne),
		FreeNodes:  append([]int(nil), net.FreeNodes...),
		FixedNodes: append([]int(nil), net.FixedNodes...),
	}

	for e, edge := range g.Edges {
		p.Rows = append(p.Rows, e, e)
		p.Cols = append(p.Cols, edge.Start.Index, edge.End.Index)
		p.Vals = append(p.Vals, -1, 1)
	}

	var err error
	if p.Loads, err = BroadcastVec(params.Loads, p.NumFree); err != nil {
		return nil, fmt.Errorf("loads: %w", err)
	}

	p.FixedPositions = make([]float64, 0, 3*len(net.FixedNodes))
	for _, i := range net.FixedNodes {
		v := g.Nodes[i].Position
		p.FixedPositions = append(p.FixedPositions, v.X, v.Y, v.Z)
	}

	if p.Q, err = Broadcast(params.Q, ne); err != nil {
		return nil, fmt.Errorf("force densities: %w", err)
	}
	if p.Lower, err = Broadcast(params.Lower, ne); err != nil {
		return nil, fmt.Errorf("lower bounds: %w", err)
	}
	if p.Upper, err = Broadcast(params.Upper, ne); err != nil {
		return nil, fmt.Errorf("upper bounds: %w", err)
	}
	return p, nil
}

// NodePositions returns the flattened positions of every node of net, in
// node index order. Used as the starting geometry for result arrays.
func NodePositions(net *network.Network) []float64 {
	out := make([]float64, 0, 3*len(net.Graph.Nodes))
	for _, n := range net.Graph.Nodes {
		out = append(out, n.Position.X, n.Position.Y, n.Position.Z)
	}
	return out
}
