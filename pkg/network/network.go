// Package network partitions a built graph into free and fixed nodes and
// validates the partition against the supplied anchor positions.
package network

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/tidwall/rtree"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/graph"
)

// MinAnchors is the minimum number of anchors a solvable network needs.
const MinAnchors = 2

// ErrSolutionShape is returned by WithSolution when the solved arrays do not
// match the network.
var ErrSolutionShape = errors.New("network: solution arrays do not match network size")

// Options configures Build.
type Options struct {
	Build           graph.BuildOptions
	AnchorTolerance float64
}

// Network is a graph whose nodes are ordered free first, fixed last.
//
// A valid network is treated as immutable; WithSolution returns a new one.
// The only mutable state is the updating guard.
type Network struct {
	Graph           *graph.Graph
	Anchors         []r3.Vec
	AnchorTolerance float64
	FreeNodes       []int
	FixedNodes      []int
	Valid           bool

	// Anchors that matched no node, and anchors that landed on a node
	// already claimed by an earlier anchor.
	Unmatched []int
	Collapsed []int

	tree     rtree.RTreeG[int]
	updating atomic.Bool
}

// Build constructs the graph from segments and partitions it.
func Build(segments []graph.Segment, anchors []r3.Vec, opts Options) (*Network, error) {
	g, err := graph.Build(segments, opts.Build)
	if err != nil {
		return nil, err
	}
	return New(g, anchors, opts.AnchorTolerance), nil
}

// New partitions g against anchors. Nodes within tol of an anchor are
// flagged as anchors and moved to the end of the node list; node indices are
// reassigned to the new order. g is modified in place.
func New(g *graph.Graph, anchors []r3.Vec, tol float64) *Network {
	n := &Network{
		Graph:           g,
		Anchors:         append([]r3.Vec(nil), anchors...),
		AnchorTolerance: tol,
	}
	n.indexNodes()
	n.partition()
	n.Valid = n.AnchorCheck() && n.NFCheck()
	return n
}

func (n *Network) indexNodes() {
	n.tree = rtree.RTreeG[int]{}
	for i, node := range n.Graph.Nodes {
		p := [2]float64{node.Position.X, node.Position.Y}
		n.tree.Insert(p, p, i)
	}
}

// nearest returns the position in Graph.Nodes of the node closest to p
// within the anchor tolerance.
func (n *Network) nearest(p r3.Vec) (int, bool) {
	tol := n.AnchorTolerance
	if tol < 0 {
		tol = 0
	}
	best, bestDist := -1, math.Inf(1)
	lo := [2]float64{p.X - tol, p.Y - tol}
	hi := [2]float64{p.X + tol, p.Y + tol}
	n.tree.Search(lo, hi, func(_, _ [2]float64, i int) bool {
		d := r3.Norm2(r3.Sub(n.Graph.Nodes[i].Position, p))
		if d <= tol*tol && (d < bestDist || (d == bestDist && i < best)) {
			best, bestDist = i, d
		}
		return true
	})
	return best, best >= 0
}

func (n *Network) partition() {
	nodes := n.Graph.Nodes
	fixed := make([]bool, len(nodes))
	var fixedOrder []*graph.Node

	for a, p := range n.Anchors {
		i, ok := n.nearest(p)
		if !ok {
			n.Unmatched = append(n.Unmatched, a)
			continue
		}
		if fixed[i] {
			n.Collapsed = append(n.Collapsed, a)
			continue
		}
		fixed[i] = true
		nodes[i].Anchor = true
		fixedOrder = append(fixedOrder, nodes[i])
	}

	ordered := make([]*graph.Node, 0, len(nodes))
	for i, node := range nodes {
		if !fixed[i] {
			node.Anchor = false
			ordered = append(ordered, node)
		}
	}
	numFree := len(ordered)
	ordered = append(ordered, fixedOrder...)

	n.FreeNodes = make([]int, 0, numFree)
	n.FixedNodes = make([]int, 0, len(fixedOrder))
	for i, node := range ordered {
		node.Index = i
		if i < numFree {
			n.FreeNodes = append(n.FreeNodes, i)
		} else {
			n.FixedNodes = append(n.FixedNodes, i)
		}
	}
	n.Graph.Nodes = ordered
	// Positions in the list changed; rebuild the search tree.
	n.indexNodes()
}

// AnchorCheck reports whether enough anchors were supplied.
func (n *Network) AnchorCheck() bool {
	return len(n.Anchors) >= MinAnchors
}

// NFCheck reports whether every anchor matched its own node and the free and
// fixed sets cover the graph.
func (n *Network) NFCheck() bool {
	return len(n.FixedNodes) == len(n.Anchors) &&
		len(n.FixedNodes)+len(n.FreeNodes) == len(n.Graph.Nodes)
}

// NumFree returns the number of free nodes.
func (n *Network) NumFree() int { return len(n.FreeNodes) }

// FindNode returns the node nearest to p within the anchor tolerance.
func (n *Network) FindNode(p r3.Vec) (*graph.Node, bool) {
	i, ok := n.nearest(p)
	if !ok {
		return nil, false
	}
	return n.Graph.Nodes[i], true
}

// TryBeginUpdate marks the network as being rebuilt. It returns false if an
// update is already in progress.
func (n *Network) TryBeginUpdate() bool {
	return n.updating.CompareAndSwap(false, true)
}

// EndUpdate clears the updating guard.
func (n *Network) EndUpdate() { n.updating.Store(false) }

// Updating reports whether an update is in progress.
func (n *Network) Updating() bool { return n.updating.Load() }

// WithSolution returns a new network with node positions taken from xyz
// (3 values per node, in node index order) and force densities from q.
func (n *Network) WithSolution(xyz, q []float64) (*Network, error) {
	g := n.Graph
	if len(xyz) != 3*len(g.Nodes) || len(q) != len(g.Edges) {
		return nil, fmt.Errorf("%w: xyz=%d (want %d), q=%d (want %d)",
			ErrSolutionShape, len(xyz), 3*len(g.Nodes), len(q), len(g.Edges))
	}

	c := g.Clone()
	for i, node := range c.Nodes {
		node.Position = r3.Vec{X: xyz[3*i], Y: xyz[3*i+1], Z: xyz[3*i+2]}
	}
	for i, e := range c.Edges {
		e.Q = q[i]
	}

	out := &Network{
		Graph:           c,
		Anchors:         append([]r3.Vec(nil), n.Anchors...),
		AnchorTolerance: n.AnchorTolerance,
		FreeNodes:       append([]int(nil), n.FreeNodes...),
		FixedNodes:      append([]int(nil), n.FixedNodes...),
		Valid:           n.Valid,
		Unmatched:       append([]int(nil), n.Unmatched...),
		Collapsed:       append([]int(nil), n.Collapsed...),
	}
	out.indexNodes()
	return out, nil
}
