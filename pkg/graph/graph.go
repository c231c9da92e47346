package graph

import "gonum.org/v1/gonum/spatial/r3"

// Segment is one input curve reduced to its endpoints.
type Segment struct {
	Start  r3.Vec
	End    r3.Vec
	Source any // opaque reference to the originating geometry
}

// Node is a merged curve endpoint.
type Node struct {
	Position  r3.Vec
	Anchor    bool
	Index     int     // creation order until partitioning, then free-first order
	Neighbors []*Node // one entry per incident edge end
}

// Edge is a directed member between two nodes of the same graph.
type Edge struct {
	Start  *Node
	End    *Node
	Q      float64 // force density
	Source any
}

// Length returns the distance between the edge's endpoints.
func (e *Edge) Length() float64 {
	return r3.Norm(r3.Sub(e.End.Position, e.Start.Position))
}

// Graph owns the node and edge lists of one network. Edges appear in input
// segment order.
type Graph struct {
	Nodes     []*Node
	Edges     []*Edge
	Tolerance float64 // endpoint merge tolerance used to build the graph
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return len(g.Nodes) }

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int { return len(g.Edges) }

// Clone returns a deep copy with fresh Node and Edge values. Sources are
// shared.
func (g *Graph) Clone() *Graph {
	nodes := make([]*Node, len(g.Nodes))
	remap := make(map[*Node]*Node, len(g.Nodes))
	for i, n := range g.Nodes {
		c := &Node{Position: n.Position, Anchor: n.Anchor, Index: n.Index}
		nodes[i] = c
		remap[n] = c
	}
	for i, n := range g.Nodes {
		if len(n.Neighbors) == 0 {
			continue
		}
		nb := make([]*Node, len(n.Neighbors))
		for j, m := range n.Neighbors {
			nb[j] = remap[m]
		}
		nodes[i].Neighbors = nb
	}

	edges := make([]*Edge, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = &Edge{Start: remap[e.Start], End: remap[e.End], Q: e.Q, Source: e.Source}
	}
	return &Graph{Nodes: nodes, Edges: edges, Tolerance: g.Tolerance}
}
