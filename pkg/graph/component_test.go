package graph

import (
	"testing"
)

func TestUnionFindBasic(t *testing.T) {
	uf := NewUnionFind(5)

	for i := 0; i < 5; i++ {
		if uf.Find(i) != i {
			t.Errorf("Find(%d) = %d, want %d", i, uf.Find(i), i)
		}
	}

	if !uf.Union(0, 1) {
		t.Error("Union(0,1) should return true")
	}
	if uf.Find(0) != uf.Find(1) {
		t.Error("0 and 1 should be in same set")
	}
	if uf.Union(0, 1) {
		t.Error("Union(0,1) again should return false")
	}

	uf.Union(2, 3)
	uf.Union(1, 3)
	if uf.Find(0) != uf.Find(3) {
		t.Error("0 and 3 should be in same set after transitive union")
	}
	if uf.Size(2) != 4 {
		t.Errorf("Size(2) = %d, want 4", uf.Size(2))
	}
	if uf.Find(4) == uf.Find(0) {
		t.Error("4 should be in its own set")
	}
}

func TestComponents(t *testing.T) {
	// Two disconnected pieces: a path 0-1-2 and a single edge 3-4.
	segs := []Segment{
		seg(0, 0, 0, 1, 0, 0),
		seg(10, 0, 0, 11, 0, 0),
		seg(1, 0, 0, 2, 0, 0),
	}
	g, err := Build(segs, BuildOptions{Tolerance: 0.01})
	if err != nil {
		t.Fatal(err)
	}

	comps := Components(g)
	if len(comps) != 2 {
		t.Fatalf("len(Components) = %d, want 2", len(comps))
	}
	if len(comps[0]) != 3 {
		t.Errorf("first component has %d nodes, want 3", len(comps[0]))
	}
	if len(comps[1]) != 2 {
		t.Errorf("second component has %d nodes, want 2", len(comps[1]))
	}
}

func TestComponentsEmpty(t *testing.T) {
	if comps := Components(&Graph{}); comps != nil {
		t.Errorf("Components(empty) = %v, want nil", comps)
	}
}

func TestClone(t *testing.T) {
	g, err := Build([]Segment{seg(0, 0, 0, 1, 0, 0), seg(1, 0, 0, 1, 1, 0)}, BuildOptions{Tolerance: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	g.Edges[0].Q = 3

	c := g.Clone()
	if c.Nodes[0] == g.Nodes[0] {
		t.Fatal("Clone shares node pointers")
	}
	if c.Edges[0].Start != c.Nodes[0] || c.Edges[1].Start != c.Nodes[1] {
		t.Error("cloned edges do not reference cloned nodes")
	}
	if c.Edges[0].Q != 3 {
		t.Errorf("cloned Q = %v, want 3", c.Edges[0].Q)
	}
	if len(c.Nodes[1].Neighbors) != 2 || c.Nodes[1].Neighbors[0] != c.Nodes[0] {
		t.Error("cloned neighbours not remapped")
	}
}
