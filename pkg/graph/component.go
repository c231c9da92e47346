package graph

// UnionFind implements a disjoint-set data structure with path compression
// and union by rank.
type UnionFind struct {
	parent []int
	rank   []byte
	size   []int
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n int) *UnionFind {
	parent := make([]int, n)
	size := make([]int, n)
	for i := 0; i < n; i++ {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x, with path halving.
func (uf *UnionFind) Find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y int) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}
	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// Size returns the size of the set containing x.
func (uf *UnionFind) Size(x int) int {
	return uf.size[uf.Find(x)]
}

// Components groups node positions (indices into g.Nodes) into connected
// components, treating edges as undirected. Components are ordered by their
// first node; nodes inside a component keep list order.
func Components(g *Graph) [][]int {
	n := len(g.Nodes)
	if n == 0 {
		return nil
	}

	pos := make(map[*Node]int, n)
	for i, node := range g.Nodes {
		pos[node] = i
	}

	uf := NewUnionFind(n)
	for _, e := range g.Edges {
		uf.Union(pos[e.Start], pos[e.End])
	}

	slot := make(map[int]int)
	var comps [][]int
	for i := 0; i < n; i++ {
		root := uf.Find(i)
		k, ok := slot[root]
		if !ok {
			k = len(comps)
			slot[root] = k
			comps = append(comps, make([]int, 0, uf.Size(root)))
		}
		comps[k] = append(comps[k], i)
	}
	return comps
}
