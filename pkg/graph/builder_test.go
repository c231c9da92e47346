package graph

import (
	"errors"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func seg(x1, y1, z1, x2, y2, z2 float64) Segment {
	return Segment{Start: r3.Vec{X: x1, Y: y1, Z: z1}, End: r3.Vec{X: x2, Y: y2, Z: z2}}
}

// gridMesh returns the segments of an n×n lattice with unit spacing, each
// endpoint jittered by less than tol/4 per axis and the segment order
// shuffled.
func gridMesh(n int, tol float64, seed int64) []Segment {
	rng := rand.New(rand.NewSource(seed))
	jitter := func(v r3.Vec) r3.Vec {
		return r3.Vec{
			X: v.X + (rng.Float64()-0.5)*tol/2,
			Y: v.Y + (rng.Float64()-0.5)*tol/2,
			Z: v.Z + (rng.Float64()-0.5)*tol/2,
		}
	}

	var segs []Segment
	for row := 0; row < n; row++ {
		for col := 0; col < n-1; col++ {
			a := r3.Vec{X: float64(col), Y: float64(row)}
			b := r3.Vec{X: float64(col + 1), Y: float64(row)}
			segs = append(segs, Segment{Start: jitter(a), End: jitter(b), Source: len(segs)})
		}
	}
	for row := 0; row < n-1; row++ {
		for col := 0; col < n; col++ {
			a := r3.Vec{X: float64(col), Y: float64(row)}
			b := r3.Vec{X: float64(col), Y: float64(row + 1)}
			segs = append(segs, Segment{Start: jitter(a), End: jitter(b), Source: len(segs)})
		}
	}
	rng.Shuffle(len(segs), func(i, j int) { segs[i], segs[j] = segs[j], segs[i] })
	return segs
}

func TestBuildSimpleGraph(t *testing.T) {
	// Triangle with endpoints that differ by less than the tolerance.
	segs := []Segment{
		seg(0, 0, 0, 1, 0, 0),
		seg(1.001, 0, 0, 0, 1, 0),
		seg(0, 1.001, 0, 0.0005, 0, 0),
	}

	g, err := Build(segs, BuildOptions{Tolerance: 0.01})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if g.NumNodes() != 3 {
		t.Fatalf("NumNodes = %d, want 3", g.NumNodes())
	}
	if g.NumEdges() != 3 {
		t.Fatalf("NumEdges = %d, want 3", g.NumEdges())
	}

	// Every node of a triangle has exactly 2 neighbours.
	for i, n := range g.Nodes {
		if len(n.Neighbors) != 2 {
			t.Errorf("node %d has %d neighbours, want 2", i, len(n.Neighbors))
		}
		if n.Index != i {
			t.Errorf("node %d has Index %d", i, n.Index)
		}
	}

	// Node order is first-encounter order; positions are the first inserted point.
	if g.Nodes[1].Position != (r3.Vec{X: 1}) {
		t.Errorf("node 1 position = %v, want (1,0,0)", g.Nodes[1].Position)
	}
	if g.Edges[2].End != g.Nodes[0] {
		t.Errorf("edge 2 does not close the loop on node 0")
	}
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build(nil, BuildOptions{Tolerance: 0.01})
	if !errors.Is(err, ErrNoSegments) {
		t.Errorf("err = %v, want ErrNoSegments", err)
	}
}

func TestBuildSelfLoopNeighbours(t *testing.T) {
	g, err := Build([]Segment{seg(0, 0, 0, 0, 0, 0.001)}, BuildOptions{Tolerance: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if g.NumNodes() != 1 {
		t.Fatalf("NumNodes = %d, want 1", g.NumNodes())
	}
	n := g.Nodes[0]
	if len(n.Neighbors) != 2 || n.Neighbors[0] != n || n.Neighbors[1] != n {
		t.Errorf("self loop neighbours = %v, want node twice", n.Neighbors)
	}
}

func TestBuildPreservesEdgeOrderAndSource(t *testing.T) {
	segs := gridMesh(4, 0.01, 1)
	for _, strategy := range []Strategy{StrategySequential, StrategyParallel} {
		g, err := Build(segs, BuildOptions{Tolerance: 0.01, Strategy: strategy, Workers: 4})
		if err != nil {
			t.Fatal(err)
		}
		for i, e := range g.Edges {
			if e.Source != segs[i].Source {
				t.Errorf("%s: edge %d source = %v, want %v", strategy, i, e.Source, segs[i].Source)
			}
		}
	}
}

func TestBuildIdempotent(t *testing.T) {
	segs := gridMesh(6, 0.01, 2)
	opts := BuildOptions{Tolerance: 0.01, Strategy: StrategySequential}

	g1, err := Build(segs, opts)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := Build(segs, opts)
	if err != nil {
		t.Fatal(err)
	}

	if g1.NumNodes() != g2.NumNodes() {
		t.Fatalf("node count differs: %d vs %d", g1.NumNodes(), g2.NumNodes())
	}
	for i := range g1.Nodes {
		if g1.Nodes[i].Position != g2.Nodes[i].Position {
			t.Errorf("node %d position differs: %v vs %v", i, g1.Nodes[i].Position, g2.Nodes[i].Position)
		}
	}
	for i := range g1.Edges {
		if g1.Edges[i].Start.Index != g2.Edges[i].Start.Index || g1.Edges[i].End.Index != g2.Edges[i].End.Index {
			t.Errorf("edge %d connectivity differs", i)
		}
	}
}

func TestStrategyEquivalence(t *testing.T) {
	// 13×13 lattice: 169 nodes, 312 segments, above the parallel threshold.
	const tol = 0.01
	segs := gridMesh(13, tol, 3)

	seq, err := Build(segs, BuildOptions{Tolerance: tol, Strategy: StrategySequential})
	if err != nil {
		t.Fatal(err)
	}
	par, err := Build(segs, BuildOptions{Tolerance: tol, Strategy: StrategyParallel, Workers: 8})
	if err != nil {
		t.Fatal(err)
	}

	if seq.NumNodes() != 169 || par.NumNodes() != 169 {
		t.Fatalf("NumNodes = %d (seq), %d (par), want 169", seq.NumNodes(), par.NumNodes())
	}
	if seq.NumEdges() != par.NumEdges() {
		t.Fatalf("NumEdges = %d (seq), %d (par)", seq.NumEdges(), par.NumEdges())
	}

	// Same merge groups: the endpoint-to-node mapping must be a bijection.
	seqToPar := make(map[*Node]*Node)
	parToSeq := make(map[*Node]*Node)
	check := func(a, b *Node, i int) {
		if m, ok := seqToPar[a]; ok && m != b {
			t.Errorf("edge %d: sequential node maps to two parallel nodes", i)
		}
		if m, ok := parToSeq[b]; ok && m != a {
			t.Errorf("edge %d: parallel node maps to two sequential nodes", i)
		}
		seqToPar[a] = b
		parToSeq[b] = a
	}
	for i := range seq.Edges {
		check(seq.Edges[i].Start, par.Edges[i].Start, i)
		check(seq.Edges[i].End, par.Edges[i].End, i)
	}

	for i, n := range par.Nodes {
		if n.Index != i {
			t.Errorf("parallel node %d has Index %d", i, n.Index)
		}
		if got, want := len(n.Neighbors), len(parToSeq[n].Neighbors); got != want {
			t.Errorf("parallel node %d has %d neighbours, sequential has %d", i, got, want)
		}
	}
}

func TestStrategyResolution(t *testing.T) {
	tests := []struct {
		name string
		opts BuildOptions
		n    int
		want Strategy
	}{
		{"small input", BuildOptions{Workers: 8}, 10, StrategySequential},
		{"at threshold", BuildOptions{Workers: 8}, DefaultParallelThreshold, StrategyParallel},
		{"single lane", BuildOptions{Workers: 1}, 10_000, StrategySequential},
		{"custom threshold", BuildOptions{Workers: 2, ParallelThreshold: 4}, 4, StrategyParallel},
		{"forced", BuildOptions{Strategy: StrategySequential, Workers: 8}, 10_000, StrategySequential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.resolve(tt.n); got != tt.want {
				t.Errorf("resolve(%d) = %s, want %s", tt.n, got, tt.want)
			}
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{StrategyAuto, StrategySequential, StrategyParallel} {
		got, err := ParseStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStrategy("greedy"); err == nil {
		t.Error("ParseStrategy(greedy) should fail")
	}
}

func TestBuildCoordinateRange(t *testing.T) {
	// Finite, but x/tol does not fit a cell key.
	far := make([]Segment, 300)
	for i := range far {
		x := 1e20 + float64(i)*1e6
		far[i] = seg(x, 0, 0, x, 1, 0)
	}

	for _, strategy := range []Strategy{StrategySequential, StrategyParallel, StrategyAuto} {
		t.Run(strategy.String(), func(t *testing.T) {
			_, err := Build(far, BuildOptions{Tolerance: 0.01, Strategy: strategy, Workers: 4})
			if !errors.Is(err, ErrCoordinateRange) {
				t.Fatalf("err = %v, want ErrCoordinateRange", err)
			}
			var ce *CoordinateError
			if !errors.As(err, &ce) || ce.Segment != 0 {
				t.Errorf("err = %#v, want segment 0", err)
			}
		})
	}

	// Exact matching has no cell keys, so the same input builds.
	g, err := Build(far, BuildOptions{Tolerance: 0, Strategy: StrategyParallel, Workers: 4})
	if err != nil {
		t.Fatalf("exact build: %v", err)
	}
	if g.NumNodes() != 600 {
		t.Errorf("nodes = %d, want 600", g.NumNodes())
	}
}

func TestResolveParallelReportsBadEndpoint(t *testing.T) {
	segs := []Segment{seg(0, 0, 0, 1, 0, 0), seg(1, 0, 0, 1e20, 0, 0)}
	_, _, err := resolveParallel(segs, 0.01, 2)
	var ce *CoordinateError
	if !errors.As(err, &ce) || ce.Segment != 1 {
		t.Fatalf("err = %v, want CoordinateError for segment 1", err)
	}
}
