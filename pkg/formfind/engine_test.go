package formfind

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/fdm"
	"form_finder/pkg/graph"
	"form_finder/pkg/network"
	"form_finder/pkg/solver"
)

func squareRequest() *Request {
	c := []r3.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	segs := make([]graph.Segment, 4)
	for i := range c {
		segs[i] = graph.Segment{Start: c[i], End: c[(i+1)%4], Source: i}
	}
	return &Request{
		Segments:        segs,
		Anchors:         []r3.Vec{c[0], c[2]},
		BuildTolerance:  0.01,
		AnchorTolerance: 0.01,
		Loads:           []r3.Vec{{}},
		Q:               []float64{10},
		Lower:           []float64{0.1},
		Upper:           []float64{math.Inf(1)},
	}
}

func TestSolveForwardSquare(t *testing.T) {
	e := NewEngine(solver.Reference{}, nil)
	res, err := e.Solve(context.Background(), squareRequest(), nil)
	require.NoError(t, err)

	g := res.Network.Graph
	require.Len(t, g.Nodes, 4)
	for _, i := range res.Network.FreeNodes {
		p := g.Nodes[i].Position
		assert.InDelta(t, 0.5, p.X, 1e-9)
		assert.InDelta(t, 0.5, p.Y, 1e-9)
		assert.InDelta(t, 0, p.Z, 1e-9)
	}
	fixed := res.Network.FixedNodes
	assert.Equal(t, r3.Vec{}, g.Nodes[fixed[0]].Position)
	assert.Equal(t, r3.Vec{X: 1, Y: 1}, g.Nodes[fixed[1]].Position)
	for _, edge := range g.Edges {
		assert.Equal(t, 10.0, edge.Q)
	}
	assert.Equal(t, int64(1), e.Stats().Solves)
}

func TestSolveInvalidNetwork(t *testing.T) {
	req := squareRequest()
	req.Anchors = append(req.Anchors, r3.Vec{X: 5, Y: 5})

	backend := &recordingBackend{}
	e := NewEngine(backend, nil)
	_, err := e.Solve(context.Background(), req, nil)

	var inv *InvalidNetworkError
	require.ErrorAs(t, err, &inv)
	assert.True(t, network.HasErrors(inv.Issues))
	assert.ErrorIs(t, err, fdm.ErrInvalidNetwork)
	assert.Zero(t, backend.creates, "invalid network must not reach the solver")
	assert.Equal(t, int64(1), e.Stats().Failures)
}

func TestSolveNoSegments(t *testing.T) {
	e := NewEngine(solver.Reference{}, nil)
	_, err := e.Solve(context.Background(), &Request{}, nil)
	assert.ErrorIs(t, err, graph.ErrNoSegments)
}

func TestSolveOptimizeResolvesOrdinals(t *testing.T) {
	req := squareRequest()
	req.Optimize = true
	req.Objectives = []ObjectiveSpec{
		{Kind: fdm.TargetLength, Weight: 1, Edges: []int{2, 0}, Values: []float64{0.5}},
		{Kind: fdm.TargetXYZ, Weight: 1, Nodes: []r3.Vec{{X: 0, Y: 1}}, Vectors: []r3.Vec{{X: 0.5, Y: 0.5}}},
	}
	backend := &recordingBackend{}
	_, err := NewEngine(backend, nil).Solve(context.Background(), req, nil)
	require.NoError(t, err)

	require.Len(t, backend.objectives, 2)
	assert.Equal(t, []int{2, 0}, backend.objectives[0].Indices)
	assert.Equal(t, []float64{0.5, 0.5}, backend.objectives[0].Values)
	// (0,1) is the second free node after partitioning.
	assert.Equal(t, []int{1}, backend.objectives[1].Indices)
	assert.True(t, backend.optimized)
}

func TestSolveObjectiveErrors(t *testing.T) {
	tests := []struct {
		name    string
		spec    ObjectiveSpec
		element string
	}{
		{"edge ordinal out of range", ObjectiveSpec{Kind: fdm.TargetLength, Edges: []int{0, 9}, Values: []float64{1}}, "edge"},
		{"node not found", ObjectiveSpec{Kind: fdm.TargetXYZ, Nodes: []r3.Vec{{X: 3, Y: 3}}}, "node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := squareRequest()
			req.Optimize = true
			req.Objectives = []ObjectiveSpec{tt.spec}
			_, err := NewEngine(solver.Reference{}, nil).Solve(context.Background(), req, nil)
			var rerr *fdm.ResolutionError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.element, rerr.Element)
		})
	}
}

func TestSolveObjectivesIgnoredWithoutOptimize(t *testing.T) {
	req := squareRequest()
	req.Objectives = []ObjectiveSpec{{Kind: fdm.SumForceLength, Weight: 1}}
	backend := &recordingBackend{}
	_, err := NewEngine(backend, nil).Solve(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, backend.objectives)
	assert.False(t, backend.optimized)
}

func TestSolveNetworkBusy(t *testing.T) {
	req := squareRequest()
	net, err := network.Build(req.Segments, req.Anchors, req.networkOptions())
	require.NoError(t, err)
	require.True(t, net.TryBeginUpdate())

	_, err = NewEngine(solver.Reference{}, nil).SolveNetwork(context.Background(), net, req, nil)
	assert.ErrorIs(t, err, ErrBusy)

	net.EndUpdate()
	_, err = NewEngine(solver.Reference{}, nil).SolveNetwork(context.Background(), net, req, nil)
	assert.NoError(t, err)
	assert.False(t, net.Updating())
}

func TestSolveCached(t *testing.T) {
	backend := &recordingBackend{}
	e := NewEngine(backend, NewCache(4))

	first, err := e.Solve(context.Background(), squareRequest(), nil)
	require.NoError(t, err)
	second, err := e.Solve(context.Background(), squareRequest(), nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, backend.creates)
	assert.Equal(t, int64(1), e.Stats().CacheHits)
}

func TestSolveEmptyLoads(t *testing.T) {
	req := squareRequest()
	req.Loads = nil
	_, err := NewEngine(solver.Reference{}, nil).Solve(context.Background(), req, nil)
	assert.True(t, errors.Is(err, fdm.ErrEmptyLoads), "err = %v", err)
}

// recordingBackend wraps the reference backend and records what crosses
// the boundary.
type recordingBackend struct {
	creates    int
	objectives []fdm.Resolved
	optimized  bool
}

type recordingHandle struct {
	solver.Handle
	b *recordingBackend
}

func (b *recordingBackend) Create(p *fdm.Problem) (solver.Handle, error) {
	b.creates++
	h, err := solver.Reference{}.Create(p)
	if err != nil {
		return nil, err
	}
	return &recordingHandle{Handle: h, b: b}, nil
}

func (h *recordingHandle) AddObjective(o fdm.Resolved) error {
	h.b.objectives = append(h.b.objectives, o)
	return h.Handle.AddObjective(o)
}

func (h *recordingHandle) Optimize() (*solver.Result, error) {
	h.b.optimized = true
	return h.Handle.Optimize()
}
