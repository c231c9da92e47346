package formfind

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"form_finder/pkg/fdm"
	"form_finder/pkg/network"
	"form_finder/pkg/solver"
)

// ErrBusy is returned when the network is already being solved.
var ErrBusy = errors.New("formfind: network update already in progress")

// Solver is the interface for form finding jobs.
type Solver interface {
	Solve(ctx context.Context, req *Request, progress solver.ProgressFunc) (*Result, error)
}

// Stats counts engine activity since start.
type Stats struct {
	Solves    int64 `json:"solves"`
	CacheHits int64 `json:"cache_hits"`
	Failures  int64 `json:"failures"`
	Cancelled int64 `json:"cancelled"`
}

// Engine implements Solver on top of a solver backend.
type Engine struct {
	backend solver.Backend
	cache   *Cache // nil disables caching

	solves, hits, failures, cancelled atomic.Int64
}

// NewEngine creates an engine. cache may be nil.
func NewEngine(backend solver.Backend, cache *Cache) *Engine {
	return &Engine{backend: backend, cache: cache}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Solves:    e.solves.Load(),
		CacheHits: e.hits.Load(),
		Failures:  e.failures.Load(),
		Cancelled: e.cancelled.Load(),
	}
}

// Solve builds the network described by req and solves it.
func (e *Engine) Solve(ctx context.Context, req *Request, progress solver.ProgressFunc) (*Result, error) {
	var key uint64
	if e.cache != nil {
		key = Key(req)
		if res, ok := e.cache.Get(key); ok {
			e.hits.Add(1)
			return res, nil
		}
	}

	start := time.Now()
	net, err := network.Build(req.Segments, req.Anchors, req.networkOptions())
	if err != nil {
		e.failures.Add(1)
		return nil, fmt.Errorf("building network: %w", err)
	}
	log.Printf("Built network: %d nodes, %d edges, %d free (%v)",
		net.Graph.NumNodes(), net.Graph.NumEdges(), net.NumFree(), time.Since(start))

	res, err := e.SolveNetwork(ctx, net, req, progress)
	if err != nil {
		return nil, err
	}
	if e.cache != nil && !res.Solution.Cancelled {
		e.cache.Put(key, res)
	}
	return res, nil
}

// SolveNetwork solves an already built network with the parameters and
// objectives of req. Segment and anchor fields of req are ignored except
// that objective edge ordinals index net's edges, which follow input order.
func (e *Engine) SolveNetwork(ctx context.Context, net *network.Network, req *Request, progress solver.ProgressFunc) (*Result, error) {
	res, err := e.solveNetwork(ctx, net, req, progress)
	switch {
	case err == nil && res.Solution.Cancelled:
		e.cancelled.Add(1)
	case err == nil:
		e.solves.Add(1)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		e.cancelled.Add(1)
	default:
		e.failures.Add(1)
	}
	return res, err
}

func (e *Engine) solveNetwork(ctx context.Context, net *network.Network, req *Request, progress solver.ProgressFunc) (*Result, error) {
	issues := net.Diagnostics()
	if !net.Valid {
		return nil, &InvalidNetworkError{Issues: issues}
	}
	for _, is := range issues {
		log.Printf("Network %s", is)
	}

	if !net.TryBeginUpdate() {
		return nil, ErrBusy
	}
	defer net.EndUpdate()

	problem, err := fdm.Assemble(net, req.parameters())
	if err != nil {
		return nil, err
	}

	var resolved []fdm.Resolved
	if req.Optimize {
		objs, err := objectives(net, req.Objectives)
		if err != nil {
			return nil, err
		}
		if resolved, err = fdm.NewContext(net).ResolveAll(objs); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	sol, err := solver.Run(ctx, e.backend, problem, resolved, req.options(), progress)
	if err != nil {
		return nil, err
	}
	log.Printf("Solved %d objectives in %d iterations (converged=%v, %v)",
		len(resolved), sol.Iterations, sol.Converged, time.Since(start))

	solved, err := net.WithSolution(sol.XYZ, sol.Q)
	if err != nil {
		return nil, err
	}
	return &Result{Network: solved, Solution: sol, Diagnostics: issues}, nil
}

// objectives maps request-level objective specs onto network elements.
func objectives(net *network.Network, specs []ObjectiveSpec) ([]fdm.Objective, error) {
	g := net.Graph
	out := make([]fdm.Objective, len(specs))
	for i, s := range specs {
		o := fdm.Objective{
			Kind:      s.Kind,
			Weight:    s.Weight,
			Values:    s.Values,
			Vectors:   s.Vectors,
			Sharpness: s.Sharpness,
		}
		for k, ord := range s.Edges {
			if ord < 0 || ord >= len(g.Edges) {
				return nil, fmt.Errorf("objective %d: %w", i, &fdm.ResolutionError{Kind: s.Kind, Element: "edge", Ordinal: k})
			}
			o.Edges = append(o.Edges, g.Edges[ord])
		}
		for k, p := range s.Nodes {
			n, ok := net.FindNode(p)
			if !ok {
				return nil, fmt.Errorf("objective %d: %w", i, &fdm.ResolutionError{Kind: s.Kind, Element: "node", Ordinal: k})
			}
			o.Nodes = append(o.Nodes, n)
		}
		out[i] = o
	}
	return out, nil
}

var _ Solver = (*Engine)(nil)
