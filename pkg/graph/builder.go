package graph

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/spatial"
)

// ErrNoSegments is returned when Build receives no input curves.
var ErrNoSegments = errors.New("graph: no input segments")

// ErrCoordinateRange is returned when an endpoint is not finite or too far
// from the origin, relative to the tolerance, to be hashed.
var ErrCoordinateRange = errors.New("graph: coordinate out of range")

// CoordinateError reports the first segment with an unusable endpoint.
type CoordinateError struct {
	Segment int
	Point   r3.Vec
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("graph: segment %d: endpoint (%g, %g, %g) out of range", e.Segment, e.Point.X, e.Point.Y, e.Point.Z)
}

func (e *CoordinateError) Unwrap() error { return ErrCoordinateRange }

// DefaultParallelThreshold is the segment count at which StrategyAuto
// switches to the parallel builder.
const DefaultParallelThreshold = 256

// Strategy selects how endpoints are merged into nodes.
type Strategy int

const (
	StrategyAuto Strategy = iota
	StrategySequential
	StrategyParallel
)

func (s Strategy) String() string {
	switch s {
	case StrategySequential:
		return "sequential"
	case StrategyParallel:
		return "parallel"
	default:
		return "auto"
	}
}

// ParseStrategy maps a strategy name back to its Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "auto":
		return StrategyAuto, nil
	case "sequential":
		return StrategySequential, nil
	case "parallel":
		return StrategyParallel, nil
	}
	return StrategyAuto, fmt.Errorf("graph: unknown build strategy %q", s)
}

// BuildOptions configures Build.
type BuildOptions struct {
	Tolerance         float64
	Strategy          Strategy
	Workers           int // 0 = GOMAXPROCS
	ParallelThreshold int // 0 = DefaultParallelThreshold
}

func (o BuildOptions) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// resolve picks the concrete strategy for n segments.
func (o BuildOptions) resolve(n int) Strategy {
	if o.Strategy != StrategyAuto {
		return o.Strategy
	}
	threshold := o.ParallelThreshold
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	if n >= threshold && o.workers() > 1 {
		return StrategyParallel
	}
	return StrategySequential
}

// Build merges segment endpoints lying within opts.Tolerance into shared
// nodes and creates one edge per segment, in input order.
func Build(segments []Segment, opts BuildOptions) (*Graph, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	for i, s := range segments {
		for _, p := range [2]r3.Vec{s.Start, s.End} {
			if !spatial.InRange(p, opts.Tolerance) {
				return nil, &CoordinateError{Segment: i, Point: p}
			}
		}
	}

	var (
		points []r3.Vec
		ends   []int32 // ends[2i], ends[2i+1] = node ids of segment i
		err    error
	)
	switch opts.resolve(len(segments)) {
	case StrategyParallel:
		points, ends, err = resolveParallel(segments, opts.Tolerance, opts.workers())
		if err != nil {
			return nil, err
		}
	default:
		points, ends = resolveSequential(segments, opts.Tolerance)
	}

	return wire(segments, points, ends, opts.Tolerance), nil
}

func resolveSequential(segments []Segment, tol float64) ([]r3.Vec, []int32) {
	ix := spatial.NewIndex(tol)
	ends := make([]int32, 2*len(segments))
	for i, s := range segments {
		a, _ := ix.GetOrInsert(s.Start)
		b, _ := ix.GetOrInsert(s.End)
		ends[2*i] = int32(a)
		ends[2*i+1] = int32(b)
	}
	points := make([]r3.Vec, ix.Len())
	for i := range points {
		points[i] = ix.Point(i)
	}
	return points, ends
}

func resolveParallel(segments []Segment, tol float64, workers int) ([]r3.Vec, []int32, error) {
	numEnds := 2 * len(segments)
	ix := spatial.NewShardedIndex(tol, numEnds)
	ends := make([]int32, numEnds)

	chunk := (numEnds + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < numEnds; lo += chunk {
		lo := lo
		hi := min(lo+chunk, numEnds)
		g.Go(func() error {
			for k := lo; k < hi; k++ {
				s := &segments[k/2]
				p := s.Start
				if k%2 == 1 {
					p = s.End
				}
				if !spatial.InRange(p, tol) {
					return &CoordinateError{Segment: k / 2, Point: p}
				}
				id, _ := ix.GetOrInsert(p)
				ends[k] = int32(id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ix.Points(), ends, nil
}

// wire creates nodes and edges once every endpoint has a node id.
func wire(segments []Segment, points []r3.Vec, ends []int32, tol float64) *Graph {
	nodes := make([]*Node, len(points))
	for i, p := range points {
		nodes[i] = &Node{Position: p, Index: i}
	}

	edges := make([]*Edge, len(segments))
	for i, s := range segments {
		a := nodes[ends[2*i]]
		b := nodes[ends[2*i+1]]
		a.Neighbors = append(a.Neighbors, b)
		b.Neighbors = append(b.Neighbors, a)
		edges[i] = &Edge{Start: a, End: b, Source: s.Source}
	}

	return &Graph{Nodes: nodes, Edges: edges, Tolerance: tol}
}
