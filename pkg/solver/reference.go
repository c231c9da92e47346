package solver

import (
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"form_finder/pkg/fdm"
)

// singularLoss stands in for the objective when a trial force density
// vector makes the equilibrium system unsolvable.
const singularLoss = 1e12

var errCancelled = errors.New("solver: cancelled by progress callback")

// Reference is the pure Go backend. It optimizes force densities with
// L-BFGS over a finite difference gradient.
type Reference struct{}

// Create validates the problem shape and returns a new handle.
func (Reference) Create(p *fdm.Problem) (Handle, error) {
	if err := validateProblem(p); err != nil {
		return nil, err
	}
	return &refHandle{
		p:    p,
		eq:   newEquilibrium(p),
		opts: DefaultOptions(),
	}, nil
}

func validateProblem(p *fdm.Problem) error {
	bad := func(format string, args ...any) error {
		return &Error{Op: "create", Status: StatusInvalidArgs, Message: fmt.Sprintf(format, args...)}
	}
	switch {
	case p == nil:
		return bad("nil problem")
	case len(p.Rows) != 2*p.NumEdges || len(p.Cols) != len(p.Rows) || len(p.Vals) != len(p.Rows):
		return bad("incidence has %d entries for %d edges", len(p.Rows), p.NumEdges)
	case len(p.FreeNodes) != p.NumFree || len(p.FreeNodes)+len(p.FixedNodes) != p.NumNodes:
		return bad("node partition does not cover %d nodes", p.NumNodes)
	case len(p.Loads) != 3*p.NumFree:
		return bad("loads have %d values for %d free nodes", len(p.Loads), p.NumFree)
	case len(p.FixedPositions) != 3*len(p.FixedNodes):
		return bad("fixed positions have %d values for %d fixed nodes", len(p.FixedPositions), len(p.FixedNodes))
	case len(p.Q) != p.NumEdges || len(p.Lower) != p.NumEdges || len(p.Upper) != p.NumEdges:
		return bad("per-edge arrays do not match %d edges", p.NumEdges)
	}
	for k, c := range p.Cols {
		if c < 0 || c >= p.NumNodes {
			return bad("incidence entry %d references node %d", k, c)
		}
	}
	return nil
}

type refHandle struct {
	p          *fdm.Problem
	eq         *equilibrium
	objectives []fdm.Resolved
	opts       Options
	every      int
	progress   ProgressFunc
	closed     bool
}

func (h *refHandle) AddObjective(o fdm.Resolved) error {
	if h.closed {
		return ErrClosed
	}
	limit := h.p.NumEdges
	if o.Kind.Scope() != fdm.ScopeEdges {
		limit = h.p.NumNodes
	}
	for _, i := range o.Indices {
		if i < 0 || i >= limit {
			return &Error{Op: "add objective", Status: StatusInvalidArgs,
				Message: fmt.Sprintf("%s index %d out of range", o.Kind, i)}
		}
	}
	if o.Targets != nil && len(o.Targets) != 3*len(o.Indices) {
		return &Error{Op: "add objective", Status: StatusInvalidArgs,
			Message: fmt.Sprintf("%s has %d target values for %d elements", o.Kind, len(o.Targets), len(o.Indices))}
	}
	if o.Values != nil && len(o.Values) != len(o.Indices) {
		return &Error{Op: "add objective", Status: StatusInvalidArgs,
			Message: fmt.Sprintf("%s has %d values for %d elements", o.Kind, len(o.Values), len(o.Indices))}
	}
	h.objectives = append(h.objectives, o)
	return nil
}

func (h *refHandle) SetOptions(opts Options) error {
	if h.closed {
		return ErrClosed
	}
	if opts.MaxIterations <= 0 || opts.AbsTolerance < 0 || opts.RelTolerance < 0 || opts.BarrierSharpness <= 0 {
		return &Error{Op: "set options", Status: StatusInvalidArgs, Message: fmt.Sprintf("invalid options %+v", opts)}
	}
	h.opts = opts
	return nil
}

func (h *refHandle) SetProgress(every int, fn ProgressFunc) error {
	if h.closed {
		return ErrClosed
	}
	if every <= 0 {
		every = 1
	}
	h.every, h.progress = every, fn
	return nil
}

func (h *refHandle) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.objectives = nil
	return nil
}

func (h *refHandle) Forward() (*Result, error) {
	if h.closed {
		return nil, ErrClosed
	}
	s, err := h.eq.solve(h.p.Q)
	if err != nil {
		return nil, err
	}
	res := h.result(s)
	res.Converged = true
	res.Reason = "forward"
	return res, nil
}

func (h *refHandle) Optimize() (*Result, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if len(h.objectives) == 0 {
		return h.Forward()
	}

	lower, upper := h.p.Lower, h.p.Upper
	loss := func(q []float64) (float64, *state) {
		s, err := h.eq.solve(q)
		if err != nil {
			return singularLoss, nil
		}
		var total float64
		for _, o := range h.objectives {
			total += objectiveLoss(o, s, h.opts)
		}
		for e, qe := range q {
			if !math.IsInf(lower[e], 0) {
				total += h.opts.BarrierWeight * barrier(qe, lower[e], h.opts.BarrierSharpness, false)
			}
			if !math.IsInf(upper[e], 0) {
				total += h.opts.BarrierWeight * barrier(qe, upper[e], h.opts.BarrierSharpness, true)
			}
		}
		return total, s
	}

	var (
		evals     int
		trace     []float64
		cancelled bool
		bestF     = math.Inf(1)
		bestQ     = append([]float64(nil), h.p.Q...)
	)
	problem := optimize.Problem{
		Func: func(q []float64) float64 {
			f, s := loss(q)
			evals++
			trace = append(trace, f)
			if f < bestF {
				bestF = f
				copy(bestQ, q)
			}
			if h.progress != nil && s != nil && (evals == 1 || evals%h.every == 0) && !cancelled {
				if !h.progress(evals, f, s.xyz) {
					cancelled = true
				}
			}
			return f
		},
		Grad: func(grad, q []float64) {
			fd.Gradient(grad, func(x []float64) float64 {
				f, _ := loss(x)
				return f
			}, q, &fd.Settings{Formula: fd.Central})
		},
		Status: func() (optimize.Status, error) {
			if cancelled {
				return optimize.Failure, errCancelled
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   h.opts.MaxIterations,
		GradientThreshold: h.opts.AbsTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   h.opts.AbsTolerance,
			Relative:   h.opts.RelTolerance,
			Iterations: 10,
		},
	}

	opt, err := optimize.Minimize(problem, append([]float64(nil), h.p.Q...), settings, &optimize.LBFGS{})

	q := bestQ
	iterations := 0
	if opt != nil {
		iterations = opt.Stats.MajorIterations
		if opt.Location.X != nil && opt.Location.F <= bestF {
			q = opt.Location.X
		}
	}
	s, serr := h.eq.solve(q)
	if serr != nil {
		return nil, serr
	}
	res := h.result(s)
	res.Iterations = iterations
	res.LossTrace = trace

	switch {
	case cancelled || errors.Is(err, errCancelled):
		res.Cancelled = true
		res.Reason = "cancelled"
	case err != nil:
		log.Printf("Optimizer stopped early: %v", err)
		res.Reason = err.Error()
	default:
		res.Reason = opt.Status.String()
		res.Converged = converged(opt.Status)
	}
	return res, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.FunctionThreshold, optimize.MethodConverge:
		return true
	}
	return false
}

func (h *refHandle) result(s *state) *Result {
	return &Result{
		XYZ:       s.xyz,
		Lengths:   s.lengths,
		Forces:    s.forces,
		Q:         append([]float64(nil), s.q...),
		Reactions: s.reactions,
	}
}
