// Package solver defines the boundary to the numerical force density solver
// and drives one solve through it.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log"

	"form_finder/pkg/fdm"
)

// Status codes carried by *Error.
const (
	StatusOK          = 0
	StatusInvalidArgs = 1
	StatusSingular    = 2
	StatusSolveFailed = 3
	StatusCancelled   = 4
	StatusClosed      = 5
	StatusUnsupported = 6
)

// Error is a failure reported by the solver backend.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("solver: %s failed (status %d): %s", e.Op, e.Status, e.Message)
}

// ErrClosed is matched by errors.Is for calls on a destroyed handle.
var ErrClosed = &Error{Op: "call", Status: StatusClosed, Message: "handle already closed"}

// Is matches on status code so callers can test against sentinel *Error values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Status == e.Status
}

// Options configures the iterative optimizer.
type Options struct {
	MaxIterations    int
	AbsTolerance     float64
	RelTolerance     float64
	BarrierWeight    float64
	BarrierSharpness float64
	ReportFrequency  int // progress callback interval in evaluations
}

// DefaultOptions returns the defaults used when a request leaves options unset.
func DefaultOptions() Options {
	return Options{
		MaxIterations:    500,
		AbsTolerance:     1e-6,
		RelTolerance:     1e-6,
		BarrierWeight:    1000,
		BarrierSharpness: 10,
		ReportFrequency:  10,
	}
}

// ProgressFunc receives the evaluation count, current loss and flattened node
// positions. Returning false asks the solver to stop.
type ProgressFunc func(iteration int, loss float64, xyz []float64) bool

// Result holds the flat solver outputs, all in node/edge index order.
type Result struct {
	XYZ       []float64 // 3 per node
	Lengths   []float64 // per edge
	Forces    []float64 // per edge
	Q         []float64 // per edge
	Reactions []float64 // 3 per node, zero at free nodes

	// LossTrace is the loss at each objective evaluation, in order. Forward
	// solves, and backends that do not record it, leave it nil.
	LossTrace []float64

	Iterations int
	Converged  bool
	Cancelled  bool
	Reason     string
}

// Handle is one solver instance created from an assembled problem. Close
// must be called exactly once.
type Handle interface {
	AddObjective(obj fdm.Resolved) error
	SetOptions(opts Options) error
	SetProgress(every int, fn ProgressFunc) error
	Forward() (*Result, error)
	Optimize() (*Result, error)
	Close() error
}

// Backend creates solver handles.
type Backend interface {
	Create(p *fdm.Problem) (Handle, error)
}

// Run creates a handle for p, registers objectives and options, solves, and
// releases the handle on every path. With no objectives it runs the forward
// solve only.
//
// ctx is checked only when the backend reports progress; a backend that
// never calls back cannot be interrupted.
func Run(ctx context.Context, backend Backend, p *fdm.Problem, objectives []fdm.Resolved, opts Options, progress ProgressFunc) (res *Result, err error) {
	h, err := backend.Create(p)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if len(objectives) == 0 {
		return h.Forward()
	}

	for _, o := range objectives {
		if err := h.AddObjective(o); err != nil {
			return nil, err
		}
	}
	if err := h.SetOptions(opts); err != nil {
		return nil, err
	}

	every := opts.ReportFrequency
	if every <= 0 {
		every = 1
	}
	cb := func(iter int, loss float64, xyz []float64) bool {
		if ctx.Err() != nil {
			return false
		}
		if progress != nil {
			return progress(iter, loss, xyz)
		}
		return true
	}
	if err := h.SetProgress(every, cb); err != nil {
		return nil, err
	}

	res, err = h.Optimize()
	if err != nil {
		return nil, err
	}
	if res.Cancelled {
		log.Printf("Optimization cancelled after %d iterations", res.Iterations)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return res, nil
}
