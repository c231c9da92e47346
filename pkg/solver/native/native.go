//go:build theseus

// Package native binds the Theseus shared library to the solver.Backend
// contract. Build with -tags theseus and libtheseus on the linker path.
package native

/*
#cgo LDFLAGS: -ltheseus
#include <stddef.h>
#include <stdint.h>

typedef int (*theseus_progress_fn)(uintptr_t user, int iter, double loss, const double *xyz, size_t n);

void *theseus_create(size_t num_edges, size_t num_nodes, size_t num_free,
	const size_t *rows, const size_t *cols, const double *vals, size_t nnz,
	const size_t *free_idx, const size_t *fixed_idx,
	const double *loads, const double *fixed_xyz,
	const double *q, const double *lower, const double *upper);
void theseus_destroy(void *h);
int theseus_add_objective(void *h, int kind, double weight,
	const size_t *idx, size_t n, const double *values, const double *targets, double sharpness);
int theseus_set_options(void *h, int max_iter, double abs_tol, double rel_tol,
	double barrier_weight, double barrier_sharpness, int report_freq);
int theseus_set_progress(void *h, theseus_progress_fn fn, uintptr_t user, int every);
int theseus_forward(void *h, double *xyz, double *lengths, double *forces, double *q, double *reactions);
int theseus_optimize(void *h, double *xyz, double *lengths, double *forces, double *q, double *reactions,
	int *iterations, int *converged, int *cancelled);
int theseus_last_error(char *buf, size_t len);

extern int goProgress(uintptr_t user, int iter, double loss, double *xyz, size_t n);

static int theseus_set_go_progress(void *h, uintptr_t user, int every) {
	return theseus_set_progress(h, (theseus_progress_fn)goProgress, user, every);
}
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"form_finder/pkg/fdm"
	"form_finder/pkg/solver"
)

// Backend creates handles backed by libtheseus.
type Backend struct{}

type handle struct {
	ptr      unsafe.Pointer
	p        *fdm.Problem
	progress cgo.Handle
	closed   bool
}

func lastError(op string, status C.int) error {
	buf := make([]byte, 512)
	n := C.theseus_last_error((*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	if n < 0 {
		n = 0
	}
	if int(n) > len(buf) {
		n = C.int(len(buf))
	}
	return &solver.Error{Op: op, Status: int(status), Message: string(buf[:int(n)])}
}

func sizes(v []int) []C.size_t {
	out := make([]C.size_t, len(v))
	for i, x := range v {
		out[i] = C.size_t(x)
	}
	return out
}

func sizePtr(v []C.size_t) *C.size_t {
	if len(v) == 0 {
		return nil
	}
	return &v[0]
}

func dblPtr(v []float64) *C.double {
	if len(v) == 0 {
		return nil
	}
	return (*C.double)(unsafe.Pointer(&v[0]))
}

// Create copies the problem into the native library.
func (Backend) Create(p *fdm.Problem) (solver.Handle, error) {
	rows, cols := sizes(p.Rows), sizes(p.Cols)
	free, fixed := sizes(p.FreeNodes), sizes(p.FixedNodes)
	ptr := C.theseus_create(
		C.size_t(p.NumEdges), C.size_t(p.NumNodes), C.size_t(p.NumFree),
		sizePtr(rows), sizePtr(cols), dblPtr(p.Vals), C.size_t(len(p.Vals)),
		sizePtr(free), sizePtr(fixed),
		dblPtr(p.Loads), dblPtr(p.FixedPositions),
		dblPtr(p.Q), dblPtr(p.Lower), dblPtr(p.Upper),
	)
	if ptr == nil {
		return nil, lastError("create", solver.StatusInvalidArgs)
	}
	return &handle{ptr: ptr, p: p}, nil
}

func (h *handle) AddObjective(o fdm.Resolved) error {
	if h.closed {
		return solver.ErrClosed
	}
	idx := sizes(o.Indices)
	if st := C.theseus_add_objective(h.ptr, C.int(o.Kind), C.double(o.Weight),
		sizePtr(idx), C.size_t(len(idx)), dblPtr(o.Values), dblPtr(o.Targets), C.double(o.Sharpness)); st != 0 {
		return lastError("add objective", st)
	}
	return nil
}

func (h *handle) SetOptions(opts solver.Options) error {
	if h.closed {
		return solver.ErrClosed
	}
	if st := C.theseus_set_options(h.ptr, C.int(opts.MaxIterations), C.double(opts.AbsTolerance),
		C.double(opts.RelTolerance), C.double(opts.BarrierWeight), C.double(opts.BarrierSharpness),
		C.int(opts.ReportFrequency)); st != 0 {
		return lastError("set options", st)
	}
	return nil
}

func (h *handle) SetProgress(every int, fn solver.ProgressFunc) error {
	if h.closed {
		return solver.ErrClosed
	}
	if h.progress != 0 {
		h.progress.Delete()
	}
	h.progress = cgo.NewHandle(fn)
	if st := C.theseus_set_go_progress(h.ptr, C.uintptr_t(h.progress), C.int(every)); st != 0 {
		return lastError("set progress", st)
	}
	return nil
}

func (h *handle) buffers() *solver.Result {
	return &solver.Result{
		XYZ:       make([]float64, 3*h.p.NumNodes),
		Lengths:   make([]float64, h.p.NumEdges),
		Forces:    make([]float64, h.p.NumEdges),
		Q:         make([]float64, h.p.NumEdges),
		Reactions: make([]float64, 3*h.p.NumNodes),
	}
}

func (h *handle) Forward() (*solver.Result, error) {
	if h.closed {
		return nil, solver.ErrClosed
	}
	res := h.buffers()
	if st := C.theseus_forward(h.ptr, dblPtr(res.XYZ), dblPtr(res.Lengths), dblPtr(res.Forces),
		dblPtr(res.Q), dblPtr(res.Reactions)); st != 0 {
		return nil, lastError("forward", st)
	}
	res.Converged = true
	res.Reason = "forward"
	return res, nil
}

// Optimize runs the library optimizer. The C interface exposes no loss
// trace, so LossTrace is left nil.
func (h *handle) Optimize() (*solver.Result, error) {
	if h.closed {
		return nil, solver.ErrClosed
	}
	res := h.buffers()
	var iters, converged, cancelled C.int
	if st := C.theseus_optimize(h.ptr, dblPtr(res.XYZ), dblPtr(res.Lengths), dblPtr(res.Forces),
		dblPtr(res.Q), dblPtr(res.Reactions), &iters, &converged, &cancelled); st != 0 {
		return nil, lastError("optimize", st)
	}
	res.Iterations = int(iters)
	res.Converged = converged != 0
	res.Cancelled = cancelled != 0
	if res.Cancelled {
		res.Reason = "cancelled"
	}
	return res, nil
}

func (h *handle) Close() error {
	if h.closed {
		return solver.ErrClosed
	}
	h.closed = true
	C.theseus_destroy(h.ptr)
	h.ptr = nil
	if h.progress != 0 {
		h.progress.Delete()
		h.progress = 0
	}
	return nil
}
