package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/config"
	"form_finder/pkg/fdm"
	"form_finder/pkg/formfind"
	"form_finder/pkg/graph"
	"form_finder/pkg/network"
	"form_finder/pkg/solver"
)

// maxBodyBytes bounds solve request bodies.
const maxBodyBytes = 8 << 20

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	solver   formfind.Solver
	defaults *config.Config
	backend  string
	started  time.Time
}

// NewHandlers creates handlers around solver. Fields omitted from requests
// are filled from defaults.
func NewHandlers(s formfind.Solver, defaults *config.Config, backend string) *Handlers {
	if defaults == nil {
		defaults = config.Default()
	}
	return &Handlers{
		solver:   s,
		defaults: defaults,
		backend:  backend,
		started:  time.Now(),
	}
}

// HandleSolve handles POST /api/v1/solve.
func (h *Handlers) HandleSolve(w http.ResponseWriter, r *http.Request) {
	// Enforce Content-Type.
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return
	}

	var body SolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return
	}

	req, field, err := h.toRequest(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Field: field, Detail: err.Error()})
		return
	}

	id := uuid.NewString()
	res, err := h.solver.Solve(r.Context(), req, nil)
	if err != nil {
		status, resp := classify(err)
		writeError(w, status, resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(id, res))
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Backend:       h.backend,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if s, ok := h.solver.(interface{ Stats() formfind.Stats }); ok {
		resp.Stats = s.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toRequest validates body and merges it over the configured defaults. On
// failure it also returns the offending field.
func (h *Handlers) toRequest(body *SolveRequest) (*formfind.Request, string, error) {
	segs := make([]graph.Segment, len(body.Segments))
	for i, s := range body.Segments {
		if err := validateVec(s[0]); err != nil {
			return nil, "segments", err
		}
		if err := validateVec(s[1]); err != nil {
			return nil, "segments", err
		}
		segs[i] = graph.Segment{Start: toVec(s[0]), End: toVec(s[1]), Source: i}
	}
	anchors, err := toVecs(body.Anchors)
	if err != nil {
		return nil, "anchors", err
	}

	req, err := h.defaults.Request(segs, anchors)
	if err != nil {
		return nil, "", err
	}

	if body.BuildTolerance != nil {
		req.BuildTolerance = *body.BuildTolerance
	}
	if body.AnchorTolerance != nil {
		req.AnchorTolerance = *body.AnchorTolerance
	}
	if req.BuildTolerance < 0 || req.AnchorTolerance < 0 {
		return nil, "tolerance", errors.New("tolerances must not be negative")
	}
	if body.Strategy != "" {
		if req.Strategy, err = graph.ParseStrategy(body.Strategy); err != nil {
			return nil, "strategy", err
		}
	}
	if body.Loads != nil {
		if req.Loads, err = toVecs(body.Loads); err != nil {
			return nil, "loads", err
		}
	}
	if body.Q != nil {
		req.Q = body.Q
	}
	if body.Lower != nil {
		req.Lower = bounds(body.Lower, math.Inf(-1))
	}
	if body.Upper != nil {
		req.Upper = bounds(body.Upper, math.Inf(1))
	}
	if body.Optimize != nil {
		req.Optimize = *body.Optimize
	}
	if body.Objectives != nil {
		req.Objectives = req.Objectives[:0]
		for _, o := range body.Objectives {
			spec, err := toSpec(o)
			if err != nil {
				return nil, "objectives", err
			}
			req.Objectives = append(req.Objectives, spec)
		}
	}
	if o := body.Options; o != nil {
		opts := &req.Options
		if o.MaxIterations > 0 {
			opts.MaxIterations = o.MaxIterations
		}
		if o.AbsTolerance > 0 {
			opts.AbsTolerance = o.AbsTolerance
		}
		if o.RelTolerance > 0 {
			opts.RelTolerance = o.RelTolerance
		}
		if o.BarrierWeight > 0 {
			opts.BarrierWeight = o.BarrierWeight
		}
		if o.BarrierSharpness > 0 {
			opts.BarrierSharpness = o.BarrierSharpness
		}
		if o.ReportFrequency > 0 {
			opts.ReportFrequency = o.ReportFrequency
		}
	}
	return req, "", nil
}

func toSpec(o ObjectiveJSON) (formfind.ObjectiveSpec, error) {
	kind, err := fdm.ParseKind(o.Kind)
	if err != nil {
		return formfind.ObjectiveSpec{}, err
	}
	nodes, err := toVecs(o.Nodes)
	if err != nil {
		return formfind.ObjectiveSpec{}, err
	}
	vectors, err := toVecs(o.Vectors)
	if err != nil {
		return formfind.ObjectiveSpec{}, err
	}
	weight := 1.0
	if o.Weight != nil {
		weight = *o.Weight
	}
	return formfind.ObjectiveSpec{
		Kind:      kind,
		Weight:    weight,
		Edges:     o.Edges,
		Nodes:     nodes,
		Values:    o.Values,
		Vectors:   vectors,
		Sharpness: o.Sharpness,
	}, nil
}

func bounds(in []*float64, unbounded float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = unbounded
		} else {
			out[i] = *v
		}
	}
	return out
}

func toVec(v Vec3) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func toVecs(vs []Vec3) ([]r3.Vec, error) {
	if vs == nil {
		return nil, nil
	}
	out := make([]r3.Vec, len(vs))
	for i, v := range vs {
		if err := validateVec(v); err != nil {
			return nil, err
		}
		out[i] = toVec(v)
	}
	return out, nil
}

func validateVec(v Vec3) error {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.New("coordinates must be finite numbers")
		}
	}
	return nil
}

// toResponse flattens a solved network for JSON.
func toResponse(id string, res *formfind.Result) SolveResponse {
	net, sol := res.Network, res.Solution
	g := net.Graph
	resp := SolveResponse{
		ID:          id,
		Nodes:       make([]Vec3, len(g.Nodes)),
		FreeNodes:   net.FreeNodes,
		FixedNodes:  net.FixedNodes,
		Edges:       make([]EdgeJSON, len(g.Edges)),
		Reactions:   make([]Vec3, len(net.FixedNodes)),
		Iterations:  sol.Iterations,
		Converged:   sol.Converged,
		Cancelled:   sol.Cancelled,
		Reason:      sol.Reason,
		LossTrace:   sol.LossTrace,
		Diagnostics: toIssues(res.Diagnostics),
	}
	for i, n := range g.Nodes {
		resp.Nodes[i] = Vec3{n.Position.X, n.Position.Y, n.Position.Z}
	}
	for i, e := range g.Edges {
		resp.Edges[i] = EdgeJSON{
			Start:  e.Start.Index,
			End:    e.End.Index,
			Q:      e.Q,
			Force:  sol.Forces[i],
			Length: sol.Lengths[i],
		}
	}
	for k, n := range net.FixedNodes {
		resp.Reactions[k] = Vec3{sol.Reactions[3*n], sol.Reactions[3*n+1], sol.Reactions[3*n+2]}
	}
	return resp
}

func toIssues(issues []network.Issue) []IssueJSON {
	out := make([]IssueJSON, len(issues))
	for i, is := range issues {
		out[i] = IssueJSON{Severity: is.Severity.String(), Message: is.Message}
	}
	return out
}

// classify maps a solve error to an HTTP status and error body.
func classify(err error) (int, ErrorResponse) {
	var invalid *formfind.InvalidNetworkError
	var unresolved *fdm.ResolutionError
	var serr *solver.Error
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_network", Diagnostics: toIssues(invalid.Issues)}
	case errors.As(err, &unresolved):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "unknown_element", Field: "objectives", Detail: err.Error()}
	case errors.Is(err, graph.ErrNoSegments), errors.Is(err, graph.ErrCoordinateRange):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Field: "segments", Detail: err.Error()}
	case errors.Is(err, fdm.ErrEmptyList), errors.Is(err, fdm.ErrEmptyLoads), errors.Is(err, fdm.ErrEmptyQ),
		errors.Is(err, fdm.ErrEmptyLowerBounds), errors.Is(err, fdm.ErrEmptyUpperBounds):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_parameters", Detail: err.Error()}
	case errors.Is(err, formfind.ErrBusy):
		return http.StatusConflict, ErrorResponse{Error: "busy"}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "request_timeout"}
	case errors.As(err, &serr) && serr.Status == solver.StatusSingular:
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "singular_network", Detail: serr.Message}
	case errors.As(err, &serr):
		return http.StatusInternalServerError, ErrorResponse{Error: "solver_error", Detail: serr.Message}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal_error"}
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
