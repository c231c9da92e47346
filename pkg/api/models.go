package api

import (
	"form_finder/pkg/formfind"
)

// Vec3 is an [x, y, z] triple.
type Vec3 [3]float64

// SolveRequest is the JSON body for POST /api/v1/solve and the first message
// on the optimization stream. Omitted fields take the server defaults.
type SolveRequest struct {
	Segments [][2]Vec3 `json:"segments"`
	Anchors  []Vec3    `json:"anchors"`

	BuildTolerance  *float64 `json:"build_tolerance,omitempty"`
	AnchorTolerance *float64 `json:"anchor_tolerance,omitempty"`
	Strategy        string   `json:"strategy,omitempty"`

	Loads []Vec3    `json:"loads,omitempty"`
	Q     []float64 `json:"q,omitempty"`
	// A null bound entry means unbounded.
	Lower []*float64 `json:"lower,omitempty"`
	Upper []*float64 `json:"upper,omitempty"`

	Optimize   *bool           `json:"optimize,omitempty"`
	Objectives []ObjectiveJSON `json:"objectives,omitempty"`
	Options    *OptionsJSON    `json:"options,omitempty"`

	// Stream only: include node positions in progress messages.
	IncludeXYZ bool `json:"include_xyz,omitempty"`
}

// ObjectiveJSON is one design objective.
type ObjectiveJSON struct {
	Kind      string    `json:"kind"`
	Weight    *float64  `json:"weight,omitempty"`
	Edges     []int     `json:"edges,omitempty"` // input segment ordinals
	Nodes     []Vec3    `json:"nodes,omitempty"` // node positions
	Values    []float64 `json:"values,omitempty"`
	Vectors   []Vec3    `json:"vectors,omitempty"`
	Sharpness float64   `json:"sharpness,omitempty"`
}

// OptionsJSON overrides optimizer settings.
type OptionsJSON struct {
	MaxIterations    int     `json:"max_iterations,omitempty"`
	AbsTolerance     float64 `json:"abs_tolerance,omitempty"`
	RelTolerance     float64 `json:"rel_tolerance,omitempty"`
	BarrierWeight    float64 `json:"barrier_weight,omitempty"`
	BarrierSharpness float64 `json:"barrier_sharpness,omitempty"`
	ReportFrequency  int     `json:"report_frequency,omitempty"`
}

// SolveResponse is the JSON response for a successful solve.
type SolveResponse struct {
	ID          string      `json:"id"`
	Nodes       []Vec3      `json:"nodes"`
	FreeNodes   []int       `json:"free_nodes"`
	FixedNodes  []int       `json:"fixed_nodes"`
	Edges       []EdgeJSON  `json:"edges"`
	Reactions   []Vec3      `json:"reactions"` // per fixed node, FixedNodes order
	Iterations  int         `json:"iterations"`
	Converged   bool        `json:"converged"`
	Cancelled   bool        `json:"cancelled"`
	Reason      string      `json:"reason,omitempty"`
	LossTrace   []float64   `json:"loss_trace,omitempty"`
	Diagnostics []IssueJSON `json:"diagnostics,omitempty"`
}

// EdgeJSON is one solved member, in input segment order.
type EdgeJSON struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Q      float64 `json:"q"`
	Force  float64 `json:"force"`
	Length float64 `json:"length"`
}

// IssueJSON is one network diagnostic.
type IssueJSON struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error       string      `json:"error"`
	Field       string      `json:"field,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Diagnostics []IssueJSON `json:"diagnostics,omitempty"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	Backend       string `json:"backend"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	formfind.Stats
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StreamMessage is sent by the server on the optimization stream.
type StreamMessage struct {
	Type      string         `json:"type"` // "progress", "result" or "error"
	ID        string         `json:"id"`
	Iteration int            `json:"iteration,omitempty"`
	Loss      float64        `json:"loss,omitempty"`
	XYZ       []float64      `json:"xyz,omitempty"`
	Result    *SolveResponse `json:"result,omitempty"`
	Error     *ErrorResponse `json:"error,omitempty"`
}

// ClientMessage is sent by the client on the optimization stream after the
// initial request. The only command is "cancel".
type ClientMessage struct {
	Type string `json:"type"`
}
