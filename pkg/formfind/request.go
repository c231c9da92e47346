// Package formfind runs the full pipeline from input curves to a solved
// network: build, partition, validate, assemble, solve.
package formfind

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/fdm"
	"form_finder/pkg/graph"
	"form_finder/pkg/network"
	"form_finder/pkg/solver"
)

// ObjectiveSpec is an objective expressed against request inputs. Edges are
// ordinals into Request.Segments; nodes are positions looked up within the
// anchor tolerance. Empty lists mean every element in the kind's scope.
type ObjectiveSpec struct {
	Kind      fdm.Kind
	Weight    float64
	Edges     []int
	Nodes     []r3.Vec
	Values    []float64
	Vectors   []r3.Vec
	Sharpness float64
}

// Request is one form finding job.
type Request struct {
	Segments        []graph.Segment
	Anchors         []r3.Vec
	BuildTolerance  float64
	AnchorTolerance float64
	Strategy        graph.Strategy
	Workers         int

	Loads []r3.Vec
	Q     []float64
	Lower []float64
	Upper []float64

	Objectives []ObjectiveSpec
	Options    solver.Options
	Optimize   bool
}

func (r *Request) networkOptions() network.Options {
	return network.Options{
		Build: graph.BuildOptions{
			Tolerance: r.BuildTolerance,
			Strategy:  r.Strategy,
			Workers:   r.Workers,
		},
		AnchorTolerance: r.AnchorTolerance,
	}
}

func (r *Request) parameters() fdm.Parameters {
	return fdm.Parameters{Loads: r.Loads, Q: r.Q, Lower: r.Lower, Upper: r.Upper}
}

// options fills every unset field of r.Options from the defaults.
func (r *Request) options() solver.Options {
	o, def := r.Options, solver.DefaultOptions()
	if o.MaxIterations == 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.AbsTolerance == 0 {
		o.AbsTolerance = def.AbsTolerance
	}
	if o.RelTolerance == 0 {
		o.RelTolerance = def.RelTolerance
	}
	if o.BarrierWeight == 0 {
		o.BarrierWeight = def.BarrierWeight
	}
	if o.BarrierSharpness == 0 {
		o.BarrierSharpness = def.BarrierSharpness
	}
	if o.ReportFrequency == 0 {
		o.ReportFrequency = def.ReportFrequency
	}
	return o
}

// Result is a solved network together with the raw solver output and the
// diagnostics of the input network.
type Result struct {
	Network     *network.Network
	Solution    *solver.Result
	Diagnostics []network.Issue
}

// InvalidNetworkError is returned when the input network fails validation.
// It is never passed to the solver.
type InvalidNetworkError struct {
	Issues []network.Issue
}

func (e *InvalidNetworkError) Error() string {
	var msgs []string
	for _, is := range e.Issues {
		if is.Severity == network.SeverityError {
			msgs = append(msgs, is.Message)
		}
	}
	return fmt.Sprintf("formfind: invalid network: %s", strings.Join(msgs, "; "))
}

func (e *InvalidNetworkError) Unwrap() error { return fdm.ErrInvalidNetwork }
