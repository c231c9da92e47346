package fdm

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/graph"
	"form_finder/pkg/network"
)

// Kind identifies a design objective understood by the solver.
type Kind int

const (
	TargetXYZ Kind = iota
	TargetLength
	LengthVariation
	ForceVariation
	SumForceLength
	MinLength
	MaxLength
	MinForce
	MaxForce
	ReactionDirection
	ReactionDirectionMagnitude
	RigidSetCompare
)

var kindNames = [...]string{
	TargetXYZ:                  "target_xyz",
	TargetLength:               "target_length",
	LengthVariation:            "length_variation",
	ForceVariation:             "force_variation",
	SumForceLength:             "sum_force_length",
	MinLength:                  "min_length",
	MaxLength:                  "max_length",
	MinForce:                   "min_force",
	MaxForce:                   "max_force",
	ReactionDirection:          "reaction_direction",
	ReactionDirectionMagnitude: "reaction_direction_magnitude",
	RigidSetCompare:            "rigid_set_compare",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("fdm: unknown objective kind %q", s)
}

// Scope says which element set an objective acts on.
type Scope int

const (
	ScopeFreeNodes Scope = iota
	ScopeFixedNodes
	ScopeEdges
)

// Scope returns the element set the kind addresses.
func (k Kind) Scope() Scope {
	switch k {
	case TargetXYZ, RigidSetCompare:
		return ScopeFreeNodes
	case ReactionDirection, ReactionDirectionMagnitude:
		return ScopeFixedNodes
	default:
		return ScopeEdges
	}
}

// Objective is a design goal expressed against network elements. An empty
// Nodes/Edges list means every element in the kind's scope.
type Objective struct {
	Kind   Kind
	Weight float64
	Nodes  []*graph.Node
	Edges  []*graph.Edge

	// Values holds scalar targets or thresholds (lengths, forces,
	// magnitudes). Vectors holds target positions or directions.
	Values    []float64
	Vectors   []r3.Vec
	Sharpness float64
}

// Resolved is an objective in solver index space.
type Resolved struct {
	Kind      Kind
	Weight    float64
	Indices   []int     // node or edge indices
	Values    []float64 // one per index, when the kind takes scalars
	Targets   []float64 // 3 per index, when the kind takes vectors
	Sharpness float64
}

// ErrUnknownElement is wrapped by ResolutionError.
var ErrUnknownElement = errors.New("fdm: element is not part of the network")

// ResolutionError reports an objective that references an element absent
// from the solver context.
type ResolutionError struct {
	Kind    Kind
	Element string // "node" or "edge"
	Ordinal int    // position in the objective's element list
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("fdm: %s objective references %s #%d which is not in the network", e.Kind, e.Element, e.Ordinal)
}

func (e *ResolutionError) Unwrap() error { return ErrUnknownElement }

// SolverContext maps network elements to solver indices for one solve.
type SolverContext struct {
	Network   *network.Network
	NodeIndex map[*graph.Node]int
	EdgeIndex map[*graph.Edge]int
}

// NewContext indexes the nodes and edges of net.
func NewContext(net *network.Network) *SolverContext {
	g := net.Graph
	c := &SolverContext{
		Network:   net,
		NodeIndex: make(map[*graph.Node]int, len(g.Nodes)),
		EdgeIndex: make(map[*graph.Edge]int, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		c.NodeIndex[n] = i
	}
	for i, e := range g.Edges {
		c.EdgeIndex[e] = i
	}
	return c
}

// ResolveAll resolves every objective, stopping at the first failure.
func (c *SolverContext) ResolveAll(objs []Objective) ([]Resolved, error) {
	out := make([]Resolved, 0, len(objs))
	for i, o := range objs {
		r, err := c.Resolve(o)
		if err != nil {
			return nil, fmt.Errorf("objective %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Resolve maps o onto solver indices and expands its parameters to one entry
// per index.
func (c *SolverContext) Resolve(o Objective) (Resolved, error) {
	r := Resolved{Kind: o.Kind, Weight: o.Weight, Sharpness: o.Sharpness}

	var err error
	switch o.Kind.Scope() {
	case ScopeEdges:
		r.Indices, err = c.edgeIndices(o)
	case ScopeFixedNodes:
		r.Indices, err = c.nodeIndices(o, c.Network.FixedNodes)
	default:
		r.Indices, err = c.nodeIndices(o, c.Network.FreeNodes)
	}
	if err != nil {
		return Resolved{}, err
	}
	n := len(r.Indices)

	switch o.Kind {
	case TargetLength, MinLength, MaxLength, MinForce, MaxForce:
		if r.Values, err = Broadcast(o.Values, n); err != nil {
			return Resolved{}, fmt.Errorf("%s values: %w", o.Kind, err)
		}
	case TargetXYZ, RigidSetCompare:
		if len(o.Vectors) == 0 {
			r.Targets = c.positions(r.Indices)
		} else if r.Targets, err = BroadcastVec(o.Vectors, n); err != nil {
			return Resolved{}, err
		}
	case ReactionDirection:
		if r.Targets, err = BroadcastVec(o.Vectors, n); err != nil {
			return Resolved{}, fmt.Errorf("%s directions: %w", o.Kind, err)
		}
	case ReactionDirectionMagnitude:
		if r.Targets, err = BroadcastVec(o.Vectors, n); err != nil {
			return Resolved{}, fmt.Errorf("%s directions: %w", o.Kind, err)
		}
		if r.Values, err = Broadcast(o.Values, n); err != nil {
			return Resolved{}, fmt.Errorf("%s magnitudes: %w", o.Kind, err)
		}
	}
	return r, nil
}

func (c *SolverContext) nodeIndices(o Objective, all []int) ([]int, error) {
	if len(o.Nodes) == 0 {
		return append([]int(nil), all...), nil
	}
	out := make([]int, len(o.Nodes))
	for i, n := range o.Nodes {
		idx, ok := c.NodeIndex[n]
		if !ok {
			return nil, &ResolutionError{Kind: o.Kind, Element: "node", Ordinal: i}
		}
		out[i] = idx
	}
	return out, nil
}

func (c *SolverContext) edgeIndices(o Objective) ([]int, error) {
	if len(o.Edges) == 0 {
		out := make([]int, len(c.Network.Graph.Edges))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, len(o.Edges))
	for i, e := range o.Edges {
		idx, ok := c.EdgeIndex[e]
		if !ok {
			return nil, &ResolutionError{Kind: o.Kind, Element: "edge", Ordinal: i}
		}
		out[i] = idx
	}
	return out, nil
}

func (c *SolverContext) positions(indices []int) []float64 {
	out := make([]float64, 0, 3*len(indices))
	for _, i := range indices {
		p := c.Network.Graph.Nodes[i].Position
		out = append(out, p.X, p.Y, p.Z)
	}
	return out
}
