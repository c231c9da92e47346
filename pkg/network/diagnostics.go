package network

import (
	"fmt"

	"form_finder/pkg/graph"
)

// Severity indicates whether an issue prevents solving.
type Severity int

const (
	SeverityError   Severity = iota // network cannot be solved
	SeverityWarning                 // advisory only
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Issue is an advisory message about a network, meant for the host to show
// instead of solve output.
type Issue struct {
	Severity Severity
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s", i.Severity, i.Message)
}

// Diagnostics explains why a network is invalid and flags suspicious but
// solvable topology. It never mutates the network.
func (n *Network) Diagnostics() []Issue {
	var issues []Issue
	errorf := func(format string, args ...any) {
		issues = append(issues, Issue{SeverityError, fmt.Sprintf(format, args...)})
	}
	warnf := func(format string, args ...any) {
		issues = append(issues, Issue{SeverityWarning, fmt.Sprintf(format, args...)})
	}

	if !n.AnchorCheck() {
		errorf("%d anchor(s) supplied, at least %d required", len(n.Anchors), MinAnchors)
	}
	if len(n.Unmatched) > 0 {
		errorf("%d anchor(s) match no node within tolerance %g: %v", len(n.Unmatched), n.AnchorTolerance, n.Unmatched)
	}
	if len(n.Collapsed) > 0 {
		errorf("%d anchor(s) collapse onto a node already fixed by another anchor: %v", len(n.Collapsed), n.Collapsed)
	}
	if !n.NFCheck() && len(n.Unmatched) == 0 && len(n.Collapsed) == 0 {
		errorf("fixed (%d) + free (%d) nodes do not cover %d nodes", len(n.FixedNodes), len(n.FreeNodes), len(n.Graph.Nodes))
	}
	if len(n.FreeNodes) == 0 && len(n.Graph.Nodes) > 0 {
		warnf("network has no free nodes")
	}

	comps := graph.Components(n.Graph)
	if len(comps) > 1 {
		warnf("network has %d disconnected parts", len(comps))
	}
	for _, comp := range comps {
		hasAnchor := false
		for _, i := range comp {
			if n.Graph.Nodes[i].Anchor {
				hasAnchor = true
				break
			}
		}
		if !hasAnchor {
			errorf("a part with %d node(s) has no anchor; its equilibrium is singular", len(comp))
		}
	}

	zero := 0
	for _, e := range n.Graph.Edges {
		if e.Start == e.End {
			zero++
		}
	}
	if zero > 0 {
		warnf("%d edge(s) start and end on the same node", zero)
	}
	return issues
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
