// Package render draws plan views of cable networks as SVG.
package render

import (
	"fmt"
	"io"
	"math"

	svg "github.com/ajstarks/svgo"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/network"
)

// Line is one member to draw.
type Line struct {
	A, B  r3.Vec
	Force float64
}

// Scene is the geometry of a plan view.
type Scene struct {
	Lines   []Line
	Anchors []r3.Vec
}

// FromNetwork collects the edges and fixed nodes of net.
func FromNetwork(net *network.Network) Scene {
	var s Scene
	for _, e := range net.Graph.Edges {
		s.Lines = append(s.Lines, Line{A: e.Start.Position, B: e.End.Position, Force: e.Q * e.Length()})
	}
	for _, i := range net.FixedNodes {
		s.Anchors = append(s.Anchors, net.Graph.Nodes[i].Position)
	}
	return s
}

// Options controls the canvas.
type Options struct {
	Width, Height int
	Margin        int
	MaxStroke     int // stroke width of the most loaded member
}

// DefaultOptions returns an 800x800 canvas.
func DefaultOptions() Options {
	return Options{Width: 800, Height: 800, Margin: 40, MaxStroke: 6}
}

// Render writes s as an SVG document. Tension members are drawn red and
// compression members blue, with opacity and width scaled by |force|.
func Render(w io.Writer, s Scene, opts Options) error {
	if len(s.Lines) == 0 {
		return fmt.Errorf("render: nothing to draw")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts = DefaultOptions()
	}
	if opts.MaxStroke <= 0 {
		opts.MaxStroke = 1
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	grow := func(p r3.Vec) {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	maxForce := 0.0
	for _, l := range s.Lines {
		grow(l.A)
		grow(l.B)
		maxForce = math.Max(maxForce, math.Abs(l.Force))
	}
	for _, a := range s.Anchors {
		grow(a)
	}

	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	inner := float64(min(opts.Width, opts.Height) - 2*opts.Margin)
	scale := inner / span
	// SVG y grows downward.
	px := func(p r3.Vec) (int, int) {
		x := float64(opts.Margin) + (p.X-minX)*scale
		y := float64(opts.Height-opts.Margin) - (p.Y-minY)*scale
		return int(math.Round(x)), int(math.Round(y))
	}

	canvas := svg.New(w)
	canvas.Start(opts.Width, opts.Height)
	canvas.Rect(0, 0, opts.Width, opts.Height, "fill:white")

	for _, l := range s.Lines {
		x1, y1 := px(l.A)
		x2, y2 := px(l.B)
		canvas.Line(x1, y1, x2, y2, lineStyle(l.Force, maxForce, opts.MaxStroke))
	}
	for _, a := range s.Anchors {
		x, y := px(a)
		canvas.Rect(x-4, y-4, 8, 8, "fill:black")
	}
	canvas.Text(opts.Margin, opts.Margin/2, fmt.Sprintf("%d members, max |force| %.3g", len(s.Lines), maxForce),
		"font-family:sans-serif;font-size:12px")
	canvas.End()
	return nil
}

func lineStyle(force, maxForce float64, maxStroke int) string {
	ratio := 1.0
	if maxForce > 0 {
		ratio = math.Abs(force) / maxForce
	}
	colour := "rgb(200,30,30)"
	if force < 0 {
		colour = "rgb(30,60,200)"
	}
	width := 1 + ratio*float64(maxStroke-1)
	return fmt.Sprintf("stroke:%s;stroke-width:%.2f;stroke-opacity:%.2f;stroke-linecap:round",
		colour, width, 0.35+0.65*ratio)
}
