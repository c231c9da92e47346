// Package geomio reads input curves and writes solved networks in the CAD
// and GIS formats the tools accept.
package geomio

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/rpaloschi/dxf-go/document"
	"github.com/rpaloschi/dxf-go/entities"
	"github.com/yofu/dxf"
	"github.com/yofu/dxf/color"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/graph"
	"form_finder/pkg/network"
)

// Layer names written by WriteDXF and the default anchor layer for ReadDXF.
const (
	CableLayer  = "CABLES"
	AnchorLayer = "ANCHORS"
)

// Input is the geometry needed to build a network.
type Input struct {
	Segments []graph.Segment
	Anchors  []r3.Vec

	// Forces holds one member force per segment when the source carries
	// solved results, and is nil otherwise.
	Forces []float64
}

// EntityRef identifies the drawing entity a segment came from.
type EntityRef struct {
	Layer  string
	Entity int // position in the ENTITIES section
	Vertex int // segment index within a polyline
}

// DXFOptions configures ReadDXF.
type DXFOptions struct {
	// AnchorLayer holds anchor geometry: every vertex of every line or
	// polyline on it becomes an anchor. Matching is case insensitive.
	AnchorLayer string
}

// ReadDXF extracts LINE, POLYLINE and LWPOLYLINE entities as segments.
// Polylines contribute one segment per consecutive vertex pair.
func ReadDXF(r io.Reader, opts DXFOptions) (*Input, error) {
	doc, err := document.DxfDocumentFromStream(r)
	if err != nil {
		return nil, fmt.Errorf("reading dxf: %w", err)
	}
	anchorLayer := opts.AnchorLayer
	if anchorLayer == "" {
		anchorLayer = AnchorLayer
	}

	in := &Input{}
	var skipped int
	for i, ent := range doc.Entities.Entities {
		var layer string
		var pts []r3.Vec
		closed := false

		switch e := ent.(type) {
		case *entities.Line:
			layer = e.LayerName
			pts = []r3.Vec{
				{X: e.Start.X, Y: e.Start.Y, Z: e.Start.Z},
				{X: e.End.X, Y: e.End.Y, Z: e.End.Z},
			}
		case *entities.Polyline:
			layer = e.LayerName
			for _, v := range e.Vertices {
				pts = append(pts, r3.Vec{X: v.Location.X, Y: v.Location.Y, Z: v.Location.Z})
			}
		case *entities.LWPolyline:
			layer = e.LayerName
			closed = e.Closed
			for _, v := range e.Points {
				pts = append(pts, r3.Vec{X: v.Point.X, Y: v.Point.Y})
			}
		default:
			skipped++
			continue
		}

		if strings.EqualFold(layer, anchorLayer) {
			in.Anchors = append(in.Anchors, pts...)
			continue
		}
		if closed && len(pts) > 2 {
			pts = append(pts, pts[0])
		}
		for k := 0; k+1 < len(pts); k++ {
			in.Segments = append(in.Segments, graph.Segment{
				Start:  pts[k],
				End:    pts[k+1],
				Source: EntityRef{Layer: layer, Entity: i, Vertex: k},
			})
		}
	}

	if skipped > 0 {
		log.Printf("Skipped %d unsupported dxf entities", skipped)
	}
	log.Printf("Read %d segments and %d anchors from dxf", len(in.Segments), len(in.Anchors))
	return in, nil
}

// WriteDXF saves the edges of net as LINE entities on CableLayer and its
// fixed nodes as POINT entities on AnchorLayer.
func WriteDXF(path string, net *network.Network) error {
	d := dxf.NewDrawing()
	d.Header().LtScale = 1.0

	if _, err := d.AddLayer(CableLayer, color.Red, dxf.DefaultLineType, true); err != nil {
		return fmt.Errorf("adding layer %s: %w", CableLayer, err)
	}
	for _, e := range net.Graph.Edges {
		a, b := e.Start.Position, e.End.Position
		if _, err := d.Line(a.X, a.Y, a.Z, b.X, b.Y, b.Z); err != nil {
			return fmt.Errorf("writing edge: %w", err)
		}
	}

	if _, err := d.AddLayer(AnchorLayer, color.Blue, dxf.DefaultLineType, true); err != nil {
		return fmt.Errorf("adding layer %s: %w", AnchorLayer, err)
	}
	for _, i := range net.FixedNodes {
		p := net.Graph.Nodes[i].Position
		if _, err := d.Point(p.X, p.Y, p.Z); err != nil {
			return fmt.Errorf("writing anchor: %w", err)
		}
	}

	if err := d.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}
