package geomio

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/geo"
	"form_finder/pkg/graph"
	"form_finder/pkg/network"
)

// ErrNoGeometry is returned when a GeoJSON document holds no usable lines.
var ErrNoGeometry = errors.New("geomio: no line geometry found")

// Feature property keys. GeoJSON positions are 2D in orb, so heights travel
// as properties.
const (
	propZ      = "z"
	propAnchor = "anchor"
	propEdge   = "edge"
	propQ      = "q"
	propForce  = "force"
	propLength = "length"
)

// EncodeGeoJSON writes net as a FeatureCollection: one LineString per edge
// carrying q, force and length, and one Point per fixed node flagged as an
// anchor. With a projection, coordinates are written as lon/lat; otherwise
// they stay in local meters.
func EncodeGeoJSON(net *network.Network, proj *geo.Projection) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	pt := func(v r3.Vec) orb.Point {
		if proj == nil {
			return orb.Point{v.X, v.Y}
		}
		lat, lon, _ := proj.Unproject(v)
		return orb.Point{lon, lat}
	}

	for i, e := range net.Graph.Edges {
		a, b := e.Start.Position, e.End.Position
		f := geojson.NewFeature(orb.LineString{pt(a), pt(b)})
		f.Properties[propEdge] = i
		f.Properties[propZ] = []float64{a.Z, b.Z}
		f.Properties[propQ] = e.Q
		f.Properties[propForce] = e.Q * e.Length()
		f.Properties[propLength] = e.Length()
		fc.Append(f)
	}
	for _, i := range net.FixedNodes {
		p := net.Graph.Nodes[i].Position
		f := geojson.NewFeature(pt(p))
		f.Properties[propAnchor] = true
		f.Properties[propZ] = p.Z
		fc.Append(f)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encoding geojson: %w", err)
	}
	return data, nil
}

// DecodeGeoJSON reads LineString and MultiLineString features as segments
// and Point features with a true "anchor" property as anchors. Coordinates
// are taken as local meters; heights come from the "z" property when set.
func DecodeGeoJSON(data []byte) (*Input, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}

	in := &Input{}
	var forces []float64
	solved := true
	for i, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			segs := lineSegments(g, heights(f.Properties), i)
			force, ok := f.Properties[propForce].(float64)
			solved = solved && ok
			for range segs {
				forces = append(forces, force)
			}
			in.Segments = append(in.Segments, segs...)
		case orb.MultiLineString:
			solved = false
			for _, ls := range g {
				in.Segments = append(in.Segments, lineSegments(ls, nil, i)...)
			}
		case orb.Point:
			if anchor, _ := f.Properties[propAnchor].(bool); anchor {
				z, _ := f.Properties[propZ].(float64)
				in.Anchors = append(in.Anchors, r3.Vec{X: g[0], Y: g[1], Z: z})
			}
		}
	}
	if len(in.Segments) == 0 {
		return nil, ErrNoGeometry
	}
	if solved {
		in.Forces = forces
	}
	return in, nil
}

// FeatureRef identifies the feature a segment came from.
type FeatureRef struct {
	Feature int
	Vertex  int
}

func lineSegments(ls orb.LineString, z []float64, feature int) []graph.Segment {
	at := func(k int) r3.Vec {
		v := r3.Vec{X: ls[k][0], Y: ls[k][1]}
		if k < len(z) {
			v.Z = z[k]
		}
		return v
	}
	var out []graph.Segment
	for k := 0; k+1 < len(ls); k++ {
		out = append(out, graph.Segment{Start: at(k), End: at(k + 1), Source: FeatureRef{Feature: feature, Vertex: k}})
	}
	return out
}

// heights reads a per-vertex "z" array property.
func heights(props geojson.Properties) []float64 {
	raw, ok := props[propZ].([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i], _ = v.(float64)
	}
	return out
}
