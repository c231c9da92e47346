// Package osm extracts cable networks from OpenStreetMap PBF extracts:
// aerialways and power lines become segments, their supports become anchors.
package osm

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/geo"
	"form_finder/pkg/graph"
)

// cableAerialways lists aerialway values that are carried by a rope.
var cableAerialways = map[string]bool{
	"cable_car":  true,
	"gondola":    true,
	"mixed_lift": true,
	"chair_lift": true,
	"drag_lift":  true,
	"t-bar":      true,
	"j-bar":      true,
	"platter":    true,
	"rope_tow":   true,
	"zip_line":   true,
	"goods":      true,
}

// cablePower lists power values for overhead conductors.
var cablePower = map[string]bool{
	"line":       true,
	"minor_line": true,
}

// isCable returns true if the way is a tensioned cable.
func isCable(tags osm.Tags) bool {
	if cableAerialways[tags.Find("aerialway")] {
		return true
	}
	if cablePower[tags.Find("power")] {
		// Buried and submarine lines carry no span tension.
		loc := tags.Find("location")
		return loc != "underground" && loc != "underwater"
	}
	return false
}

// isSupport returns true if the node holds a cable up.
func isSupport(tags osm.Tags) bool {
	switch tags.Find("aerialway") {
	case "pylon", "station":
		return true
	}
	switch tags.Find("power") {
	case "tower", "pole", "portal", "terminal":
		return true
	}
	return tags.Find("man_made") == "mast"
}

// parseMeters reads an OSM length value such as "1620", "1620 m" or
// "1620.5m". Feet and other units are rejected.
func parseMeters(v string) (float64, bool) {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "m"))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// nodeHeight returns the cable attachment height of a node: ground
// elevation plus the support height when both are tagged.
func nodeHeight(tags osm.Tags) float64 {
	ele, _ := parseMeters(tags.Find("ele"))
	if h, ok := parseMeters(tags.Find("height")); ok {
		ele += h
	}
	return ele
}

// WayRef identifies the OSM way segment a graph segment came from.
type WayRef struct {
	WayID osm.WayID
	Index int // position of the segment within the way
}

// BBox defines a geographic bounding box for filtering.
// If non-zero, only segments with both endpoints inside the box are kept.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// IsZero returns true if the bbox is unset.
func (b BBox) IsZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLng == 0 && b.MaxLng == 0
}

// Contains returns true if the point is inside the bounding box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ParseOptions configures the OSM parser.
type ParseOptions struct {
	BBox BBox // if non-zero, filter segments to this bounding box

	// AnchorWayEnds anchors the first and last node of every cable way even
	// when the node carries no support tag.
	AnchorWayEnds bool
}

// ParseResult holds the cable network extracted from an OSM PBF file, in
// local meters relative to Projection.
type ParseResult struct {
	Segments   []graph.Segment
	Anchors    []r3.Vec
	Projection geo.Projection
}

type wayInfo struct {
	ID      osm.WayID
	NodeIDs []osm.NodeID
}

type nodeInfo struct {
	Lat, Lon float64
	Z        float64
	Support  bool
}

// Parse reads an OSM PBF file and returns its cable segments and supports.
// The reader is consumed twice (seeks back to start for the second pass),
// so it must implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, opts ...ParseOptions) (*ParseResult, error) {
	var opt ParseOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	// Pass 1: Scan ways to collect cable ways and the nodes they reference.
	referencedNodes := make(map[osm.NodeID]struct{})
	var ways []wayInfo

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok || !isCable(w.Tags) || len(w.Nodes) < 2 {
			continue
		}
		nodeIDs := make([]osm.NodeID, len(w.Nodes))
		for i, wn := range w.Nodes {
			nodeIDs[i] = wn.ID
			referencedNodes[wn.ID] = struct{}{}
		}
		ways = append(ways, wayInfo{ID: w.ID, NodeIDs: nodeIDs})
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 1 (ways): %w", err)
	}
	scanner.Close()

	log.Printf("Pass 1 complete: %d cable ways, %d referenced nodes", len(ways), len(referencedNodes))

	// Pass 2: Scan nodes for coordinates, heights and support tags.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}

	nodes := make(map[osm.NodeID]nodeInfo, len(referencedNodes))

	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, needed := referencedNodes[n.ID]; !needed {
			continue
		}
		nodes[n.ID] = nodeInfo{Lat: n.Lat, Lon: n.Lon, Z: nodeHeight(n.Tags), Support: isSupport(n.Tags)}
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("pass 2 (nodes): %w", err)
	}
	scanner.Close()

	log.Printf("Pass 2 complete: %d node coordinates collected", len(nodes))

	return build(ways, nodes, opt), nil
}

// build turns collected ways and nodes into segments and anchors.
func build(ways []wayInfo, nodes map[osm.NodeID]nodeInfo, opt ParseOptions) *ParseResult {
	useBBox := !opt.BBox.IsZero()
	res := &ParseResult{Projection: origin(ways, nodes)}

	anchored := make(map[osm.NodeID]bool)
	addAnchor := func(id osm.NodeID, n nodeInfo) {
		if anchored[id] {
			return
		}
		anchored[id] = true
		res.Anchors = append(res.Anchors, res.Projection.Project(n.Lat, n.Lon, n.Z))
	}

	var skipped, bboxFiltered int
	for _, w := range ways {
		last := len(w.NodeIDs) - 1
		for i := 0; i < last; i++ {
			fromID, toID := w.NodeIDs[i], w.NodeIDs[i+1]
			from, fromOk := nodes[fromID]
			to, toOk := nodes[toID]
			if !fromOk || !toOk {
				skipped++
				continue
			}
			if useBBox && (!opt.BBox.Contains(from.Lat, from.Lon) || !opt.BBox.Contains(to.Lat, to.Lon)) {
				bboxFiltered++
				continue
			}

			res.Segments = append(res.Segments, graph.Segment{
				Start:  res.Projection.Project(from.Lat, from.Lon, from.Z),
				End:    res.Projection.Project(to.Lat, to.Lon, to.Z),
				Source: WayRef{WayID: w.ID, Index: i},
			})

			for k, id := range [2]osm.NodeID{fromID, toID} {
				n := [2]nodeInfo{from, to}[k]
				end := (k == 0 && i == 0) || (k == 1 && i+1 == last)
				if n.Support || (opt.AnchorWayEnds && end) {
					addAnchor(id, n)
				}
			}
		}
	}

	if skipped > 0 {
		log.Printf("Warning: skipped %d segments due to missing node coordinates", skipped)
	}
	if bboxFiltered > 0 {
		log.Printf("Filtered %d segments outside bounding box", bboxFiltered)
	}
	log.Printf("Built %d cable segments with %d anchors", len(res.Segments), len(res.Anchors))
	return res
}

// origin centres the projection on the first node of the first way with
// known coordinates.
func origin(ways []wayInfo, nodes map[osm.NodeID]nodeInfo) geo.Projection {
	for _, w := range ways {
		for _, id := range w.NodeIDs {
			if n, ok := nodes[id]; ok {
				return geo.NewProjection(n.Lat, n.Lon)
			}
		}
	}
	return geo.NewProjection(0, 0)
}
