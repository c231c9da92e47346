package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"form_finder/pkg/config"
	"form_finder/pkg/formfind"
	"form_finder/pkg/geo"
	"form_finder/pkg/geomio"
	osmparser "form_finder/pkg/osm"
	"form_finder/pkg/render"
	"form_finder/pkg/solver"
)

func main() {
	input := flag.String("input", "", "Input geometry: .dxf, .geojson or .osm.pbf")
	configPath := flag.String("config", "", "YAML settings file (optional)")
	geojsonOut := flag.String("geojson", "", "Write the solved network as GeoJSON")
	dxfOut := flag.String("dxf", "", "Write the solved network as DXF")
	svgOut := flag.String("svg", "", "Write a plan view of member forces as SVG")
	bbox := flag.String("bbox", "", "OSM only: minLat,minLng,maxLat,maxLng filter")
	optimize := flag.Bool("optimize", false, "Run the optimizer even if the config does not ask for it")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: formfind --input <file.dxf|file.geojson|file.osm.pbf> [--config settings.yaml] [--geojson out.geojson] [--dxf out.dxf] [--svg out.svg] [--bbox minLat,minLng,maxLat,maxLng]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *optimize {
		cfg.Solver.Optimize = true
	}

	start := time.Now()

	// Step 1: Read geometry.
	log.Printf("Reading %s...", *input)
	in, proj, err := readInput(*input, cfg, *bbox)
	if err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}
	log.Printf("Read %d segments, %d anchors", len(in.Segments), len(in.Anchors))

	// Step 2: Solve.
	req, err := cfg.Request(in.Segments, in.Anchors)
	if err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := formfind.NewEngine(solver.Reference{}, nil)
	res, err := engine.Solve(ctx, req, func(iter int, loss float64, _ []float64) bool {
		log.Printf("  eval %d: loss %.6g", iter, loss)
		return true
	})
	if err != nil {
		log.Fatalf("Solve failed: %v", err)
	}
	for _, issue := range res.Diagnostics {
		log.Printf("Warning: %s", issue)
	}
	summarize(res)

	// Step 3: Write outputs.
	net := res.Network
	if *geojsonOut != "" {
		data, err := geomio.EncodeGeoJSON(net, proj)
		if err != nil {
			log.Fatalf("Failed to encode GeoJSON: %v", err)
		}
		if err := os.WriteFile(*geojsonOut, data, 0o644); err != nil {
			log.Fatalf("Failed to write GeoJSON: %v", err)
		}
		log.Printf("Wrote %s", *geojsonOut)
	}
	if *dxfOut != "" {
		if err := geomio.WriteDXF(*dxfOut, net); err != nil {
			log.Fatalf("Failed to write DXF: %v", err)
		}
		log.Printf("Wrote %s", *dxfOut)
	}
	if *svgOut != "" {
		if err := writeSVG(*svgOut, render.FromNetwork(net)); err != nil {
			log.Fatalf("Failed to write SVG: %v", err)
		}
		log.Printf("Wrote %s", *svgOut)
	}

	log.Printf("Done in %s", time.Since(start).Round(time.Millisecond))
}

// readInput dispatches on the file extension. The projection is non-nil only
// for OSM input, whose coordinates are geographic.
func readInput(path string, cfg *config.Config, bbox string) (*geomio.Input, *geo.Projection, error) {
	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".osm.pbf"):
		opts := osmparser.ParseOptions{AnchorWayEnds: cfg.Input.AnchorWayEnds}
		if bbox != "" {
			b, err := parseBBox(bbox)
			if err != nil {
				return nil, nil, err
			}
			opts.BBox = b
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		pr, err := osmparser.Parse(context.Background(), f, opts)
		if err != nil {
			return nil, nil, err
		}
		return &geomio.Input{Segments: pr.Segments, Anchors: pr.Anchors}, &pr.Projection, nil

	case filepath.Ext(name) == ".dxf":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		in, err := geomio.ReadDXF(f, geomio.DXFOptions{AnchorLayer: cfg.Input.AnchorLayer})
		return in, nil, err

	case filepath.Ext(name) == ".geojson" || filepath.Ext(name) == ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		in, err := geomio.DecodeGeoJSON(data)
		return in, nil, err
	}
	return nil, nil, fmt.Errorf("unsupported input format: %s", filepath.Ext(path))
}

func parseBBox(s string) (osmparser.BBox, error) {
	var minLat, minLng, maxLat, maxLng float64
	if _, err := fmt.Sscanf(s, "%f,%f,%f,%f", &minLat, &minLng, &maxLat, &maxLng); err != nil {
		return osmparser.BBox{}, fmt.Errorf("invalid bbox (expected minLat,minLng,maxLat,maxLng): %w", err)
	}
	log.Printf("Using bounding box filter: lat [%.4f, %.4f], lng [%.4f, %.4f]", minLat, maxLat, minLng, maxLng)
	return osmparser.BBox{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}, nil
}

func summarize(res *formfind.Result) {
	net, sol := res.Network, res.Solution
	log.Printf("Network: %d nodes (%d free, %d fixed), %d edges",
		len(net.Graph.Nodes), len(net.FreeNodes), len(net.FixedNodes), len(net.Graph.Edges))
	log.Printf("Solver: %d iterations, converged=%v (%s)", sol.Iterations, sol.Converged, sol.Reason)

	if len(sol.Forces) == 0 {
		return
	}
	lo, hi := sol.Forces[0], sol.Forces[0]
	for _, f := range sol.Forces {
		lo, hi = min(lo, f), max(hi, f)
	}
	log.Printf("Member forces: min %.4g, max %.4g", lo, hi)
}

func writeSVG(path string, scene render.Scene) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render.Render(f, scene, render.DefaultOptions()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
