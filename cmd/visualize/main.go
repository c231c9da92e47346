package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/api"
	"form_finder/pkg/geomio"
	"form_finder/pkg/render"
)

var (
	serverURL  string
	httpClient = &http.Client{Timeout: 60 * time.Second}
)

func main() {
	input := flag.String("input", "", "Solved network as GeoJSON (from formfind --geojson)")
	output := flag.String("output", "", "Write the plan view to this SVG file and exit")
	port := flag.Int("port", 3000, "HTTP port to serve on when no --output is given")
	width := flag.Int("width", 800, "Image width in pixels")
	height := flag.Int("height", 800, "Image height in pixels")
	flag.StringVar(&serverURL, "server-url", "http://localhost:8091", "form finding server URL for /render")
	flag.Parse()

	opts := render.DefaultOptions()
	opts.Width, opts.Height = *width, *height

	if *output != "" {
		if *input == "" {
			fmt.Fprintln(os.Stderr, "Usage: visualize --input <network.geojson> --output <plan.svg>")
			os.Exit(1)
		}
		scene, err := loadScene(*input)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *input, err)
		}
		var buf bytes.Buffer
		if err := render.Render(&buf, scene, opts); err != nil {
			log.Fatalf("Failed to render: %v", err)
		}
		if err := os.WriteFile(*output, buf.Bytes(), 0o644); err != nil {
			log.Fatalf("Failed to write %s: %v", *output, err)
		}
		log.Printf("Wrote %d lines to %s", len(scene.Lines), *output)
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if *input == "" {
			http.Error(w, "no --input file given; POST a solve request to /render", http.StatusNotFound)
			return
		}
		// Re-read on every request so reruns of formfind show up on refresh.
		scene, err := loadScene(*input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeSVG(w, scene, opts)
	})
	mux.HandleFunc("POST /render", func(w http.ResponseWriter, r *http.Request) {
		handleRender(w, r, opts)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Visualize server starting on http://localhost:%d", *port)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// handleRender forwards a solve request to the form finding server and
// draws the result.
func handleRender(w http.ResponseWriter, r *http.Request, opts render.Options) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	resp, err := httpClient.Post(serverURL+"/api/v1/solve", "application/json", bytes.NewReader(body))
	if err != nil {
		http.Error(w, "server unreachable: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		http.Error(w, fmt.Sprintf("server returned %d: %s", resp.StatusCode, truncate(string(msg), 500)), http.StatusBadGateway)
		return
	}

	var solved api.SolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&solved); err != nil {
		http.Error(w, "invalid server response", http.StatusBadGateway)
		return
	}
	writeSVG(w, sceneFromResponse(&solved), opts)
}

func writeSVG(w http.ResponseWriter, scene render.Scene, opts render.Options) {
	var buf bytes.Buffer
	if err := render.Render(&buf, scene, opts); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(buf.Bytes())
}

func loadScene(path string) (render.Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return render.Scene{}, err
	}
	in, err := geomio.DecodeGeoJSON(data)
	if err != nil {
		return render.Scene{}, err
	}
	return sceneFromInput(in), nil
}

// sceneFromInput draws decoded geometry. Without stored forces every line
// is drawn at zero force.
func sceneFromInput(in *geomio.Input) render.Scene {
	s := render.Scene{Lines: make([]render.Line, len(in.Segments)), Anchors: in.Anchors}
	for i, seg := range in.Segments {
		s.Lines[i] = render.Line{A: seg.Start, B: seg.End}
		if in.Forces != nil {
			s.Lines[i].Force = in.Forces[i]
		}
	}
	return s
}

func sceneFromResponse(resp *api.SolveResponse) render.Scene {
	vec := func(v api.Vec3) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }
	s := render.Scene{Lines: make([]render.Line, len(resp.Edges))}
	for i, e := range resp.Edges {
		s.Lines[i] = render.Line{A: vec(resp.Nodes[e.Start]), B: vec(resp.Nodes[e.End]), Force: e.Force}
	}
	for _, n := range resp.FixedNodes {
		s.Anchors = append(s.Anchors, vec(resp.Nodes[n]))
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
