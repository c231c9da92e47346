// Package config loads form finding settings from YAML, a .env file and
// FORMFIND_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"form_finder/pkg/fdm"
	"form_finder/pkg/formfind"
	"form_finder/pkg/graph"
	"form_finder/pkg/solver"
)

// Objective is one design objective as written in YAML. Edges are input
// segment ordinals; nodes and vectors are [x, y, z] triples.
type Objective struct {
	Kind      string      `yaml:"kind"`
	Weight    float64     `yaml:"weight"` // zero means 1
	Edges     []int       `yaml:"edges"`
	Nodes     [][]float64 `yaml:"nodes"`
	Values    []float64   `yaml:"values"`
	Vectors   [][]float64 `yaml:"vectors"`
	Sharpness float64     `yaml:"sharpness"`
}

// Config holds every setting the command line tools and server read.
type Config struct {
	Network struct {
		BuildTolerance  float64 `yaml:"build_tolerance"`
		AnchorTolerance float64 `yaml:"anchor_tolerance"`
		Strategy        string  `yaml:"strategy"`
		Workers         int     `yaml:"workers"`
	} `yaml:"network"`
	Parameters struct {
		Loads [][]float64 `yaml:"loads"` // [x, y, z] per free node
		Q     []float64   `yaml:"q"`
		Lower []float64   `yaml:"lower"` // .inf / -.inf disable a bound
		Upper []float64   `yaml:"upper"`
	} `yaml:"parameters"`
	Solver struct {
		Optimize         bool    `yaml:"optimize"`
		MaxIterations    int     `yaml:"max_iterations"`
		AbsTolerance     float64 `yaml:"abs_tolerance"`
		RelTolerance     float64 `yaml:"rel_tolerance"`
		BarrierWeight    float64 `yaml:"barrier_weight"`
		BarrierSharpness float64 `yaml:"barrier_sharpness"`
		ReportFrequency  int     `yaml:"report_frequency"`
	} `yaml:"solver"`
	Objectives []Objective `yaml:"objectives"`
	Input      struct {
		AnchorLayer   string `yaml:"anchor_layer"`
		AnchorWayEnds bool   `yaml:"anchor_way_ends"`
	} `yaml:"input"`
	Server struct {
		Port           int           `yaml:"port"`
		MaxConcurrent  int           `yaml:"max_concurrent"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		CacheSize      int           `yaml:"cache_size"`
		CORSOrigin     string        `yaml:"cors_origin"`
	} `yaml:"server"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Network.BuildTolerance = 1e-3
	cfg.Network.AnchorTolerance = 1e-3
	cfg.Network.Strategy = "auto"

	cfg.Parameters.Loads = [][]float64{{0, 0, 0}}
	cfg.Parameters.Q = []float64{1}
	cfg.Parameters.Lower = []float64{math.Inf(-1)}
	cfg.Parameters.Upper = []float64{math.Inf(1)}

	opts := solver.DefaultOptions()
	cfg.Solver.MaxIterations = opts.MaxIterations
	cfg.Solver.AbsTolerance = opts.AbsTolerance
	cfg.Solver.RelTolerance = opts.RelTolerance
	cfg.Solver.BarrierWeight = opts.BarrierWeight
	cfg.Solver.BarrierSharpness = opts.BarrierSharpness
	cfg.Solver.ReportFrequency = opts.ReportFrequency

	cfg.Server.Port = 8091
	cfg.Server.MaxConcurrent = runtime.NumCPU() * 2
	cfg.Server.RequestTimeout = 30 * time.Second
	cfg.Server.CacheSize = formfind.DefaultCacheSize
	return &cfg
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config over the defaults
	cfg := Default()
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// 3. Override with environment variables if present
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	floats := map[string]*float64{
		"FORMFIND_BUILD_TOLERANCE":  &c.Network.BuildTolerance,
		"FORMFIND_ANCHOR_TOLERANCE": &c.Network.AnchorTolerance,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"FORMFIND_WORKERS":        &c.Network.Workers,
		"FORMFIND_MAX_ITERATIONS": &c.Solver.MaxIterations,
		"FORMFIND_PORT":           &c.Server.Port,
		"FORMFIND_MAX_CONCURRENT": &c.Server.MaxConcurrent,
		"FORMFIND_CACHE_SIZE":     &c.Server.CacheSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("FORMFIND_STRATEGY"); v != "" {
		c.Network.Strategy = v
	}
	if v := os.Getenv("FORMFIND_OPTIMIZE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORMFIND_OPTIMIZE: %w", err)
		}
		c.Solver.Optimize = b
	}
	if v := os.Getenv("FORMFIND_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FORMFIND_REQUEST_TIMEOUT: %w", err)
		}
		c.Server.RequestTimeout = d
	}
	if v := os.Getenv("FORMFIND_CORS_ORIGIN"); v != "" {
		c.Server.CORSOrigin = v
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a solve.
func (c *Config) Validate() error {
	if _, err := graph.ParseStrategy(c.Network.Strategy); err != nil {
		return err
	}
	if c.Network.BuildTolerance < 0 || c.Network.AnchorTolerance < 0 {
		return fmt.Errorf("config: tolerances must not be negative")
	}
	if _, err := vectors(c.Parameters.Loads); err != nil {
		return fmt.Errorf("config: loads: %w", err)
	}
	for i, o := range c.Objectives {
		if _, err := o.spec(); err != nil {
			return fmt.Errorf("config: objective %d: %w", i, err)
		}
	}
	return nil
}

// SolverOptions returns the optimizer settings.
func (c *Config) SolverOptions() solver.Options {
	return solver.Options{
		MaxIterations:    c.Solver.MaxIterations,
		AbsTolerance:     c.Solver.AbsTolerance,
		RelTolerance:     c.Solver.RelTolerance,
		BarrierWeight:    c.Solver.BarrierWeight,
		BarrierSharpness: c.Solver.BarrierSharpness,
		ReportFrequency:  c.Solver.ReportFrequency,
	}
}

// Request builds a solve request for the given geometry.
func (c *Config) Request(segments []graph.Segment, anchors []r3.Vec) (*formfind.Request, error) {
	strategy, err := graph.ParseStrategy(c.Network.Strategy)
	if err != nil {
		return nil, err
	}
	loads, err := vectors(c.Parameters.Loads)
	if err != nil {
		return nil, fmt.Errorf("loads: %w", err)
	}
	req := &formfind.Request{
		Segments:        segments,
		Anchors:         anchors,
		BuildTolerance:  c.Network.BuildTolerance,
		AnchorTolerance: c.Network.AnchorTolerance,
		Strategy:        strategy,
		Workers:         c.Network.Workers,
		Loads:           loads,
		Q:               c.Parameters.Q,
		Lower:           c.Parameters.Lower,
		Upper:           c.Parameters.Upper,
		Options:         c.SolverOptions(),
		Optimize:        c.Solver.Optimize,
	}
	for i, o := range c.Objectives {
		spec, err := o.spec()
		if err != nil {
			return nil, fmt.Errorf("objective %d: %w", i, err)
		}
		req.Objectives = append(req.Objectives, spec)
	}
	return req, nil
}

func (o Objective) spec() (formfind.ObjectiveSpec, error) {
	kind, err := fdm.ParseKind(o.Kind)
	if err != nil {
		return formfind.ObjectiveSpec{}, err
	}
	nodes, err := vectors(o.Nodes)
	if err != nil {
		return formfind.ObjectiveSpec{}, fmt.Errorf("nodes: %w", err)
	}
	vecs, err := vectors(o.Vectors)
	if err != nil {
		return formfind.ObjectiveSpec{}, fmt.Errorf("vectors: %w", err)
	}
	weight := o.Weight
	if weight == 0 {
		weight = 1
	}
	return formfind.ObjectiveSpec{
		Kind:      kind,
		Weight:    weight,
		Edges:     o.Edges,
		Nodes:     nodes,
		Values:    o.Values,
		Vectors:   vecs,
		Sharpness: o.Sharpness,
	}, nil
}

func vectors(raw [][]float64) ([]r3.Vec, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]r3.Vec, len(raw))
	for i, v := range raw {
		if len(v) != 3 {
			return nil, fmt.Errorf("entry %d has %d components, want 3", i, len(v))
		}
		out[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	}
	return out, nil
}
