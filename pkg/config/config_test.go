package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/fdm"
	"form_finder/pkg/graph"
)

const sample = `
network:
  build_tolerance: 0.05
  strategy: parallel
  workers: 4
parameters:
  loads: [[0, 0, -2]]
  q: [5, 6]
  lower: [0.1]
  upper: [.inf]
solver:
  optimize: true
  max_iterations: 50
objectives:
  - kind: target_xyz
    nodes: [[1, 0, 0]]
    vectors: [[1, 0, -1]]
  - kind: sum_force_length
    weight: 0.5
server:
  port: 9000
  request_timeout: 45s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "formfind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1e-3, cfg.Network.BuildTolerance)
	assert.Equal(t, "auto", cfg.Network.Strategy)
	assert.True(t, math.IsInf(cfg.Parameters.Upper[0], 1))
	assert.Equal(t, 500, cfg.Solver.MaxIterations)
	assert.Equal(t, 8091, cfg.Server.Port)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Network.BuildTolerance)
	assert.Equal(t, 1e-3, cfg.Network.AnchorTolerance, "unset keys keep defaults")
	assert.Equal(t, []float64{5, 6}, cfg.Parameters.Q)
	assert.True(t, math.IsInf(cfg.Parameters.Upper[0], 1))
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Len(t, cfg.Objectives, 2)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FORMFIND_PORT", "7000")
	t.Setenv("FORMFIND_STRATEGY", "sequential")
	t.Setenv("FORMFIND_ANCHOR_TOLERANCE", "0.25")
	t.Setenv("FORMFIND_OPTIMIZE", "false")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "sequential", cfg.Network.Strategy)
	assert.Equal(t, 0.25, cfg.Network.AnchorTolerance)
	assert.False(t, cfg.Solver.Optimize)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "bad yaml", body: "network: [unclosed"},
		{name: "bad strategy", body: "network:\n  strategy: greedy\n"},
		{name: "bad load vector", body: "parameters:\n  loads: [[1, 2]]\n"},
		{name: "bad objective kind", body: "objectives:\n  - kind: nope\n"},
		{name: "bad env int", body: "", env: map[string]string{"FORMFIND_PORT": "eighty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRequest(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	segs := []graph.Segment{{Start: r3.Vec{}, End: r3.Vec{X: 1}}}
	anchors := []r3.Vec{{}, {X: 1}}
	req, err := cfg.Request(segs, anchors)
	require.NoError(t, err)

	assert.Equal(t, graph.StrategyParallel, req.Strategy)
	assert.Equal(t, 4, req.Workers)
	assert.Equal(t, []r3.Vec{{Z: -2}}, req.Loads)
	assert.True(t, req.Optimize)
	assert.Equal(t, 50, req.Options.MaxIterations)

	require.Len(t, req.Objectives, 2)
	assert.Equal(t, fdm.TargetXYZ, req.Objectives[0].Kind)
	assert.Equal(t, 1.0, req.Objectives[0].Weight)
	assert.Equal(t, []r3.Vec{{X: 1}}, req.Objectives[0].Nodes)
	assert.Equal(t, []r3.Vec{{X: 1, Z: -1}}, req.Objectives[0].Vectors)
	assert.Equal(t, 0.5, req.Objectives[1].Weight)
}
