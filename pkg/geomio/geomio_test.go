package geomio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/geo"
	"form_finder/pkg/graph"
	"form_finder/pkg/network"
)

func solvedSquare(t *testing.T) *network.Network {
	t.Helper()
	c := []r3.Vec{{X: 0, Y: 0, Z: 3}, {X: 1, Y: 0}, {X: 1, Y: 1, Z: 3}, {X: 0, Y: 1}}
	segs := make([]graph.Segment, 4)
	for i := range c {
		segs[i] = graph.Segment{Start: c[i], End: c[(i+1)%4]}
	}
	net, err := network.Build(segs, []r3.Vec{c[0], c[2]}, network.Options{
		Build:           graph.BuildOptions{Tolerance: 0.01},
		AnchorTolerance: 0.01,
	})
	require.NoError(t, err)
	for _, e := range net.Graph.Edges {
		e.Q = 2
	}
	return net
}

func TestGeoJSONRoundTrip(t *testing.T) {
	net := solvedSquare(t)
	data, err := EncodeGeoJSON(net, nil)
	require.NoError(t, err)

	in, err := DecodeGeoJSON(data)
	require.NoError(t, err)
	require.Len(t, in.Segments, 4)
	require.Len(t, in.Anchors, 2)

	for i, e := range net.Graph.Edges {
		assert.Equal(t, e.Start.Position, in.Segments[i].Start, "edge %d start", i)
		assert.Equal(t, e.End.Position, in.Segments[i].End, "edge %d end", i)
	}
	require.Len(t, in.Forces, 4)
	for i, e := range net.Graph.Edges {
		assert.InDelta(t, 2*e.Length(), in.Forces[i], 1e-12, "force %d", i)
	}
	assert.Equal(t, r3.Vec{Z: 3}, in.Anchors[0])
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 3}, in.Anchors[1])

	rebuilt, err := network.Build(in.Segments, in.Anchors, network.Options{
		Build:           graph.BuildOptions{Tolerance: 0.01},
		AnchorTolerance: 0.01,
	})
	require.NoError(t, err)
	assert.True(t, rebuilt.Valid)
}

func TestEncodeGeoJSONProjected(t *testing.T) {
	net := solvedSquare(t)
	proj := geo.NewProjection(46, 7)
	data, err := EncodeGeoJSON(net, &proj)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"force"`)
	// Local meters map to lon/lat near the origin.
	assert.Contains(t, string(data), "[7,46]")
}

func TestDecodeGeoJSONMultiLine(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"MultiLineString","coordinates":[[[0,0],[1,0],[2,0]],[[5,5],[6,6]]]}},
		{"type":"Feature","properties":{"anchor":false},"geometry":{"type":"Point","coordinates":[9,9]}}
	]}`)
	in, err := DecodeGeoJSON(data)
	require.NoError(t, err)
	assert.Len(t, in.Segments, 3)
	assert.Empty(t, in.Anchors)
	assert.Nil(t, in.Forces)
}

func TestDecodeGeoJSONEmpty(t *testing.T) {
	_, err := DecodeGeoJSON([]byte(`{"type":"FeatureCollection","features":[]}`))
	assert.ErrorIs(t, err, ErrNoGeometry)

	_, err = DecodeGeoJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestDXFRoundTrip(t *testing.T) {
	net := solvedSquare(t)
	path := filepath.Join(t.TempDir(), "square.dxf")
	require.NoError(t, WriteDXF(path, net))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	in, err := ReadDXF(f, DXFOptions{})
	require.NoError(t, err)
	require.Len(t, in.Segments, 4)
	for i, e := range net.Graph.Edges {
		assert.InDelta(t, 0, r3.Norm(r3.Sub(e.Start.Position, in.Segments[i].Start)), 1e-9, "edge %d start", i)
		assert.InDelta(t, 0, r3.Norm(r3.Sub(e.End.Position, in.Segments[i].End)), 1e-9, "edge %d end", i)
		assert.Equal(t, CableLayer, in.Segments[i].Source.(EntityRef).Layer)
	}
}
