package formfind

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"form_finder/pkg/fdm"
	"form_finder/pkg/graph"
)

func TestCacheFIFO(t *testing.T) {
	c := NewCache(2)
	a, b, d := &Result{}, &Result{}, &Result{}
	c.Put(1, a)
	c.Put(2, b)
	c.Put(1, a) // refresh does not reorder
	c.Put(3, d)

	if _, ok := c.Get(1); ok {
		t.Error("oldest entry should have been evicted")
	}
	if r, ok := c.Get(2); !ok || r != b {
		t.Error("entry 2 missing")
	}
	if r, ok := c.Get(3); !ok || r != d {
		t.Error("entry 3 missing")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestKey(t *testing.T) {
	base := squareRequest()
	if Key(base) != Key(squareRequest()) {
		t.Fatal("identical requests must hash equally")
	}

	tests := []struct {
		name   string
		mutate func(*Request)
		same   bool
	}{
		{"source ignored", func(r *Request) { r.Segments[0].Source = "other" }, true},
		{"strategy ignored", func(r *Request) { r.Strategy = graph.StrategyParallel }, true},
		{"moved endpoint", func(r *Request) { r.Segments[1].End = r3.Vec{X: 2} }, false},
		{"force density", func(r *Request) { r.Q = []float64{11} }, false},
		{"optimize flag", func(r *Request) { r.Optimize = true }, false},
		{"objective", func(r *Request) {
			r.Objectives = []ObjectiveSpec{{Kind: fdm.SumForceLength, Weight: 1}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := squareRequest()
			tt.mutate(r)
			if got := Key(r) == Key(base); got != tt.same {
				t.Errorf("same hash = %v, want %v", got, tt.same)
			}
		})
	}
}
