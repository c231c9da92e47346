package formfind

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"form_finder/pkg/solver"
)

func TestRequestOptionsFillsUnsetFields(t *testing.T) {
	def := solver.DefaultOptions()

	tests := []struct {
		name string
		in   solver.Options
		want solver.Options
	}{
		{"zero value", solver.Options{}, def},
		{
			name: "barrier weight only",
			in:   solver.Options{BarrierWeight: 5},
			want: func() solver.Options { o := def; o.BarrierWeight = 5; return o }(),
		},
		{
			name: "iterations and frequency",
			in:   solver.Options{MaxIterations: 20, ReportFrequency: 3},
			want: func() solver.Options { o := def; o.MaxIterations, o.ReportFrequency = 20, 3; return o }(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Options: tt.in}
			assert.Equal(t, tt.want, req.options())
		})
	}
}

func TestKeySeesPartialOptions(t *testing.T) {
	a := &Request{Options: solver.Options{BarrierWeight: 5}}
	b := &Request{}
	assert.NotEqual(t, Key(a), Key(b))
}
