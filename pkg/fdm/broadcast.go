package fdm

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrEmptyList is returned when a list that must be broadcast has no values.
var ErrEmptyList = errors.New("fdm: empty value list")

// Broadcast expands values to length n. Missing trailing entries repeat the
// last supplied value; extra entries are dropped.
func Broadcast(values []float64, n int) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptyList
	}
	out := make([]float64, n)
	last := values[len(values)-1]
	for i := range out {
		if i < len(values) {
			out[i] = values[i]
		} else {
			out[i] = last
		}
	}
	return out, nil
}

// BroadcastVec is Broadcast for 3-vectors, returning the flattened result.
func BroadcastVec(values []r3.Vec, n int) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptyList
	}
	out := make([]float64, 3*n)
	last := values[len(values)-1]
	for i := 0; i < n; i++ {
		v := last
		if i < len(values) {
			v = values[i]
		}
		out[3*i], out[3*i+1], out[3*i+2] = v.X, v.Y, v.Z
	}
	return out, nil
}
