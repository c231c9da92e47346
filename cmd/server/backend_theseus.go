//go:build theseus

package main

import (
	"form_finder/pkg/solver"
	"form_finder/pkg/solver/native"
)

func newBackend() (solver.Backend, string) {
	return native.Backend{}, "theseus"
}
