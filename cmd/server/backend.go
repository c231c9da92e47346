//go:build !theseus

package main

import "form_finder/pkg/solver"

func newBackend() (solver.Backend, string) {
	return solver.Reference{}, "reference"
}
