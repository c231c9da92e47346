//go:build theseus

package native

/*
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"form_finder/pkg/solver"
)

// goProgress is invoked by libtheseus on the solving thread. A zero return
// asks the optimizer to stop.
//
//export goProgress
func goProgress(user C.uintptr_t, iter C.int, loss C.double, xyz *C.double, n C.size_t) C.int {
	fn := cgo.Handle(user).Value().(solver.ProgressFunc)
	flat := unsafe.Slice((*float64)(unsafe.Pointer(xyz)), int(n))
	if fn(int(iter), float64(loss), append([]float64(nil), flat...)) {
		return 1
	}
	return 0
}
