//go:build gpu

package compute

/*
#include <stdint.h>
*/
import "C"

import "log/slog"

// clvecaddContextNotify is invoked by the driver through the C trampoline
// registered in clCreateContext. Notifications for released contexts are dropped.
//
//export clvecaddContextNotify
func clvecaddContextNotify(errinfo *C.char, handle C.uintptr_t) {
	message := C.GoString(errinfo)
	if !contextNotify.dispatch(uintptr(handle), message) {
		slog.Debug("OpenCL notification for released context dropped", "message", message)
	}
}
