//go:build debugger

package debugonly

import (
	"runtime"
)

// BreakHere stops in an attached debugger. Only built with -tags debugger, never call runtime.Breakpoint directly.
func BreakHere() {
	runtime.Breakpoint()
}

// Enabled reports whether the binary was built with -tags debugger.
func Enabled() bool {
	return true
}
