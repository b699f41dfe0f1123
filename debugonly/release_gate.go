//go:build !debugger

package debugonly

// BreakHere is a no-op without -tags debugger.
func BreakHere() {}

func Enabled() bool {
	return false
}
