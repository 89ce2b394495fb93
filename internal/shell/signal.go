package shell

import "syscall"

// unixSignal converts a numeric signal (as carried in the kill action's
// wire payload) to the type os.Process.Signal expects.
func unixSignal(n int) syscall.Signal {
	return syscall.Signal(n)
}
