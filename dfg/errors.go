package dfg

import "fmt"

// InvariantError is the panic value raised when the builder, inliner or
// phantom pass finds its own state inconsistent. It is never returned: an
// invariant violation means the compiler itself is broken.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "dfg: invariant violated: " + e.Msg }

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
	}
}
