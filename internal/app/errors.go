package app

import "fmt"

// Exit codes of a batch run.
const (
	ExitSuccess   = 0
	ExitWarning   = 1
	ExitPreStart  = 2
	ExitLoad      = 3
	ExitExecution = 4
)

// RunError is the outcome of a run that did not fully succeed. Code is the
// process exit code.
type RunError struct {
	Code int
	Err  error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }

func runErrorf(code int, format string, args ...any) *RunError {
	return &RunError{Code: code, Err: fmt.Errorf(format, args...)}
}
