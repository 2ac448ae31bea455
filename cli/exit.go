package cli

import "fmt"

// Exit codes: 0 success, 1 validation error, 2 runtime failure, 130 cancelled.
const (
	exitSuccess    = 0
	exitValidation = 1
	exitRuntime    = 2
	exitCancelled  = 130
)

// ExitError is an error that carries a specific process exit code. Cobra's
// RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}
