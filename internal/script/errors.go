package script

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ExecutionError wraps a goja failure (syntax error, thrown exception,
// interrupted execution) into the single error type callers see, matching
// the teacher-adjacent jsvm package's wrapExecutionError switch but
// collapsed to one exported type rather than a family, since every case
// maps to the same SCXML outcome: error.execution.
type ExecutionError struct {
	ScriptName string
	Cause      error
}

func (e *ExecutionError) Error() string {
	if e.ScriptName != "" {
		return fmt.Sprintf("script %q: %v", e.ScriptName, e.Cause)
	}
	return e.Cause.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// wrapExecutionError classifies a goja error into an *ExecutionError,
// mirroring runtime.go's switch on *goja.InterruptedError /
// *goja.Exception / *goja.CompilerSyntaxError.
func wrapExecutionError(scriptName string, err error) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	var exception *goja.Exception
	var syntax *goja.CompilerSyntaxError
	switch {
	case errors.As(err, &interrupted):
		return &ExecutionError{ScriptName: scriptName, Cause: err}
	case errors.As(err, &exception):
		return &ExecutionError{ScriptName: scriptName, Cause: err}
	case errors.As(err, &syntax):
		return &ExecutionError{ScriptName: scriptName, Cause: err}
	default:
		return &ExecutionError{ScriptName: scriptName, Cause: err}
	}
}

// ErrUnknownSession is returned when an operation names a session id the
// Host has no runtime for (never created, or already destroyed).
var ErrUnknownSession = errors.New("script: unknown session")
