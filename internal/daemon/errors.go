package daemon

import (
	"errors"
	"fmt"
)

// Exit codes for startup failures. Each failure site has its own code so
// supervisors can tell them apart.
const (
	CodeRelaySocket  = 1
	CodeAppSocket    = 2
	CodeSensorSocket = 3
	CodeSurface      = 4
	CodeRuntimeDir   = 5
	CodeConfig       = 6
	CodeInput        = 7
	CodeSensor       = 8
)

// FatalError is a startup failure that ends the process with Code.
type FatalError struct {
	Code int
	Op   string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(code int, op string, err error) *FatalError {
	return &FatalError{Code: code, Op: op, Err: err}
}

// ExitCode maps err to a process exit status: 0 for nil, the FatalError
// code when there is one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return 1
}
