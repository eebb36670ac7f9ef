package forward

import (
	"errors"
	"fmt"
)

// ErrNoAvailableAccount is returned when the pool has nothing that can serve.
var ErrNoAvailableAccount = errors.New("forward: no available account")

// ExecError wraps a dispatch-time failure: token refresh, request building,
// or the network exchange itself. It carries no upstream status; an upstream
// HTTP error is a response, not an ExecError.
type ExecError struct {
	Op  string
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("forward: %s: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
