package cluster

import (
	"errors"
	"fmt"
)

// ErrTableNotInitialized is returned when a cluster has no version row.
var ErrTableNotInitialized = errors.New("membership table has not been initialized")

// PreconditionError rejects a call whose argument is missing or invalid.
type PreconditionError struct {
	Argument string
	Reason   string
}

func (e *PreconditionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("precondition failed: %s is required", e.Argument)
	}
	return fmt.Sprintf("precondition failed: %s %s", e.Argument, e.Reason)
}
