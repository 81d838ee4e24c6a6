package store

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a topic, session or node does not exist.
// Non-retryable; surfaced to the caller.
var ErrNotFound = errors.New("not found")

// InvariantViolationError reports a detected tree invariant violation, e.g.
// two selected siblings under one parent. Violations are logged as defects
// and repaired by a deterministic re-selection, never silently ignored.
type InvariantViolationError struct {
	ParentID string
	Detail   string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("tree invariant violated under parent %s: %s", e.ParentID, e.Detail)
}
