package query

import (
	"errors"
	"fmt"
)

// ErrInvalidDateRange is returned when startRange is after endRange or a
// bound cannot be parsed.
var ErrInvalidDateRange = errors.New("invalid date range")

// MalformedMatrixError reports a matrix row that cannot be turned into a Spec.
type MalformedMatrixError struct {
	Row    int
	Reason string
}

// Error implements the error interface.
func (e *MalformedMatrixError) Error() string {
	return fmt.Sprintf("malformed matrix row %d: %s", e.Row, e.Reason)
}
