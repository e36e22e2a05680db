package webhook

import (
	"errors"
	"fmt"
)

// ErrMissingConfig means no source is registered for the resolved name.
// It is a wiring defect, not a client error.
var ErrMissingConfig = errors.New("source config not found")

// TransformError wraps a transformer failure on input that passed validation.
type TransformError struct {
	Source string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Source, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Client-facing messages.
const (
	msgInvalidSecret  = "Invalid secret"
	msgInvalidPayload = "Invalid payload"
)
