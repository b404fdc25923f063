package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for gateway call outcomes. Callers branch with errors.Is.
var (
	// ErrUnknownModel indicates the model ID has no configured backend.
	ErrUnknownModel = errors.New("unknown model")

	// ErrModelUnavailable indicates a backend and its entire fallback
	// sequence were exhausted without a successful completion.
	ErrModelUnavailable = errors.New("model unavailable")
)

// UnavailableError carries the full failure context when a model's
// fallback chain is exhausted. It unwraps to ErrModelUnavailable so the
// workflow can absorb it as a per-model failure.
type UnavailableError struct {
	// ModelID is the model whose chain was exhausted.
	ModelID string

	// Tried lists the backends attempted, primary first.
	Tried []string

	// Last is the error from the final attempt.
	Last error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable after %d backend(s): %v", e.ModelID, len(e.Tried), e.Last)
}

func (e *UnavailableError) Unwrap() error {
	return ErrModelUnavailable
}
