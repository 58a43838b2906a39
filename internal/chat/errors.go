package chat

import (
	"errors"
	"fmt"
)

// Error categories surfaced to callers.  Relay errors wrap exactly one of
// these together with the underlying cause.
var (
	ErrNotFound           = errors.New("patient not found")
	ErrForbidden          = errors.New("access denied")
	ErrServiceUnavailable = errors.New("ai service unavailable")
	ErrTimeout            = errors.New("ai service timeout")
	ErrInternal           = errors.New("internal error")
)

func wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Kind returns the category of err, ErrInternal when it carries none.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrForbidden, ErrServiceUnavailable, ErrTimeout, ErrInternal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// PublicMessage is the fixed user-facing text of err's category.  Raw
// causes never reach clients through it.
func PublicMessage(err error) string {
	switch Kind(err) {
	case ErrNotFound:
		return "Patient not found"
	case ErrForbidden:
		return "Access denied"
	case ErrServiceUnavailable:
		return "AI service is unavailable. Please try again later."
	case ErrTimeout:
		return "AI service request timed out. Please try again."
	default:
		return "Failed to generate AI response"
	}
}
