package appointment

import (
	"errors"
	"fmt"
)

// ErrSlotUnavailable is returned when a booking targets a slot that does not
// exist or was already taken, including by a concurrent booking that won.
var ErrSlotUnavailable = errors.New("this slot is no longer available")

// ValidationError describes a malformed request. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
