package profile

import (
	"errors"
	"fmt"
)

// ErrProfileNotFound indicates no profile row exists for the user. Callers
// treat it as "new user, begin onboarding".
var ErrProfileNotFound = errors.New("profile not found")

// ErrNoPending indicates a confirmation resolve was attempted with nothing
// staged for the conversation.
var ErrNoPending = errors.New("no pending confirmation")

// ErrConfirmationExpired indicates the staged confirmation outlived its
// validity window and was discarded.
var ErrConfirmationExpired = errors.New("pending confirmation expired")

// ValidationError marks malformed input. Nothing is mutated when one is
// returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
