package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers unknown users, wrong passwords and
	// password-less accounts alike so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("authentication required")

	ErrValidation = errors.New("invalid request")
	// ErrNotFound is also returned for documents owned by someone else.
	ErrNotFound    = errors.New("document not found")
	ErrFileMissing = errors.New("document file missing")
	ErrTooLarge    = errors.New("file too large")

	ErrConflict          = errors.New("document changed concurrently")
	ErrAlreadySigned     = fmt.Errorf("%w: document already signed", ErrConflict)
	ErrSigningInProgress = fmt.Errorf("%w: signing already in progress", ErrConflict)

	ErrCorruptDocument    = errors.New("document cannot be processed")
	ErrSourceUnavailable  = errors.New("document source temporarily unavailable")
	ErrStorage            = errors.New("storage failure")
	ErrGoogleEmailMissing = errors.New("google account has no verified email")
)

// ValidationError carries a message that is safe to show to clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// storageErr wraps a backend failure so callers can match ErrStorage while
// logs keep the cause.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}
