package model

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("version conflict")
	ErrAmbiguous    = errors.New("ambiguous")
	ErrTimeout      = errors.New("timeout")
	ErrTransient    = errors.New("transient")
	ErrSyncFailed   = errors.New("sync failed")
)

// Retryable reports whether err is worth retrying against an external system.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
}
