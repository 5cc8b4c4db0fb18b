// Package common defines the sentinel errors shared by the portal's layers.
// Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Storage errors. Never shown to clients verbatim.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrVersionConflict    = errors.New("version conflict")

	// Auth errors.
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrConnectionRefused    = errors.New("connection refused")

	// Validation errors.
	ErrValidation     = errors.New("validation error")
	ErrDuplicateEmail = fmt.Errorf("%w: email already registered", ErrValidation)
	ErrInvalidTheme   = fmt.Errorf("%w: invalid theme", ErrValidation)
)

// StorageError reports a failed backend operation. It matches
// ErrStorageUnavailable under errors.Is and unwraps to the cause.
type StorageError struct {
	Backend string // "file", "sqlite", "s3", ...
	Op      string // "read", "write", "decode", ...
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}
