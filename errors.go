package casedb

import (
	"errors"
	"fmt"
)

// ErrNotFound keeps "no matching row" results consistent across managers.
// Lookups that may legitimately miss return (nil, nil) instead; fetch-by-id
// style queries wrap this sentinel so callers can errors.Is against it.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateType is returned when registering an attribute type whose name
// or id is already taken.
var ErrDuplicateType = errors.New("attribute type already exists")

// ValidationError indicates the caller supplied insufficient or malformed
// input: missing identity evidence, a bad SID, or a value/kind mismatch.
// Validation errors fail fast with no side effects and are never retried.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotUserSIDError indicates a Windows SID that identifies a group rather than
// a user account. Group SIDs never become OS accounts or realm addresses.
type NotUserSIDError struct {
	SID string
}

func (e *NotUserSIDError) Error() string {
	return fmt.Sprintf("SID %s is a group SID, not a user SID", e.SID)
}
