// Package errs defines the error taxonomy shared by the content core.
// Every error the core hands to the HTTP layer wraps one of these sentinels,
// so handlers can map outcomes to status codes with errors.Is/As and nothing
// is retried inside the core itself.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound covers missing sections, schema versions, entries, entry
	// versions, and tenant-ownership mismatches on lookups.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks entry data that failed JSON Schema validation.
	ErrValidation = errors.New("validation failed")

	// ErrPayloadTooLarge marks entry data over the configured byte ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidTransition marks a status change the state table forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCompatibilityBlocked marks a schema activation rejected by the
	// additive-only compatibility check.
	ErrCompatibilityBlocked = errors.New("schema activation blocked")

	// ErrActivationConflict marks a concurrent activation race detected by
	// the active-version uniqueness constraint. Callers may retry.
	ErrActivationConflict = errors.New("schema activation conflict")

	// ErrForbidden marks a permission-check denial before any mutation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict covers duplicate identities (slug, idempotence races).
	ErrConflict = errors.New("conflict")
)

// NotFound returns ErrNotFound annotated with the missing resource.
func NotFound(what string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(what, args...), ErrNotFound)
}

// ValidationError carries the first failing instance path and the validator
// message for an entry document.
type ValidationError struct {
	Path    string // dot-joined instance path, may be empty
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed at %s: %s", e.Path, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PayloadTooLargeError reports the measured and allowed sizes in bytes.
type PayloadTooLargeError struct {
	Size  int
	Limit int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload is %d bytes, limit is %d bytes", e.Size, e.Limit)
}

func (e *PayloadTooLargeError) Unwrap() error { return ErrPayloadTooLarge }

// TransitionError carries the rejected (src, dst) pair.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition entry from %q to %q", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CompatibilityError carries the specific violations that blocked activation.
type CompatibilityError struct {
	Violations []string
}

func (e *CompatibilityError) Error() string {
	return "schema activation blocked: " + strings.Join(e.Violations, "; ")
}

func (e *CompatibilityError) Unwrap() error { return ErrCompatibilityBlocked }
