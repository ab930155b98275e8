package app

import (
	"errors"
	"fmt"
)

// ErrNotFound and related errors classify every failure the mutation engine surfaces.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("conflict")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrNotAMember       = fmt.Errorf("%w: not a project member", ErrForbidden)
)

// Error kind codes returned by ErrorKind.
const (
	KindValidation       = "validation"
	KindForbidden        = "forbidden"
	KindNotFound         = "not_found"
	KindConflict         = "conflict"
	KindUnknownOperation = "unknown_operation"
	KindInternal         = "internal"
)

// ErrorKind maps an error onto a stable transport-facing code.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownOperation):
		return KindUnknownOperation
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// invalidField reports a malformed or missing argument, keeping the cause matchable.
func invalidField(field string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	return fmt.Errorf("%w: %s: %w", ErrValidation, field, cause)
}

// conflictf reports a structural conflict.
func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

// notFound wraps ErrNotFound with the entity kind and id.
func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, entity, id)
}
