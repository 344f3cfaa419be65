package repositories

import (
	"errors"
	"fmt"
)

type storeErrorKind int

const (
	kindNotFound storeErrorKind = iota + 1
	kindConflict
	kindUnavailable
)

// StoreError is the RepositoryError used by the in-memory and SQL backends.
type StoreError struct {
	Op   string
	kind storeErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error represents a missing record.
func (e *StoreError) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict reports whether the error represents a rejected conditional write.
func (e *StoreError) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable reports whether the backend could not be reached.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// NewNotFoundError reports that entity id does not exist.
func NewNotFoundError(op, entity, id string) *StoreError {
	return &StoreError{Op: op, kind: kindNotFound, Err: fmt.Errorf("%s %q not found", entity, id)}
}

// NewConflictError reports a failed precondition.
func NewConflictError(op, message string) *StoreError {
	return &StoreError{Op: op, kind: kindConflict, Err: errors.New(message)}
}

// NewUnavailableError wraps a backend failure.
func NewUnavailableError(op string, err error) *StoreError {
	if err == nil {
		err = errors.New("backend unavailable")
	}
	return &StoreError{Op: op, kind: kindUnavailable, Err: err}
}

// IsNotFound reports whether err carries repository not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries repository conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries repository outage semantics.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
