package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorClass uint8

const (
	classOther errorClass = iota
	classNotFound
	classConflict
	classUnavailable
)

// codeClasses groups gRPC codes by how services react to them. OutOfRange shows up when a
// precondition on update time fails; Aborted when a transaction loses a contention race.
var codeClasses = map[codes.Code]errorClass{
	codes.NotFound:           classNotFound,
	codes.AlreadyExists:      classConflict,
	codes.FailedPrecondition: classConflict,
	codes.Aborted:            classConflict,
	codes.OutOfRange:         classConflict,
	codes.Unavailable:        classUnavailable,
	codes.ResourceExhausted:  classUnavailable,
	codes.Internal:           classUnavailable,
	codes.DeadlineExceeded:   classUnavailable,
}

// Error carries the failing operation and the gRPC code of a Firestore call. It satisfies the
// repository error contract (IsNotFound, IsConflict, IsUnavailable).
type Error struct {
	op   string
	err  error
	code codes.Code
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Code is the gRPC status code the error was classified from.
func (e *Error) Code() codes.Code {
	if e == nil {
		return codes.OK
	}
	return e.code
}

func (e *Error) class() errorClass {
	if e == nil {
		return classOther
	}
	return codeClasses[e.code]
}

func (e *Error) IsNotFound() bool    { return e.class() == classNotFound }
func (e *Error) IsConflict() bool    { return e.class() == classConflict }
func (e *Error) IsUnavailable() bool { return e.class() == classUnavailable }

// NewError reports a condition detected by repository code, such as a stale version.
func NewError(op string, code codes.Code, format string, args ...any) *Error {
	return &Error{op: op, code: code, err: fmt.Errorf(format, args...)}
}

type classified interface {
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// WrapError turns a Firestore client error into an *Error tagged with op. Cancellation comes
// back as the context error, and errors that are already classified are returned as they are.
// An unnamed *Error picks up op on the way.
func WrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	if code == codes.DeadlineExceeded {
		return context.DeadlineExceeded
	}

	var known classified
	if errors.As(err, &known) {
		var own *Error
		if errors.As(err, &own) && own.op == "" {
			own.op = op
		}
		return err
	}
	return &Error{op: op, err: err, code: code}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
