// Package apperr holds the closed set of error kinds surfaced by the use-cases.
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Compare with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDetectionFailed  = errors.New("detection failed")
	ErrTrainingFailed   = errors.New("training failed")
	ErrInsufficientData = errors.New("insufficient data")
	ErrStorage          = errors.New("storage error")
)

// Error wraps one kind with the operation that produced it.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel as well as anything in the wrapped chain.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func InvalidArgument(op, format string, args ...any) error {
	return newf(ErrInvalidArgument, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newf(ErrNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return newf(ErrConflict, op, format, args...)
}

func DetectionFailed(op, format string, args ...any) error {
	return newf(ErrDetectionFailed, op, format, args...)
}

func TrainingFailed(op, format string, args ...any) error {
	return newf(ErrTrainingFailed, op, format, args...)
}

func InsufficientData(op, format string, args ...any) error {
	return newf(ErrInsufficientData, op, format, args...)
}

// Wrap tags err with kind. An err that already carries a kind is returned as is.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Storage is shorthand for Wrap(ErrStorage, op, err).
func Storage(op string, err error) error {
	return Wrap(ErrStorage, op, err)
}

var kinds = []error{
	ErrInvalidArgument,
	ErrNotFound,
	ErrConflict,
	ErrDetectionFailed,
	ErrTrainingFailed,
	ErrInsufficientData,
	ErrStorage,
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Name is the wire name of a kind, e.g. "Conflict".
func Name(kind error) string {
	switch kind {
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrDetectionFailed:
		return "DetectionFailed"
	case ErrTrainingFailed:
		return "TrainingFailed"
	case ErrInsufficientData:
		return "InsufficientData"
	case ErrStorage:
		return "StorageError"
	default:
		return "Internal"
	}
}
