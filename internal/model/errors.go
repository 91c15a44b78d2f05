package model

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindPermissionDenied
	KindTransport
	KindUnsupportedFormat
	KindTooLarge
	KindNotFound
	KindCorrupted
	KindPersistence
	KindReport
	KindCancelled
)

var kindNames = map[ErrorKind]string{
	KindUnknown:           "unknown",
	KindInvalidInput:      "invalid input",
	KindPermissionDenied:  "permission denied",
	KindTransport:         "transport error",
	KindUnsupportedFormat: "unsupported format",
	KindTooLarge:          "too large",
	KindNotFound:          "not found",
	KindCorrupted:         "corrupted",
	KindPersistence:       "persistence error",
	KindReport:            "report generation error",
	KindCancelled:         "cancelled",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Error is a classified failure. Status carries the upstream HTTP status for
// transport errors when one is known.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors of the same kind, so
// errors.Is(err, ErrPermissionDenied) works on any wrapped *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Status == 0 && t.Kind == e.Kind
}

var (
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrTooLarge          = &Error{Kind: KindTooLarge}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrCorrupted         = &Error{Kind: KindCorrupted}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrReport            = &Error{Kind: KindReport}
	ErrCancelled         = &Error{Kind: KindCancelled}
)

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Context cancellation counts as KindCancelled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// IsSkip reports whether err means "not an image we hash" rather than a failure.
func IsSkip(err error) bool {
	k := KindOf(err)
	return k == KindUnsupportedFormat || k == KindTooLarge
}
