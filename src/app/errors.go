package app

import (
	"errors"
	"fmt"
)

// Kind classifies request-scoped failures so the transport can map them.
type Kind string

const (
	KindAccessDenied        Kind = "AccessDenied"
	KindFeatureNotEntitled  Kind = "FeatureNotEntitled"
	KindInvalidExpiration   Kind = "InvalidExpiration"
	KindUnsupportedFileType Kind = "UnsupportedFileType"
	KindNotFound            Kind = "NotFound"
	KindExpired             Kind = "Expired"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrAccessDenied        = &Error{Kind: KindAccessDenied}
	ErrFeatureNotEntitled  = &Error{Kind: KindFeatureNotEntitled}
	ErrInvalidExpiration   = &Error{Kind: KindInvalidExpiration}
	ErrUnsupportedFileType = &Error{Kind: KindUnsupportedFileType}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrExpired             = &Error{Kind: KindExpired}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error; repositories use it in place of driver errors.
func NotFoundf(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
