package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Error Kinds ────────────────────────────────────────────────────────────
// Business-rule violations are returned as *Error values carrying a Kind.
// Anything that is not an *Error is treated as InternalError by callers.

// ErrorKind classifies a failure.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NotFound"
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindInvalidAmount     ErrorKind = "InvalidAmount"
	KindInvalidState      ErrorKind = "InvalidState"
	KindUnauthorized      ErrorKind = "Unauthorized"
	KindInsufficientFunds ErrorKind = "InsufficientFunds"
	KindOverFunding       ErrorKind = "OverFunding"
	KindDuplicateApproval ErrorKind = "DuplicateApproval"
	KindDuplicateIdentity ErrorKind = "DuplicateIdentity"
	KindPartialFailure    ErrorKind = "PartialFailure"
	KindInternal          ErrorKind = "InternalError"
)

// Error is a typed domain failure.
type Error struct {
	Kind    ErrorKind
	Message string
	// Unpaid lists employee ids that received nothing when Kind is PartialFailure.
	Unpaid []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for errors.Is matching.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrOverFunding       = &Error{Kind: KindOverFunding}
	ErrDuplicateApproval = &Error{Kind: KindDuplicateApproval}
	ErrDuplicateIdentity = &Error{Kind: KindDuplicateIdentity}
	ErrPartialFailure    = &Error{Kind: KindPartialFailure}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected fault (storage, corruption).
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, Err: err}
}

// PartialFailure reports an aborted distribution.
func PartialFailure(unpaid []string, cause error) *Error {
	return &Error{
		Kind:    KindPartialFailure,
		Message: fmt.Sprintf("distribution aborted, %d employee(s) unpaid", len(unpaid)),
		Unpaid:  unpaid,
		Err:     cause,
	}
}

// KindOf returns the kind of err. Untyped errors are InternalError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
