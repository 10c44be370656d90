package drive

import (
	"errors"
	"fmt"
)

// ErrorKind is the internal error taxonomy from spec §7, stable across
// retries so the executor's backoff/block decision never has to inspect a
// driver-specific error type directly.
type ErrorKind string

const (
	KindNetworkTransient  ErrorKind = "NetworkTransient"
	KindAuthExpired       ErrorKind = "AuthExpired"
	KindNotFound          ErrorKind = "NotFound"
	KindNameConflict      ErrorKind = "NameConflict"
	KindQuotaExceeded     ErrorKind = "QuotaExceeded"
	KindDecryptionFailure ErrorKind = "DecryptionFailure"
	KindLocalIO           ErrorKind = "LocalIO"
	KindServiceUnavailable ErrorKind = "ServiceUnavailable"
	KindUnknown           ErrorKind = "Unknown"
)

// Error wraps a remote-operation failure with its classified kind.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind reports e's classification, or KindUnknown if err is not a *Error.
func Kind(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// NewError constructs a classified drive error.
func NewError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// Retryable reports whether the executor should schedule a retry (true)
// versus move straight to BLOCKED (false), per the spec §7 policy table.
// AuthExpired is retryable exactly once by the caller's own bookkeeping
// (the executor blocks an AuthExpired failure when the job's n_retries is
// already at least 1); this classification only distinguishes "never
// retry" terminal kinds.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case KindNetworkTransient, KindAuthExpired, KindLocalIO, KindServiceUnavailable:
		return true
	case KindNotFound, KindNameConflict, KindQuotaExceeded:
		return false
	default:
		return true
	}
}
