package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// TransientError marks a provider failure that is worth retrying: network trouble,
// timeouts and rate limiting.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transient: %v", e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as never retryable even if it wraps a transient cause.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// classifier is implemented by errors that know whether they are retryable,
// e.g. HTTP status errors.
type classifier interface {
	Transient() bool
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var c classifier
	if errors.As(err, &c) {
		return c.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	return false
}

// IsPermanent reports whether err is known never to succeed on a later attempt: it was
// marked with Permanent or classifies itself as non-transient. Unclassified errors are
// not permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return true
	}
	var c classifier
	if errors.As(err, &c) {
		return !c.Transient()
	}
	return false
}
