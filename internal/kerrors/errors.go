// Package kerrors classifies kernel errors by kind so that callers at a
// subsystem boundary (syscall return, shell command, gateway response) can
// decide whether to retry, surface, or promote to a fatal panic without
// string-matching error text. It wraps containerd/errdefs, the same
// IsNotFound/IsInvalidArgument/... vocabulary moby uses over its own
// error tree, rather than inventing a parallel enum.
package kerrors

import (
	stdliberrors "errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

// Taxonomy per spec §7: invalid argument, resource-exhausted, permission-
// denied, rate-limited, not-found, timeout surface immediately or with a
// retry hint; fatal invariant violations never flow through this package
// (see kpanic). Each constructor wraps the caller's error around the
// matching errdefs sentinel so errors.Is / errdefs.Is* both work on it.
func InvalidArgument(err error) error {
	return fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
}
func NotFound(err error) error {
	return fmt.Errorf("%w: %w", errdefs.ErrNotFound, err)
}
func PermissionDenied(err error) error {
	return fmt.Errorf("%w: %w", errdefs.ErrPermissionDenied, err)
}
func ResourceExhausted(err error) error {
	return fmt.Errorf("%w: %w", errdefs.ErrResourceExhausted, err)
}
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", errdefs.ErrUnavailable, err)
}
func DeadlineExceeded(err error) error {
	return fmt.Errorf("%w: %w", errdefs.ErrDeadlineExceeded, err)
}

var (
	IsInvalidArgument   = errdefs.IsInvalidArgument
	IsNotFound          = errdefs.IsNotFound
	IsPermissionDenied  = errdefs.IsPermissionDenied
	IsResourceExhausted = errdefs.IsResourceExhausted
	IsUnavailable       = errdefs.IsUnavailable
	IsDeadlineExceeded  = errdefs.IsDeadlineExceeded
)

// NewRetryable marks an error as safe to retry through a fallback chain or
// device-specific retry loop (provider failures, transient block I/O).
func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}
