package remote

import (
	"errors"
	"fmt"
)

// Kind classifies remote call failures into the categories the rest of the
// gateway branches on.
type Kind string

const (
	// KindNetworkUnavailable covers connection refusal, DNS failure, and
	// other transport-level errors.
	KindNetworkUnavailable Kind = "network_unavailable"
	// KindTimeout covers per-call deadline expiry after retries.
	KindTimeout Kind = "timeout"
	// KindUnauthorized forces re-authentication upstream.
	KindUnauthorized Kind = "unauthorized"
	// KindValidation reports field-level rejection by the remote service.
	KindValidation Kind = "validation"
	// KindConflict reports state drift (e.g. stock changed under an
	// optimistic update); callers resolve it with an authoritative refetch.
	KindConflict Kind = "conflict"
	// KindNotFound reports a missing resource.
	KindNotFound Kind = "not_found"
	// KindUnavailable covers remote 5xx responses and open circuit state.
	KindUnavailable Kind = "unavailable"
)

// Error is the canonical failure returned by every client call.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "remote: <nil>"
	}
	if e.Message != "" {
		return fmt.Sprintf("remote: %s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote: %s: %v (%s)", e.Op, e.Err, e.Kind)
	}
	return fmt.Sprintf("remote: %s failed (%s)", e.Op, e.Kind)
}

// Unwrap exposes the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTimeout reports whether the error is a deadline expiry.
func (e *Error) IsTimeout() bool { return e != nil && e.Kind == KindTimeout }

// IsUnauthorized reports whether re-authentication is required.
func (e *Error) IsUnauthorized() bool { return e != nil && e.Kind == KindUnauthorized }

// IsConflict reports whether the remote state drifted under the caller.
func (e *Error) IsConflict() bool { return e != nil && e.Kind == KindConflict }

// IsNotFound reports whether the resource is missing.
func (e *Error) IsNotFound() bool { return e != nil && e.Kind == KindNotFound }

// KindOf extracts the failure kind from an arbitrary error chain.
func KindOf(err error) (Kind, bool) {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind, true
	}
	return "", false
}
