// Package apierr defines the sentinel error taxonomy shared by every
// fake service's HTTP surface (spec §7). Handlers wrap one of these
// with fmt.Errorf's %w so callers can errors.Is against a stable kind
// regardless of which component raised it.
package apierr

import "errors"

var (
	// ErrNotFound is returned when a resource id doesn't exist in the
	// active namespace's overlay or the underlying baseline.
	ErrNotFound = errors.New("apierr: resource not found")
	// ErrConflict is returned for a write that violates a uniqueness or
	// state-machine invariant (e.g. re-creating a deleted-but-visible id).
	ErrConflict = errors.New("apierr: conflicting state")
	// ErrValidation is returned for a structurally invalid request body.
	ErrValidation = errors.New("apierr: validation failed")
	// ErrUnauthorized is returned by vendor-auth middleware when a
	// request carries no credentials or invalid ones.
	ErrUnauthorized = errors.New("apierr: unauthorized")
	// ErrReadOnlyViolation is raised by the connector's read-only HTTP
	// client on a disallowed method or a blocked host; it never reaches
	// the public HTTP surface, only the snapshot-pull CLI's exit path.
	ErrReadOnlyViolation = errors.New("apierr: read-only client violation")
	// ErrTimeout is returned when an outbound call exceeds its budget.
	ErrTimeout = errors.New("apierr: operation timed out")
)

// StatusCode maps a taxonomy sentinel to the HTTP status a vendor-shaped
// handler should respond with. Unrecognized errors default to 500 by
// the caller, not here.
func StatusCode(err error) (int, bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return 404, true
	case errors.Is(err, ErrConflict):
		return 409, true
	case errors.Is(err, ErrValidation):
		return 400, true
	case errors.Is(err, ErrUnauthorized):
		return 401, true
	case errors.Is(err, ErrTimeout):
		return 504, true
	default:
		return 0, false
	}
}
