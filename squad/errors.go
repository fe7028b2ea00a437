package squad

import "errors"

// Sentinel errors returned by coordinator operations. Transport-level
// failures are mapped onto these so callers never branch on HTTP status
// codes or socket ack payloads.
var (
	// ErrAuthRequired means the token is missing, expired, or rejected.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotFound means the squad or join code does not exist.
	ErrNotFound = errors.New("squad not found")

	// ErrFull means the squad is at capacity.
	ErrFull = errors.New("squad is full")

	// ErrServerError covers unexpected server-side failures.
	ErrServerError = errors.New("server error")

	// ErrTransportUnavailable means neither transport could carry the
	// operation.
	ErrTransportUnavailable = errors.New("no transport available")

	// ErrClosed means the coordinator has been shut down.
	ErrClosed = errors.New("coordinator closed")

	// ErrSuperseded means a later membership change overtook the operation
	// while its server round trip was in flight; its response was discarded.
	ErrSuperseded = errors.New("operation superseded")
)
