// Package boarderr declares the sentinel error kinds shared by every
// subsystem, so callers can tell a config mistake from a flaky transport
// from a protocol violation without parsing error strings.
package boarderr

import "errors"

var (
	// ErrConfig marks a problem with on-disk configuration: a missing
	// manifest, an unresolvable device, a malformed JSON field.
	ErrConfig = errors.New("config error")

	// ErrTransport marks a failure to reach a physical endpoint: a serial
	// port that won't open, a relay that won't answer, a download that
	// timed out. Transport errors are generally retryable.
	ErrTransport = errors.New("transport error")

	// ErrProtocol marks a response that violates the wire contract: a
	// malformed fragment ack, a missing nonce, a signature rejection.
	// Protocol errors are not retryable without operator intervention.
	ErrProtocol = errors.New("protocol error")

	// ErrLock marks a failure to acquire the distributed relay lock.
	ErrLock = errors.New("lock error")

	// ErrUserAbort marks a user declining an interactive confirmation, or
	// a context cancelled by Ctrl-C.
	ErrUserAbort = errors.New("aborted by user")
)
