// Package cmn provides common constants, configuration, and error types
// shared across the cluster-membership, catalog, and WS-router components.
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds per spec §7. These are not meant to be exhaustive Go types —
// each wraps an underlying cause and carries just enough structure for a
// caller to decide retry vs. give-up vs. log-and-continue.

// ErrConflict means a write lost a race it was allowed to lose: a unique
// index already held the row, or a lease was revoked mid-write. Callers
// treat this as "already there" / "retry with fresh lease", never as fatal.
type ErrConflict struct {
	Op  string
	Key string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("conflict on %s(%s)", e.Op, e.Key)
}

// ErrFatalConsistency aborts the current operation outright: the caller's
// invariant was violated (zero-record merge, multi-file merge output where
// one was required, missing schema). The files involved stay in whatever
// in-memory "processing" set put them there, to be retried on the next scan.
type ErrFatalConsistency struct {
	Reason string
	Cause  error
}

func (e *ErrFatalConsistency) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fatal consistency: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("fatal consistency: %s", e.Reason)
}

func (e *ErrFatalConsistency) Unwrap() error { return e.Cause }

// ErrLockTimeout is returned when a server-side advisory lock (spec §4.4,
// §8) could not be acquired within meta_transaction_lock_timeout.
type ErrLockTimeout struct {
	Lock    string
	Timeout string
}

func (e *ErrLockTimeout) Error() string {
	return fmt.Sprintf("advisory lock %q not acquired within %s", e.Lock, e.Timeout)
}

// ErrProtocol is a malformed-frame error surfaced to a WebSocket client
// (spec §7 kind 4). Disconnect indicates whether the connection must close.
type ErrProtocol struct {
	Code       int
	Message    string
	Disconnect bool
}

func (e *ErrProtocol) Error() string { return e.Message }

// WrapTrace re-wraps err at a component boundary (C5->C3, C7->C8) with the
// trace responsible, per spec §7 propagation policy.
func WrapTrace(err error, traceID, where string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "%s: trace=%s", where, traceID)
}
