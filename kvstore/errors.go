package kvstore

import "errors"

// ErrLeaseGone is returned by LeaseKeepAlive when the lease was revoked or
// expired out from under the caller (spec §4.2 liveness loop: "on lease
// expired or revoked, re-publish under a fresh lease").
var ErrLeaseGone = errors.New("kvstore: lease expired or revoked")

// ErrLockLost is returned by Unlocker.Unlock when the underlying lock
// session's lease died before the lock was released.
var ErrLockLost = errors.New("kvstore: lock session lost")
