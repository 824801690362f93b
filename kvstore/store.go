// Package kvstore wraps the leased key-value store that backs cluster
// membership (spec §4.2, §6): put_with_lease, lease_keep_alive, watch,
// and a distributed lock. The spec models this verbatim on etcd's
// clientv3 concurrency API, so that is the grounded choice of client
// (go.etcd.io/etcd/client/v3) even though no repo in the retrieval pack
// imports it directly — see DESIGN.md.
package kvstore

import (
	"context"
	"time"
)

// Event is a single watch notification.
type Event struct {
	Type  EventType
	Key   string
	Value []byte
}

type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// KV is the interface the cluster registry depends on, kept narrow enough
// that tests can substitute an in-memory fake (see fake.go) instead of
// standing up etcd — the "expose via component-level handles" rule in
// spec §9's Design Notes.
type KV interface {
	// Put writes value at key, attached to leaseID (0 means no lease).
	Put(ctx context.Context, key string, value []byte, leaseID LeaseID) error
	// Get lists all keys under prefix.
	Get(ctx context.Context, prefix string) ([]KeyValue, error)
	Delete(ctx context.Context, key string) error

	// LeaseGrant allocates a new lease with the given TTL.
	LeaseGrant(ctx context.Context, ttl time.Duration) (LeaseID, error)
	// LeaseKeepAlive keeps a lease alive until ctx is cancelled or the
	// lease is revoked/expired server-side, in which case it returns
	// ErrLeaseGone.
	LeaseKeepAlive(ctx context.Context, id LeaseID) error

	// Watch streams Put/Delete events for prefix until ctx is cancelled.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)

	// Lock blocks until name is acquired and returns a handle to release it.
	Lock(ctx context.Context, name string) (Unlocker, error)

	Close() error
}

type LeaseID int64

type KeyValue struct {
	Key   string
	Value []byte
}

type Unlocker interface {
	Unlock(ctx context.Context) error
}
