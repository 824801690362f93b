package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeKV is an in-memory KV used by cluster package tests so registration,
// liveness, and watch logic can be exercised hermetically (spec §9 Design
// Notes: "expose via component-level handles ... to keep tests hermetic"),
// without standing up a real etcd cluster.
type FakeKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	leases  map[LeaseID]bool // true while alive
	nextID  LeaseID
	locks   map[string]bool
	watchMu sync.Mutex
	subs    []*fakeSub
}

type fakeSub struct {
	prefix string
	ch     chan Event
}

func NewFakeKV() *FakeKV {
	return &FakeKV{
		data:   make(map[string][]byte),
		leases: make(map[LeaseID]bool),
		locks:  make(map[string]bool),
	}
}

func (f *FakeKV) Put(_ context.Context, key string, value []byte, leaseID LeaseID) error {
	f.mu.Lock()
	if leaseID != 0 && !f.leases[leaseID] {
		f.mu.Unlock()
		return ErrLeaseGone
	}
	f.data[key] = append([]byte(nil), value...)
	f.mu.Unlock()
	f.publish(Event{Type: EventPut, Key: key, Value: value})
	return nil
}

func (f *FakeKV) Get(_ context.Context, prefix string) ([]KeyValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []KeyValue
	for k, v := range f.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KeyValue{Key: k, Value: v})
		}
	}
	return out, nil
}

func (f *FakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	_, existed := f.data[key]
	delete(f.data, key)
	f.mu.Unlock()
	if existed {
		f.publish(Event{Type: EventDelete, Key: key})
	}
	return nil
}

func (f *FakeKV) LeaseGrant(_ context.Context, _ time.Duration) (LeaseID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.leases[id] = true
	return id, nil
}

// RevokeLease simulates a server-side lease revocation/expiry, for tests
// of the re-registration path.
func (f *FakeKV) RevokeLease(id LeaseID) {
	f.mu.Lock()
	f.leases[id] = false
	f.mu.Unlock()
}

func (f *FakeKV) LeaseKeepAlive(ctx context.Context, id LeaseID) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.mu.Lock()
			alive := f.leases[id]
			f.mu.Unlock()
			if !alive {
				return ErrLeaseGone
			}
		}
	}
}

func (f *FakeKV) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	sub := &fakeSub{prefix: prefix, ch: make(chan Event, 64)}
	f.watchMu.Lock()
	f.subs = append(f.subs, sub)
	f.watchMu.Unlock()
	go func() {
		<-ctx.Done()
		f.watchMu.Lock()
		defer f.watchMu.Unlock()
		for i, s := range f.subs {
			if s == sub {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (f *FakeKV) publish(ev Event) {
	f.watchMu.Lock()
	defer f.watchMu.Unlock()
	for _, s := range f.subs {
		if strings.HasPrefix(ev.Key, s.prefix) {
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

type fakeUnlocker struct {
	f    *FakeKV
	name string
}

func (u *fakeUnlocker) Unlock(_ context.Context) error {
	u.f.mu.Lock()
	defer u.f.mu.Unlock()
	delete(u.f.locks, u.name)
	return nil
}

func (f *FakeKV) Lock(ctx context.Context, name string) (Unlocker, error) {
	for {
		f.mu.Lock()
		if !f.locks[name] {
			f.locks[name] = true
			f.mu.Unlock()
			return &fakeUnlocker{f: f, name: name}, nil
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *FakeKV) Close() error { return nil }
