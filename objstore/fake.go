package objstore

import (
	"context"
	"sync"
)

// FakeClient is an in-memory Client for hermetic mover tests, the same role
// kvstore.FakeKV plays for cluster tests.
type FakeClient struct {
	mu   sync.Mutex
	objs map[string][]byte
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{objs: make(map[string][]byte)}
}

func objID(account, key string) string { return account + "/" + key }

func (f *FakeClient) Put(_ context.Context, account, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objs[objID(account, key)] = cp
	return nil
}

func (f *FakeClient) Get(_ context.Context, account, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objs[objID(account, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *FakeClient) Delete(_ context.Context, account, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objs, objID(account, key))
	return nil
}

// Objects returns a snapshot of stored keys, for test assertions.
func (f *FakeClient) Objects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objs))
	for k := range f.objs {
		keys = append(keys, k)
	}
	return keys
}
