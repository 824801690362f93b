package gc

import "sync"

// MemQueue is an in-memory DurableQueue, used by the tests and by
// cmd/clustercored. Its contents do not survive a process restart; this
// core has no DurableQueue backed by a catalog table or a local file.
type MemQueue struct {
	mu    sync.Mutex
	files map[string]PendingFile
}

var _ DurableQueue = (*MemQueue)(nil)

func NewMemQueue() *MemQueue {
	return &MemQueue{files: make(map[string]PendingFile)}
}

func (q *MemQueue) Enqueue(org, account, file string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.files[file] = PendingFile{Org: org, Account: account, File: file}
	return nil
}

func (q *MemQueue) Dequeue(file string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.files, file)
	return nil
}

func (q *MemQueue) List() ([]PendingFile, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingFile, 0, len(q.files))
	for _, f := range q.files {
		out = append(out, f)
	}
	return out, nil
}
