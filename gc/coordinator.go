// Package gc is the deletion coordinator (C6): it reconciles the mover's
// desire to remove a consumed WAL file with readers holding a lock on it,
// and keeps the pending-delete list durable across restarts.
//
// Short critical sections over a mutex-guarded map, with a periodic sweep
// driven by the owner rather than by the map itself, implement spec
// §4.6's state machine.
package gc

import "sync"

// Coordinator owns three disjoint in-memory sets of file paths plus a view
// of the reader-lock table (spec §4.6). queue is the durable backing store
// so pending_delete survives restart; it is an interface rather than a
// concrete store so tests can run against an in-memory stand-in.
type Coordinator struct {
	mu sync.RWMutex

	pendingDelete map[string]entry
	removing      map[string]struct{}
	locked        map[string]int // file -> reader-lock count

	queue DurableQueue
}

type entry struct {
	org, account string
}

// DurableQueue persists the pending-delete set so it survives a process
// restart (spec §4.6: "add ... to a durable queue").
type DurableQueue interface {
	Enqueue(org, account, file string) error
	Dequeue(file string) error
	List() ([]PendingFile, error)
}

type PendingFile struct {
	Org     string
	Account string
	File    string
}

// NewCoordinator seeds pending_delete from queue.List, so entries queued
// before a restart are swept again. A List error leaves the set empty.
func NewCoordinator(queue DurableQueue) *Coordinator {
	c := &Coordinator{
		pendingDelete: make(map[string]entry),
		removing:      make(map[string]struct{}),
		locked:        make(map[string]int),
		queue:         queue,
	}
	if files, err := queue.List(); err == nil {
		for _, f := range files {
			c.pendingDelete[f.File] = entry{org: f.Org, account: f.Account}
		}
	}
	return c
}

// Lock registers a reader lock on file (spec's locked_by_searchers view).
// Unlock releases it; the last release makes the file eligible for removal
// on the next sweep.
func (c *Coordinator) Lock(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked[file]++
}

func (c *Coordinator) Unlock(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.locked[file]; n <= 1 {
		delete(c.locked, file)
	} else {
		c.locked[file] = n - 1
	}
}

func (c *Coordinator) IsLocked(file string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locked[file] > 0
}

// QueueForDeletion adds file to pending_delete and to the durable queue
// (spec §4.6). Consumed ──reader lock held──► PendingDelete.
func (c *Coordinator) QueueForDeletion(org, account, file string) error {
	c.mu.Lock()
	c.pendingDelete[file] = entry{org: org, account: account}
	c.mu.Unlock()
	return c.queue.Enqueue(org, account, file)
}

// DequeueFromDeletion removes file from pending_delete after a successful
// physical delete.
func (c *Coordinator) DequeueFromDeletion(file string) error {
	c.mu.Lock()
	delete(c.pendingDelete, file)
	c.mu.Unlock()
	return c.queue.Dequeue(file)
}

// StartRemoving/CompleteRemoval bracket the unlink syscall so two observers
// never attempt the same delete concurrently. StartRemoving reports false
// if file is already being removed.
func (c *Coordinator) StartRemoving(file string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, already := c.removing[file]; already {
		return false
	}
	c.removing[file] = struct{}{}
	return true
}

func (c *Coordinator) CompleteRemoval(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.removing, file)
}

// AbortRemoving undoes StartRemoving when the unlink itself failed, so the
// file is retried (Removing ──unlink fail──► PendingDelete, spec §4.6).
func (c *Coordinator) AbortRemoving(org, account, file string) error {
	c.mu.Lock()
	delete(c.removing, file)
	c.pendingDelete[file] = entry{org: org, account: account}
	c.mu.Unlock()
	return c.queue.Enqueue(org, account, file)
}

// ListPendingDelete is the snapshot the mover's sweep (spec §4.5 step 1)
// iterates every scan cycle.
func (c *Coordinator) ListPendingDelete() []PendingFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PendingFile, 0, len(c.pendingDelete))
	for file, e := range c.pendingDelete {
		out = append(out, PendingFile{Org: e.org, Account: e.account, File: file})
	}
	return out
}

// Resolve decides the next state for a consumed file per spec §4.6's
// machine: locked files go to PendingDelete, unlocked ones go straight to
// Removing.
func (c *Coordinator) Resolve(org, account, file string) (shouldQueue bool, err error) {
	if c.IsLocked(file) {
		return true, c.QueueForDeletion(org, account, file)
	}
	return false, nil
}
