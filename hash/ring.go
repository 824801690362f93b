// Package hash implements the consistent-hash ring used to place a
// request key on one of a role's live nodes (spec §4.1, component C1).
//
// Hashing uses OneOfOne/xxhash (xxhash.ChecksumString64S(key, seed)) — a
// stable, high-throughput hash with no cryptographic requirement.
package hash

import (
	"sort"
	"strconv"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// VirtualNodes is the number of virtual ring positions contributed by a
// single physical node (spec §3: "V=3 virtual nodes at hash(uuid||i)").
const VirtualNodes = 3

// seed is an arbitrary fixed value: the only requirement (spec §4.1) is
// that identical inputs hash identically across processes, which a fixed
// seed plus a fixed string-concatenation scheme already guarantees.
const seed = 0x4d4c4347

func hashKey(s string) uint64 {
	return xxhash.ChecksumString64S(s, seed)
}

// virtualHashes returns the VirtualNodes positions a node occupies.
func virtualHashes(nodeUUID string) [VirtualNodes]uint64 {
	var hs [VirtualNodes]uint64
	for i := 0; i < VirtualNodes; i++ {
		hs[i] = hashKey(nodeUUID + strconv.Itoa(i))
	}
	return hs
}

type entry struct {
	hash uint64
	node string
}

// Ring is a sorted map from u64 hash to node uuid, safe for concurrent use.
// It has no notion of "role" — the caller (package cluster) maintains one
// Ring per role and only calls Insert/Remove for nodes that carry that
// role, per spec §4.1's "insert/remove is a no-op if node role is not
// Querier or Compactor".
type Ring struct {
	mu      sync.RWMutex
	entries []entry // sorted ascending by hash
}

func New() *Ring {
	return &Ring{}
}

// Insert upserts the node's virtual entries. Safe to call again for a node
// already present (e.g. a watcher re-announcing an unchanged record); the
// previous entries for that node are removed first so hashes don't drift
// if the uuid scheme ever changes.
func (r *Ring) Insert(nodeUUID string) {
	hs := virtualHashes(nodeUUID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(nodeUUID)
	for _, h := range hs {
		r.entries = insertSorted(r.entries, entry{hash: h, node: nodeUUID})
	}
}

// Remove deletes all virtual entries for the node.
func (r *Ring) Remove(nodeUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(nodeUUID)
}

func (r *Ring) removeLocked(nodeUUID string) {
	out := r.entries[:0:0]
	for _, e := range r.entries {
		if e.node != nodeUUID {
			out = append(out, e)
		}
	}
	r.entries = out
}

// Get returns the node owning key: the smallest ring hash >= hash(key),
// wrapping to the first entry past the end. Returns ok=false iff the ring
// is empty.
func (r *Ring) Get(key string) (nodeUUID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return "", false
	}
	h := hashKey(key)
	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].hash >= h
	})
	if idx == len(r.entries) {
		idx = 0
	}
	return r.entries[idx].node, true
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Nodes returns the distinct set of node uuids currently on the ring.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.entries)/VirtualNodes+1)
	out := make([]string, 0, len(seen))
	for _, e := range r.entries {
		if _, ok := seen[e.node]; !ok {
			seen[e.node] = struct{}{}
			out = append(out, e.node)
		}
	}
	return out
}

func insertSorted(entries []entry, e entry) []entry {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].hash >= e.hash })
	entries = append(entries, entry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = e
	return entries
}
