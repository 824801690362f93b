package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openobserve-go/clustercore/cmn"
	"github.com/openobserve-go/clustercore/cmn/debug"
	"github.com/openobserve-go/clustercore/hash"
	"github.com/openobserve-go/clustercore/kvstore"
)

const registerLockName = "nodes/register"

// BroadcastFunc is called (asynchronously, per spec §4.2's watcher rule)
// when this node is an Ingester and a new peer shows up in {Prepare,
// Online}: "broadcast our local file-list cache to the new peer so that
// it can serve queries over in-flight WAL data". The actual file-list
// cache lives in the mover/catalog components, which is why this is a
// caller-supplied hook rather than something Registry knows how to do.
type BroadcastFunc func(peer *Node)

// Registry owns the live membership view: the leased-KV backed node
// records, the per-role consistent-hash rings, and the watcher that keeps
// both current. One Registry per process (spec §3 ownership: "C1's rings
// are owned exclusively by C2").
type Registry struct {
	kv  kvstore.KV
	cfg cmn.ClusterConf
	log zerolog.Logger

	mu    sync.RWMutex
	nodes map[string]*Node // uuid -> node
	rings map[ringID]*hash.Ring

	self      *Node
	leaseID   kvstore.LeaseID
	onBcast   BroadcastFunc
	isIngester bool

	watchCancel context.CancelFunc
}

// ringID names one of C1's rings: a (role, role_group) pair. group is ""
// for roles that don't subdivide by role_group (Compactor); Querier rings
// are further split per SUPPLEMENTED FEATURES #2 (wsrouter.RoleGroup), one
// ring per group so dashboards/reports/alerts traffic distributes
// independently across the same node set.
type ringID struct {
	role  cmn.Role
	group string
}

func NewRegistry(kv kvstore.KV, cfg cmn.ClusterConf, self *Node, isIngester bool, onBroadcast BroadcastFunc) *Registry {
	return &Registry{
		kv:   kv,
		cfg:  cfg,
		log:  cmn.NewLogger("cluster"),
		nodes: make(map[string]*Node),
		rings: map[ringID]*hash.Ring{
			{role: cmn.RoleQuerier}:   hash.New(),
			{role: cmn.RoleCompactor}: hash.New(),
		},
		self:       self,
		isIngester: isIngester,
		onBcast:    onBroadcast,
	}
}

func (r *Registry) nodeKey(uuid string) string { return r.cfg.KVPrefix + "nodes/" + uuid }
func (r *Registry) nodesPrefix() string        { return r.cfg.KVPrefix + "nodes/" }

// Register implements spec §4.2's five-step registration protocol.
func (r *Registry) Register(ctx context.Context) (err error) {
	lock, err := r.kv.Lock(ctx, r.cfg.KVPrefix+registerLockName)
	if err != nil {
		return fmt.Errorf("cluster: acquire registration lock: %w", err)
	}
	// Step 5 happens via defer: release the lock on every path, including
	// early return. A lost lock during registration (kvstore.ErrLockLost on
	// release) aborts startup (spec §4.2 failure model): Register returns
	// the error rather than retrying silently.
	defer func() {
		if uerr := lock.Unlock(context.Background()); uerr != nil {
			r.log.Warn().Err(uerr).Msg("release registration lock")
			if errors.Is(uerr, kvstore.ErrLockLost) && err == nil {
				err = fmt.Errorf("cluster: registration lock lost: %w", uerr)
			}
		}
	}()

	kvs, err := r.kv.Get(ctx, r.nodesPrefix())
	if err != nil {
		return fmt.Errorf("cluster: list nodes: %w", err)
	}
	existing := make([]*Node, 0, len(kvs))
	for _, kv := range kvs {
		n, err := UnmarshalNode(kv.Value)
		if err != nil {
			r.log.Warn().Err(err).Str("key", kv.Key).Msg("skip malformed node record")
			continue
		}
		existing = append(existing, n)
	}

	r.self.ID = nextID(existing)

	leaseID, err := r.kv.LeaseGrant(ctx, r.cfg.HeartbeatTTL)
	if err != nil {
		return fmt.Errorf("cluster: grant lease: %w", err)
	}
	r.self.Status = StatusOnline
	buf, err := MarshalNode(r.self)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, r.nodeKey(r.self.UUID), buf, leaseID); err != nil {
		return fmt.Errorf("cluster: write self record: %w", err)
	}

	r.mu.Lock()
	r.leaseID = leaseID
	for _, n := range existing {
		r.seedLocked(n)
	}
	r.seedLocked(r.self)
	r.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	r.watchCancel = cancel
	go r.watch(watchCtx)

	return nil
}

// nextID returns the smallest positive integer not already claimed by a
// listed node. Nodes recorded as Offline are excluded from the claimed set
// (SPEC_FULL supplement #1, from original_source/common/infra/cluster.rs):
// a node that announced its own departure should not permanently squat an
// id that a live lease would otherwise have reclaimed.
func nextID(existing []*Node) uint32 {
	claimed := make(map[uint32]struct{}, len(existing))
	for _, n := range existing {
		if n.Status == StatusOffline {
			continue
		}
		claimed[n.ID] = struct{}{}
	}
	for id := uint32(1); ; id++ {
		if _, ok := claimed[id]; !ok {
			return id
		}
	}
}

// Liveness runs the keep-alive loop until ctx is cancelled. On a lease
// expiry/revocation it re-registers under a fresh lease and keeps looping
// (spec §4.2: "the node recovers by re-registering"), rather than
// propagating the error — a spurious revocation must never panic.
func (r *Registry) Liveness(ctx context.Context) {
	for {
		r.mu.RLock()
		leaseID := r.leaseID
		r.mu.RUnlock()

		err := r.kv.LeaseKeepAlive(ctx, leaseID)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		r.log.Warn().Err(err).Msg("lease lost; re-registering under a fresh lease")
		if rerr := r.setOnlineNewLease(ctx); rerr != nil {
			r.log.Error().Err(rerr).Msg("re-registration failed; retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (r *Registry) setOnlineNewLease(ctx context.Context) error {
	leaseID, err := r.kv.LeaseGrant(ctx, r.cfg.HeartbeatTTL)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.self.Status = StatusOnline
	buf, merr := MarshalNode(r.self)
	r.mu.Unlock()
	if merr != nil {
		return merr
	}
	if err := r.kv.Put(ctx, r.nodeKey(r.self.UUID), buf, leaseID); err != nil {
		return err
	}
	r.mu.Lock()
	r.leaseID = leaseID
	r.mu.Unlock()
	return nil
}

// watch keeps the node cache and rings in sync with KV state and fires the
// Ingester-only broadcast hook for newly visible peers (spec §4.2).
func (r *Registry) watch(ctx context.Context) {
	events, err := r.kv.Watch(ctx, r.nodesPrefix())
	if err != nil {
		r.log.Error().Err(err).Msg("watch failed to start")
		return
	}
	for ev := range events {
		switch ev.Type {
		case kvstore.EventPut:
			n, err := UnmarshalNode(ev.Value)
			if err != nil {
				r.log.Warn().Err(err).Str("key", ev.Key).Msg("skip malformed node record")
				continue
			}
			r.mu.Lock()
			_, wasKnown := r.nodes[n.UUID]
			r.seedLocked(n)
			r.mu.Unlock()

			isNewPeer := !wasKnown && n.UUID != r.self.UUID &&
				(n.Status == StatusPrepare || n.Status == StatusOnline)
			if isNewPeer && r.isIngester && r.onBcast != nil {
				go r.onBcast(n)
			}
		case kvstore.EventDelete:
			uuid := uuidFromNodeKey(ev.Key)
			r.mu.Lock()
			r.removeLocked(uuid)
			r.mu.Unlock()
		}
	}
}

func uuidFromNodeKey(key string) string {
	idx := lastSlash(key)
	if idx < 0 {
		return key
	}
	return key[idx+1:]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// seedLocked adds/updates n in the cache and the relevant rings. Caller
// holds r.mu.
func (r *Registry) seedLocked(n *Node) {
	r.nodes[n.UUID] = n
	for id, ring := range r.rings {
		live := n.Status != StatusOffline && n.HasRole(id.role)
		if live {
			ring.Insert(n.UUID)
		} else {
			ring.Remove(n.UUID)
		}
	}
}

// ringLocked returns the ring for id, lazily creating and populating one
// from the current node cache the first time a role_group is seen. Caller
// holds r.mu (write lock, since this may mutate r.rings).
func (r *Registry) ringLocked(id ringID) *hash.Ring {
	if ring, ok := r.rings[id]; ok {
		return ring
	}
	ring := hash.New()
	for uuid, n := range r.nodes {
		if n.Status != StatusOffline && n.HasRole(id.role) {
			ring.Insert(uuid)
		}
	}
	r.rings[id] = ring
	return ring
}

func (r *Registry) removeLocked(uuid string) {
	delete(r.nodes, uuid)
	for _, ring := range r.rings {
		ring.Remove(uuid)
	}
}

// GetNodeFromConsistentHash resolves key to a node uuid for role, per spec
// §6's downstream API (group "" — the role's default ring).
func (r *Registry) GetNodeFromConsistentHash(key string, role cmn.Role) (uuid string, ok bool) {
	return r.GetNodeFromConsistentHashGroup(key, role, "")
}

// GetNodeFromConsistentHashGroup is §6's full three-argument form: group
// selects the role_group ring (SUPPLEMENTED FEATURES #2), "" meaning the
// role's default ring.
func (r *Registry) GetNodeFromConsistentHashGroup(key string, role cmn.Role, group string) (uuid string, ok bool) {
	id := ringID{role: role, group: group}
	r.mu.Lock()
	ring := r.ringLocked(id)
	r.mu.Unlock()
	return ring.Get(key)
}

// GetCachedOnlineNodes returns the nodes for which filter returns true.
// A nil filter returns every node with Status==Online.
func (r *Registry) GetCachedOnlineNodes(filter func(*Node) bool) []*Node {
	if filter == nil {
		filter = func(n *Node) bool { return n.Status == StatusOnline }
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if filter(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Leave explicitly removes this node's record and stops the watcher,
// independent of lease expiry.
func (r *Registry) Leave(ctx context.Context) error {
	if r.watchCancel != nil {
		r.watchCancel()
	}
	debug.Assert(r.self != nil)
	return r.kv.Delete(ctx, r.nodeKey(r.self.UUID))
}
