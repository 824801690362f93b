package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openobserve-go/clustercore/cmn"
	"github.com/openobserve-go/clustercore/kvstore"
)

func newTestRegistry(kv *kvstore.FakeKV, uuid string, roles ...cmn.Role) *Registry {
	self := &Node{UUID: uuid, Name: "n-" + uuid, Roles: roles}
	cfg := cmn.ClusterConf{HeartbeatTTL: 50 * time.Millisecond, KVPrefix: "/cc/"}
	return NewRegistry(kv, cfg, self, false, nil)
}

func TestRegistry_IDIsSmallestUnclaimed(t *testing.T) {
	kv := kvstore.NewFakeKV()
	r1 := newTestRegistry(kv, "u1", cmn.RoleQuerier)
	require.NoError(t, r1.Register(context.Background()))
	require.Equal(t, uint32(1), r1.self.ID)

	r2 := newTestRegistry(kv, "u2", cmn.RoleQuerier)
	require.NoError(t, r2.Register(context.Background()))
	require.Equal(t, uint32(2), r2.self.ID)
}

func TestRegistry_OfflineNodeIDIsReclaimed(t *testing.T) {
	kv := kvstore.NewFakeKV()
	r1 := newTestRegistry(kv, "u1", cmn.RoleQuerier)
	require.NoError(t, r1.Register(context.Background()))

	r1.mu.Lock()
	r1.self.Status = StatusOffline
	buf, _ := MarshalNode(r1.self)
	r1.mu.Unlock()
	require.NoError(t, kv.Put(context.Background(), r1.nodeKey("u1"), buf, r1.leaseID))

	r2 := newTestRegistry(kv, "u2", cmn.RoleQuerier)
	require.NoError(t, r2.Register(context.Background()))
	require.Equal(t, uint32(1), r2.self.ID, "offline node's id must be reclaimable")
}

func TestRegistry_RingReflectsMembership(t *testing.T) {
	kv := kvstore.NewFakeKV()
	r1 := newTestRegistry(kv, "u1", cmn.RoleQuerier)
	require.NoError(t, r1.Register(context.Background()))

	uuid, ok := r1.GetNodeFromConsistentHash("trace-1", cmn.RoleQuerier)
	require.True(t, ok)
	require.Equal(t, "u1", uuid)

	_, ok = r1.GetNodeFromConsistentHash("trace-1", cmn.RoleCompactor)
	require.False(t, ok, "u1 never registered as Compactor")
}

func TestRegistry_WatchPicksUpNewPeers(t *testing.T) {
	kv := kvstore.NewFakeKV()
	r1 := newTestRegistry(kv, "u1", cmn.RoleQuerier)
	require.NoError(t, r1.Register(context.Background()))

	r2 := newTestRegistry(kv, "u2", cmn.RoleQuerier)
	require.NoError(t, r2.Register(context.Background()))

	require.Eventually(t, func() bool {
		_, ok := r1.GetNodeFromConsistentHash("anything", cmn.RoleQuerier)
		if !ok {
			return false
		}
		online := r1.GetCachedOnlineNodes(nil)
		return len(online) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_LeaseRevocationTriggersReRegistration(t *testing.T) {
	kv := kvstore.NewFakeKV()
	r1 := newTestRegistry(kv, "u1", cmn.RoleQuerier)
	require.NoError(t, r1.Register(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r1.Liveness(ctx)

	oldLease := r1.leaseID
	kv.RevokeLease(oldLease)

	require.Eventually(t, func() bool {
		r1.mu.RLock()
		defer r1.mu.RUnlock()
		return r1.leaseID != oldLease
	}, time.Second, 5*time.Millisecond, "lease revocation must trigger re-registration under a fresh lease")
}
