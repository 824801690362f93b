// Package cluster owns cluster membership: Node records, the leased-KV
// backed registry, and the per-role consistent-hash rings (spec §4.2,
// component C2) — a small immutable-ish record type plus a mutex-guarded
// map owner, with membership itself tracked through etcd leases rather
// than a gossip protocol.
package cluster

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/openobserve-go/clustercore/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Status string

const (
	StatusPrepare Status = "Prepare"
	StatusOnline  Status = "Online"
	StatusOffline Status = "Offline"
)

// Node mirrors spec §3's Node record and the exact wire JSON in spec §6.
type Node struct {
	ID          uint32    `json:"id"`
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	HTTPAddr    string    `json:"http_addr"`
	GRPCAddr    string    `json:"grpc_addr"`
	Roles       []cmn.Role `json:"role"`
	CPUNum      uint64    `json:"cpu_num"`
	Status      Status    `json:"status"`
	Scheduled   bool      `json:"scheduled"`
	Broadcasted bool      `json:"broadcasted"`
}

func (n *Node) HasRole(r cmn.Role) bool { return cmn.HasRole(n.Roles, r) }

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	return fmt.Sprintf("node[%d:%s]", n.ID, n.UUID)
}

// Clone returns a deep-enough copy (Roles is re-sliced) safe to hand to a
// caller outside the registry's lock.
func (n *Node) Clone() *Node {
	cp := *n
	cp.Roles = append([]cmn.Role(nil), n.Roles...)
	return &cp
}

func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.ID != o.ID || n.UUID != o.UUID || n.Status != o.Status ||
		n.HTTPAddr != o.HTTPAddr || n.GRPCAddr != o.GRPCAddr ||
		n.Scheduled != o.Scheduled || n.Broadcasted != o.Broadcasted ||
		len(n.Roles) != len(o.Roles) {
		return false
	}
	for i := range n.Roles {
		if n.Roles[i] != o.Roles[i] {
			return false
		}
	}
	return true
}

func MarshalNode(n *Node) ([]byte, error) { return json.Marshal(n) }

func UnmarshalNode(b []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
