package cluster

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemberInfo represents cluster member information
type MemberInfo struct {
	NodeID  uint64 `json:"node_id"`
	Address string `json:"address"`
	Local   bool   `json:"local"`
}

type member struct {
	ops  NodeOps
	info MemberInfo
}

// Membership is the set of nodes a session is broadcast to. It always holds
// the local node.
type Membership struct {
	mu      sync.RWMutex
	localID uint64
	members map[uint64]member
}

// NewMembership creates a membership containing only the local node
func NewMembership(local NodeOps, address string) *Membership {
	m := &Membership{
		localID: local.NodeID(),
		members: make(map[uint64]member),
	}
	m.members[local.NodeID()] = member{
		ops:  local,
		info: MemberInfo{NodeID: local.NodeID(), Address: address, Local: true},
	}
	return m
}

// Add registers a remote node. The local node cannot be replaced.
func (m *Membership) Add(node NodeOps, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node.NodeID() == m.localID {
		return fmt.Errorf("node %d is the local node", node.NodeID())
	}
	if _, exists := m.members[node.NodeID()]; exists {
		return fmt.Errorf("node %d already a member", node.NodeID())
	}
	m.members[node.NodeID()] = member{
		ops:  node,
		info: MemberInfo{NodeID: node.NodeID(), Address: address},
	}

	log.Info().
		Uint64("node_id", node.NodeID()).
		Str("address", address).
		Msg("Added cluster member")
	return nil
}

// Remove drops a remote node. Removing the local node is a no-op.
func (m *Membership) Remove(nodeID uint64) bool {
	if nodeID == m.localID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.members[nodeID]; !exists {
		return false
	}
	delete(m.members, nodeID)
	return true
}

// Nodes returns a snapshot of every member, ordered by node id
func (m *Membership) Nodes() []NodeOps {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint64, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]NodeOps, len(ids))
	for i, id := range ids {
		out[i] = m.members[id].ops
	}
	return out
}

// Info describes every member, ordered by node id
func (m *Membership) Info() []MemberInfo {
	m.mu.RLock()
	out := make([]MemberInfo, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem.info)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b MemberInfo) int { return cmp.Compare(a.NodeID, b.NodeID) })
	return out
}

func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// HandleMembers handles GET /admin/cluster/members
func (m *Membership) HandleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"members":       m.Info(),
		"local_node_id": m.localID,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode cluster members response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
