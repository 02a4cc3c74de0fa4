package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/hotspot/toppartitions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// NodeUnreachable is the shard id reported when a whole node failed
const NodeUnreachable = -1

// Broadcaster delivers ops to every member in parallel
type Broadcaster struct {
	membership *Membership
	timeout    time.Duration
}

// NewBroadcaster bounds every node call by timeout. A zero timeout leaves
// calls bounded by the caller's context only.
func NewBroadcaster(membership *Membership, timeout time.Duration) *Broadcaster {
	return &Broadcaster{
		membership: membership,
		timeout:    timeout,
	}
}

// Broadcast sends op to all members and waits for each of them. A node that
// fails as a whole contributes one failed result with shard NodeUnreachable,
// so the caller always sees every failure.
func (b *Broadcaster) Broadcast(ctx context.Context, op toppartitions.Op) ([]toppartitions.ShardResult, error) {
	nodes := b.membership.Nodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no cluster members to broadcast %s to", op.Phase)
	}

	perNode := make([][]toppartitions.ShardResult, len(nodes))
	var g errgroup.Group
	for i, node := range nodes {
		g.Go(func() error {
			perNode[i] = b.call(ctx, node, op)
			return nil
		})
	}
	_ = g.Wait()

	var out []toppartitions.ShardResult
	for _, results := range perNode {
		out = append(out, results...)
	}
	return out, nil
}

func (b *Broadcaster) call(ctx context.Context, node NodeOps, op toppartitions.Op) []toppartitions.ShardResult {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	results, err := node.Execute(ctx, op)
	if err != nil {
		log.Warn().
			Err(err).
			Uint64("node_id", node.NodeID()).
			Str("session", op.Session.String()).
			Str("phase", string(op.Phase)).
			Msg("Node failed to execute sampling op")
		return []toppartitions.ShardResult{{
			NodeID: node.NodeID(),
			Shard:  NodeUnreachable,
			Error:  err.Error(),
		}}
	}
	return results
}
