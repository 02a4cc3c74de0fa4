package cluster

import (
	"context"

	"github.com/maxpert/hotspot/db"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/toppartitions"
)

// NodeOps executes sampling ops against every shard of one node
type NodeOps interface {
	NodeID() uint64
	Execute(ctx context.Context, op toppartitions.Op) ([]toppartitions.ShardResult, error)
}

// LocalNode runs ops on the shards of the local database
type LocalNode struct {
	nodeID   uint64
	db       *db.Database
	renderer *schema.Renderer
}

// NewLocalNode creates the local NodeOps. The renderer is shared by all shards.
func NewLocalNode(nodeID uint64, d *db.Database, renderer *schema.Renderer) *LocalNode {
	return &LocalNode{
		nodeID:   nodeID,
		db:       d,
		renderer: renderer,
	}
}

func (n *LocalNode) NodeID() uint64 {
	return n.nodeID
}

// Execute submits op to every shard and waits for all of them. A shard that
// cannot run the task yields a failed result rather than an error.
func (n *LocalNode) Execute(ctx context.Context, op toppartitions.Op) ([]toppartitions.ShardResult, error) {
	outcomes := n.db.InvokeEach(ctx, func(sh *db.Shard) (any, error) {
		return toppartitions.ApplyOp(sh, op, n.renderer), nil
	})

	results := make([]toppartitions.ShardResult, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			results[i] = toppartitions.ShardResult{Shard: o.Shard, Error: o.Err.Error()}
		} else {
			results[i] = o.Value.(toppartitions.ShardResult)
		}
		results[i].NodeID = n.nodeID
	}
	return results, nil
}
