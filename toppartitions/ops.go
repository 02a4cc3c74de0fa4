package toppartitions

import (
	"context"
	"fmt"

	"github.com/maxpert/hotspot/db"
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/topk"
	"github.com/rs/zerolog/log"
)

// Phase names one broadcast round of a session
type Phase string

const (
	PhaseInstall   Phase = "install"
	PhaseHarvest   Phase = "harvest"
	PhaseUninstall Phase = "uninstall"
)

// Op is the message delivered to every shard. It travels between nodes, so it
// carries plain values only.
type Op struct {
	Phase    Phase        `msgpack:"phase"`
	Session  id.SessionID `msgpack:"session"`
	Keyspace string       `msgpack:"keyspace,omitempty"`
	Table    string       `msgpack:"table,omitempty"`
	Capacity int          `msgpack:"capacity,omitempty"`
}

// ShardResult is one shard's answer to an Op. Shard is -1 when the whole node
// could not be reached.
type ShardResult struct {
	NodeID uint64               `msgpack:"node_id"`
	Shard  int                  `msgpack:"shard"`
	Error  string               `msgpack:"error,omitempty"`
	Found  bool                 `msgpack:"found,omitempty"`
	Reads  topk.Summary[string] `msgpack:"reads"`
	Writes topk.Summary[string] `msgpack:"writes"`
}

func (r ShardResult) Failed() bool {
	return r.Error != ""
}

// Broadcaster delivers an Op to every shard of every participating node and
// collects one result per shard. A returned error means the broadcast as a
// whole could not be attempted.
type Broadcaster interface {
	Broadcast(ctx context.Context, op Op) ([]ShardResult, error)
}

// ApplyOp executes op against one shard. It must run as a task of sh.
func ApplyOp(sh *db.Shard, op Op, renderer *schema.Renderer) ShardResult {
	res := ShardResult{Shard: sh.ID()}
	reg := sh.Registry()

	switch op.Phase {
	case PhaseInstall:
		reg.Install(NewListener(op.Session, op.Keyspace, op.Table, op.Capacity))

	case PhaseHarvest:
		var reads, writes *topk.SpaceSaving[string]
		for _, l := range reg.FindAll(op.Session) {
			hot, ok := l.(*Listener)
			if !ok {
				continue
			}
			r := topk.FromSummary(hot.Reads().Capacity(), compareRendered, render(hot.Reads(), -1, renderer))
			w := topk.FromSummary(hot.Writes().Capacity(), compareRendered, render(hot.Writes(), -1, renderer))
			if reads == nil {
				reads, writes = r, w
			} else {
				reads.Merge(r)
				writes.Merge(w)
			}
		}
		reg.Uninstall(op.Session)

		if reads == nil {
			log.Debug().
				Str("session", op.Session.String()).
				Int("shard", sh.ID()).
				Msg("No listener left to harvest, contributing nothing")
			return res
		}
		res.Found = true
		res.Reads = reads.Summary(-1)
		res.Writes = writes.Summary(-1)

	case PhaseUninstall:
		reg.Uninstall(op.Session)

	default:
		res.Error = fmt.Sprintf("unknown phase %q", op.Phase)
	}
	return res
}

// Exists reports whether session still has a listener on sh. It must run as a task of sh.
func Exists(sh *db.Shard, session id.SessionID) bool {
	return sh.Registry().Exists(session)
}
