package toppartitions

import (
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/listener"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
	"github.com/maxpert/hotspot/telemetry"
	"github.com/maxpert/hotspot/topk"
)

// Listener counts the hottest partitions of one table, separately for reads
// and writes. It is owned by a shard registry and never shared.
type Listener struct {
	listener.PartitionCounting

	keyspace string
	table    string
	reads    *topk.SpaceSaving[schema.PartitionKey]
	writes   *topk.SpaceSaving[schema.PartitionKey]

	readsObserved  telemetry.Counter
	writesObserved telemetry.Counter
}

// NewListener creates a listener for keyspace.table whose estimators track
// at most capacity partitions each.
func NewListener(session id.SessionID, keyspace, table string, capacity int) *Listener {
	l := &Listener{
		keyspace:       keyspace,
		table:          table,
		reads:          topk.New(capacity, schema.ComparePartitionKeys),
		writes:         topk.New(capacity, schema.ComparePartitionKeys),
		readsObserved:  telemetry.PartitionsObservedTotal.With(listener.HookRead),
		writesObserved: telemetry.PartitionsObservedTotal.With(listener.HookWrite),
	}
	l.Session = session
	l.ReadHook = l.observeRead
	return l
}

func (l *Listener) Keyspace() string { return l.keyspace }
func (l *Listener) Table() string    { return l.table }

func (l *Listener) IsApplicable(s *schema.Schema) bool {
	return s.Matches(l.keyspace, l.table)
}

func (l *Listener) OnWrite(_ *schema.Schema, m *stream.Mutation) {
	l.writes.Record(m.Key.Key)
	l.writesObserved.Inc()
}

func (l *Listener) observeRead(_ *schema.Schema, dk schema.DecoratedKey) {
	l.reads.Record(dk.Key)
	l.readsObserved.Inc()
}

// Reads exposes the read estimator to the owning shard
func (l *Listener) Reads() *topk.SpaceSaving[schema.PartitionKey] { return l.reads }

// Writes exposes the write estimator to the owning shard
func (l *Listener) Writes() *topk.SpaceSaving[schema.PartitionKey] { return l.writes }

// render detaches a summary from the estimator, replacing keys by their display form
func render(est *topk.SpaceSaving[schema.PartitionKey], n int, r *schema.Renderer) topk.Summary[string] {
	sum := est.Summary(n)
	out := topk.Summary[string]{
		Entries: make([]topk.Entry[string], len(sum.Entries)),
		Floor:   sum.Floor,
	}
	for i, e := range sum.Entries {
		out.Entries[i] = topk.Entry[string]{Key: r.Render(e.Key), Count: e.Count, Error: e.Error}
	}
	return out
}
