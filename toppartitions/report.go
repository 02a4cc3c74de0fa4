package toppartitions

import (
	"strings"

	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/topk"
)

// Record is one hot partition in a report
type Record struct {
	Partition string `json:"partition"`
	Count     uint64 `json:"count"`
	Error     uint64 `json:"error"`
}

// Report is the merged outcome of a session. Reads and Writes are sorted by
// descending count and hold at most ListSize records each.
type Report struct {
	Session    id.SessionID `json:"session"`
	Keyspace   string       `json:"keyspace"`
	Table      string       `json:"table"`
	DurationMS int64        `json:"duration_ms"`
	ListSize   int          `json:"list_size"`
	Capacity   int          `json:"capacity"`
	Shards     int          `json:"shards"`
	Cancelled  bool         `json:"cancelled,omitempty"`
	Reads      []Record     `json:"reads"`
	Writes     []Record     `json:"writes"`
}

func compareRendered(a, b string) int {
	return strings.Compare(a, b)
}

// merger folds per-shard summaries into one estimator per direction
type merger struct {
	capacity int
	reads    *topk.SpaceSaving[string]
	writes   *topk.SpaceSaving[string]
	shards   int
}

func newMerger(capacity int) *merger {
	return &merger{
		capacity: capacity,
		reads:    topk.New(capacity, compareRendered),
		writes:   topk.New(capacity, compareRendered),
	}
}

// add merges one shard. Shards without a listener contribute nothing.
func (m *merger) add(r ShardResult) {
	if !r.Found {
		return
	}
	m.shards++
	m.reads.Merge(topk.FromSummary(m.capacity, compareRendered, r.Reads))
	m.writes.Merge(topk.FromSummary(m.capacity, compareRendered, r.Writes))
}

func records(est *topk.SpaceSaving[string], n int) []Record {
	top := est.Top(n)
	out := make([]Record, len(top))
	for i, e := range top {
		out[i] = Record{Partition: e.Key, Count: e.Count, Error: e.Error}
	}
	return out
}

func (m *merger) report(session id.SessionID, opts Options) *Report {
	return &Report{
		Session:    session,
		Keyspace:   opts.Keyspace,
		Table:      opts.Table,
		DurationMS: opts.Duration.Milliseconds(),
		ListSize:   opts.ListSize,
		Capacity:   opts.Capacity,
		Shards:     m.shards,
		Reads:      records(m.reads, opts.ListSize),
		Writes:     records(m.writes, opts.ListSize),
	}
}
