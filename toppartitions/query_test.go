package toppartitions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/hotspot/db"
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNode = 1

type seqIDs struct {
	n atomic.Uint64
}

func (s *seqIDs) NextID() id.SessionID {
	return id.SessionID(s.n.Add(1))
}

// localBroadcaster fans ops out to the shards of one database and can inject
// a failure on one shard per phase.
type localBroadcaster struct {
	db       *db.Database
	renderer *schema.Renderer
	failOn   map[Phase]int

	mu     sync.Mutex
	phases []Phase
}

func (b *localBroadcaster) Broadcast(ctx context.Context, op Op) ([]ShardResult, error) {
	b.mu.Lock()
	b.phases = append(b.phases, op.Phase)
	b.mu.Unlock()

	outcomes := b.db.InvokeEach(ctx, func(sh *db.Shard) (any, error) {
		if shard, ok := b.failOn[op.Phase]; ok && shard == sh.ID() {
			return nil, errors.New("injected failure")
		}
		return ApplyOp(sh, op, b.renderer), nil
	})

	results := make([]ShardResult, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			results[i] = ShardResult{NodeID: testNode, Shard: o.Shard, Error: o.Err.Error()}
			continue
		}
		r := o.Value.(ShardResult)
		r.NodeID = testNode
		results[i] = r
	}
	return results, nil
}

func (b *localBroadcaster) seen() []Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Phase(nil), b.phases...)
}

type harness struct {
	db          *db.Database
	broadcaster *localBroadcaster
	clock       *clockwork.FakeClock
	sampler     *Sampler
}

func newHarness(t *testing.T, shards int) *harness {
	t.Helper()

	d, err := db.Open(db.Options{Shards: shards, QueueDepth: 64, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	for _, table := range []string{"t1", "t2"} {
		_, err := d.CreateTable(schema.TableDef{
			Keyspace:     "ks",
			Table:        table,
			PartitionKey: []schema.Column{{Name: "k", Type: schema.TypeInt}},
		})
		require.NoError(t, err)
	}

	renderer, err := schema.NewRenderer(128)
	require.NoError(t, err)

	b := &localBroadcaster{db: d, renderer: renderer, failOn: map[Phase]int{}}
	clock := clockwork.NewFakeClock()
	sampler := NewSampler(&seqIDs{}, b, NewSessions(), clock, Config{
		DefaultDuration:  time.Second,
		DefaultListSize:  10,
		DefaultCapacity:  64,
		Limits:           Limits{MaxDuration: time.Hour, MaxListSize: 100, MaxCapacity: 1000},
		BroadcastTimeout: 5 * time.Second,
	})

	return &harness{db: d, broadcaster: b, clock: clock, sampler: sampler}
}

func (h *harness) insert(t *testing.T, table string, k int64) {
	t.Helper()
	require.NoError(t, h.db.Insert(context.Background(), "ks", table, []interface{}{k},
		stream.Row{Cells: map[string]interface{}{"v": k}}))
}

func (h *harness) anyListener(t *testing.T, session id.SessionID) bool {
	t.Helper()
	values, err := h.db.InvokeOnAll(context.Background(), func(sh *db.Shard) (any, error) {
		return Exists(sh, session), nil
	})
	require.NoError(t, err)
	for _, v := range values {
		if v.(bool) {
			return true
		}
	}
	return false
}

type runResult struct {
	report *Report
	err    error
}

// start runs a session in the background and returns once it is sampling
func (h *harness) start(t *testing.T, ctx context.Context, duration string) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	go func() {
		report, err := h.sampler.RunSampling(ctx, "ks", "t1", duration, 0, 0)
		done <- runResult{report, err}
	}()

	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(wctx, 1), "session never reached the sampling wait")
	return done
}

func await(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return runResult{}
	}
}

func sum(records []Record) uint64 {
	var total uint64
	for _, r := range records {
		total += r.Count
	}
	return total
}

func TestSampling_EndToEnd(t *testing.T) {
	h := newHarness(t, 4)
	done := h.start(t, context.Background(), "1000")

	for k := int64(0); k < 3; k++ {
		h.insert(t, "t1", k)
	}
	h.insert(t, "t2", 0)

	parts, err := h.db.Query(context.Background(), "ks", "t1", stream.FullRange(), stream.Slice{})
	require.NoError(t, err)
	require.Len(t, parts, 3)

	h.clock.Advance(time.Second)
	res := await(t, done)
	require.NoError(t, res.err)

	report := res.report
	assert.Equal(t, uint64(3), sum(report.Writes), "the t2 write must not be counted")
	assert.Equal(t, uint64(3), sum(report.Reads))
	assert.False(t, report.Cancelled)

	partitions := map[string]bool{}
	for _, r := range report.Writes {
		partitions[r.Partition] = true
		assert.Equal(t, uint64(1), r.Count)
		assert.Equal(t, uint64(0), r.Error)
	}
	assert.Equal(t, map[string]bool{"0": true, "1": true, "2": true}, partitions)

	assert.False(t, h.anyListener(t, report.Session))
	assert.Equal(t, 0, h.sampler.Sessions().Len())
}

func TestSampling_HotPartitionRanksFirst(t *testing.T) {
	h := newHarness(t, 3)
	done := h.start(t, context.Background(), "")

	for i := 0; i < 5; i++ {
		h.insert(t, "t1", 42)
	}
	h.insert(t, "t1", 1)
	h.insert(t, "t1", 2)

	h.clock.Advance(time.Second)
	res := await(t, done)
	require.NoError(t, res.err)

	require.Len(t, res.report.Writes, 3)
	assert.Equal(t, Record{Partition: "42", Count: 5}, res.report.Writes[0])
	assert.Empty(t, res.report.Reads)
}

func TestSampling_ScatterFailureRollsBack(t *testing.T) {
	h := newHarness(t, 4)
	h.broadcaster.failOn[PhaseInstall] = 2

	report, err := h.sampler.RunSampling(context.Background(), "ks", "t1", "1000", 0, 0)
	require.Error(t, err)
	assert.Nil(t, report)

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PhaseInstall, se.Phase)

	failures := BroadcastErrors(err)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Shard)
	assert.Equal(t, uint64(testNode), failures[0].NodeID)

	assert.Equal(t, []Phase{PhaseInstall, PhaseUninstall}, h.broadcaster.seen())
	assert.False(t, h.anyListener(t, se.Session), "listeners installed on healthy shards must be rolled back")
	assert.Equal(t, 0, h.sampler.Sessions().Len())
}

func TestSampling_GatherFailureStillUninstalls(t *testing.T) {
	h := newHarness(t, 4)
	h.broadcaster.failOn[PhaseHarvest] = 1
	done := h.start(t, context.Background(), "1000")

	h.insert(t, "t1", 1)
	h.clock.Advance(time.Second)

	res := await(t, done)
	require.Error(t, res.err)

	var se *SessionError
	require.ErrorAs(t, res.err, &se)
	assert.Equal(t, PhaseHarvest, se.Phase)

	assert.Equal(t, []Phase{PhaseInstall, PhaseHarvest, PhaseUninstall}, h.broadcaster.seen())
	assert.False(t, h.anyListener(t, se.Session), "no shard may keep a listener after a failed gather")
	assert.Equal(t, 0, h.sampler.Sessions().Len())
}

func TestSampling_MissingListenerContributesNothing(t *testing.T) {
	h := newHarness(t, 4)
	done := h.start(t, context.Background(), "1000")

	sessions := h.sampler.Sessions().List()
	require.Len(t, sessions, 1)
	session := sessions[0].Session
	assert.Equal(t, StateSampling.String(), sessions[0].State)

	// a listener vanishing mid-session, as on a table drop, is not an error
	_, err := db.Invoke(context.Background(), h.db.Shards()[0], func(sh *db.Shard) (int, error) {
		return sh.Registry().Uninstall(session), nil
	})
	require.NoError(t, err)

	h.insert(t, "t1", 5)
	h.clock.Advance(time.Second)

	res := await(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.report.Shards)
}

func TestSampling_DropTableDuringSession(t *testing.T) {
	h := newHarness(t, 2)
	done := h.start(t, context.Background(), "1000")

	h.insert(t, "t1", 1)
	require.NoError(t, h.db.DropTable(context.Background(), "ks", "t1"))

	h.clock.Advance(time.Second)
	res := await(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, 0, res.report.Shards)
	assert.Empty(t, res.report.Writes)
}

func TestSampling_CancelEndsWaitAndCleansUp(t *testing.T) {
	h := newHarness(t, 2)
	done := h.start(t, context.Background(), "10m")

	h.insert(t, "t1", 9)

	sessions := h.sampler.Sessions().List()
	require.Len(t, sessions, 1)
	require.NoError(t, h.sampler.Sessions().Cancel(sessions[0].Session))

	res := await(t, done)
	require.NoError(t, res.err)
	assert.True(t, res.report.Cancelled)
	assert.Equal(t, uint64(1), sum(res.report.Writes), "partial data is still reported")
	assert.False(t, h.anyListener(t, res.report.Session))

	assert.ErrorIs(t, h.sampler.Sessions().Cancel(sessions[0].Session), ErrSessionNotFound)
}

func TestSampling_ContextCancelStillCleansUp(t *testing.T) {
	h := newHarness(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(t, ctx, "10m")

	cancel()

	res := await(t, done)
	require.NoError(t, res.err)
	assert.True(t, res.report.Cancelled)
	assert.False(t, h.anyListener(t, res.report.Session))
	assert.Equal(t, []Phase{PhaseInstall, PhaseHarvest, PhaseUninstall}, h.broadcaster.seen())
}

func TestSampling_UnknownTableYieldsEmptyReport(t *testing.T) {
	h := newHarness(t, 2)
	done := make(chan runResult, 1)
	go func() {
		report, err := h.sampler.RunSampling(context.Background(), "ks", "nope", "1000", 0, 0)
		done <- runResult{report, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Second)

	res := await(t, done)
	require.NoError(t, res.err)
	assert.Empty(t, res.report.Reads)
	assert.Empty(t, res.report.Writes)
}

func TestSampling_ValidationRejectsBeforeScatter(t *testing.T) {
	h := newHarness(t, 2)

	for _, tc := range []struct {
		duration string
		listSize int
		capacity int
	}{
		{"abc", 0, 0},
		{"-5", 0, 0},
		{"2h", 0, 0},
		{"1000", 101, 0},
		{"1000", 20, 10},
		{"1000", 0, 5000},
	} {
		_, err := h.sampler.RunSampling(context.Background(), "ks", "t1", tc.duration, tc.listSize, tc.capacity)
		require.Error(t, err, "%+v", tc)
		assert.True(t, IsValidation(err), "%+v: %v", tc, err)
	}

	assert.Empty(t, h.broadcaster.seen())
}

func TestQuery_RunTwice(t *testing.T) {
	h := newHarness(t, 1)
	h.broadcaster.failOn[PhaseInstall] = 0

	q := NewQuery(1, Options{Keyspace: "ks", Table: "t1", Duration: time.Second, ListSize: 1, Capacity: 1},
		h.broadcaster, h.clock, time.Second)
	assert.Equal(t, StateCreated, q.State())

	_, err := q.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, q.State())

	_, err = q.Run(context.Background())
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1000", time.Second, true},
		{" 250 ", 250 * time.Millisecond, true},
		{"1.5s", 1500 * time.Millisecond, true},
		{"2m", 2 * time.Minute, true},
		{"", 0, false},
		{"0", 0, false},
		{"-1", 0, false},
		{"-1s", 0, false},
		{"soon", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if !tt.ok {
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}
