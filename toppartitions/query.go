package toppartitions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/telemetry"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// State of a sampling session
type State int32

const (
	StateCreated State = iota
	StateScattering
	StateSampling
	StateGathering
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateScattering:
		return "scattering"
	case StateSampling:
		return "sampling"
	case StateGathering:
		return "gathering"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Query is one sampling session: install a listener on every shard, wait,
// harvest and merge. Listeners never outlive Run.
type Query struct {
	session     id.SessionID
	opts        Options
	broadcaster Broadcaster
	clock       clockwork.Clock
	timeout     time.Duration

	state     atomic.Int32
	startedAt atomic.Int64
	cancelCh  chan struct{}
	cancelled sync.Once
}

// NewQuery prepares a session. timeout bounds each cleanup broadcast, which
// runs even after ctx has ended.
func NewQuery(session id.SessionID, opts Options, b Broadcaster, clock clockwork.Clock, timeout time.Duration) *Query {
	return &Query{
		session:     session,
		opts:        opts,
		broadcaster: b,
		clock:       clock,
		timeout:     timeout,
		cancelCh:    make(chan struct{}),
	}
}

func (q *Query) ID() id.SessionID {
	return q.session
}

func (q *Query) Options() Options {
	return q.opts
}

func (q *Query) State() State {
	return State(q.state.Load())
}

// StartedAt is zero until Run begins
func (q *Query) StartedAt() time.Time {
	ns := q.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Cancel ends the sampling wait early. Harvest and cleanup still run and the
// report covers whatever was counted so far.
func (q *Query) Cancel() {
	q.cancelled.Do(func() { close(q.cancelCh) })
}

func (q *Query) transition(from, to State) bool {
	return q.state.CompareAndSwap(int32(from), int32(to))
}

func (q *Query) fail(phase Phase, err error) error {
	q.state.Store(int32(StateFailed))
	return &SessionError{Session: q.session, Phase: phase, Err: err}
}

// Run drives the session to a terminal state
func (q *Query) Run(ctx context.Context) (*Report, error) {
	if !q.transition(StateCreated, StateScattering) {
		return nil, fmt.Errorf("session %s already started", q.session)
	}
	q.startedAt.Store(q.clock.Now().UnixNano())

	logger := log.With().
		Str("session", q.session.String()).
		Str("keyspace", q.opts.Keyspace).
		Str("table", q.opts.Table).
		Logger()

	install := Op{
		Phase:    PhaseInstall,
		Session:  q.session,
		Keyspace: q.opts.Keyspace,
		Table:    q.opts.Table,
		Capacity: q.opts.Capacity,
	}
	if _, err := q.broadcast(ctx, install); err != nil {
		logger.Warn().Err(err).Msg("Scatter failed, rolling back installed listeners")
		q.uninstall(ctx)
		return nil, q.fail(PhaseInstall, err)
	}
	defer q.uninstall(ctx)

	q.state.Store(int32(StateSampling))
	logger.Debug().Dur("duration", q.opts.Duration).Msg("Listeners installed, sampling")
	cancelled := q.wait(ctx)

	q.state.Store(int32(StateGathering))
	gctx, cancel := q.detached(ctx)
	defer cancel()

	results, err := q.broadcast(gctx, Op{Phase: PhaseHarvest, Session: q.session})
	if err != nil {
		logger.Warn().Err(err).Msg("Gather failed")
		return nil, q.fail(PhaseHarvest, err)
	}

	m := newMerger(q.opts.Capacity)
	for _, r := range results {
		m.add(r)
	}
	report := m.report(q.session, q.opts)
	report.Cancelled = cancelled

	q.state.Store(int32(StateCompleted))
	logger.Info().
		Int("shards", report.Shards).
		Int("reads", len(report.Reads)).
		Int("writes", len(report.Writes)).
		Bool("cancelled", cancelled).
		Msg("Sampling session completed")
	return report, nil
}

// wait blocks for the sampling duration. It returns true when cut short.
func (q *Query) wait(ctx context.Context) bool {
	timer := q.clock.NewTimer(q.opts.Duration)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return false
	case <-q.cancelCh:
		return true
	case <-ctx.Done():
		return true
	}
}

// detached returns a context that survives the caller's cancellation but is
// bounded by the cleanup timeout.
func (q *Query) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
}

// uninstall removes the session's listeners everywhere. It is idempotent and
// only logs failures.
func (q *Query) uninstall(ctx context.Context) {
	uctx, cancel := q.detached(ctx)
	defer cancel()

	if _, err := q.broadcast(uctx, Op{Phase: PhaseUninstall, Session: q.session}); err != nil {
		log.Warn().Err(err).Str("session", q.session.String()).Msg("Uninstall broadcast incomplete")
	}
}

// broadcast sends op and folds every failed shard into one error
func (q *Query) broadcast(ctx context.Context, op Op) ([]ShardResult, error) {
	start := time.Now()
	results, err := q.broadcaster.Broadcast(ctx, op)
	telemetry.BroadcastDurationSeconds.With(string(op.Phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.BroadcastFailuresTotal.With(string(op.Phase)).Inc()
		return results, err
	}

	var errs error
	for _, r := range results {
		if !r.Failed() {
			continue
		}
		telemetry.BroadcastFailuresTotal.With(string(op.Phase)).Inc()
		errs = multierr.Append(errs, &BroadcastError{
			Phase:  op.Phase,
			NodeID: r.NodeID,
			Shard:  r.Shard,
			Cause:  r.Error,
		})
	}
	return results, errs
}

// BroadcastErrors lists the per-shard failures inside a session error
func BroadcastErrors(err error) []*BroadcastError {
	var out []*BroadcastError
	for _, e := range multierr.Errors(unwrapSession(err)) {
		var be *BroadcastError
		if errors.As(e, &be) {
			out = append(out, be)
		}
	}
	return out
}

func unwrapSession(err error) error {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}
