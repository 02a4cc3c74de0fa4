package toppartitions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/telemetry"
	"github.com/rs/zerolog/log"
)

// Config holds defaults applied to omitted request parameters, and limits
type Config struct {
	DefaultDuration  time.Duration
	DefaultListSize  int
	DefaultCapacity  int
	Limits           Limits
	BroadcastTimeout time.Duration
}

// Sampler starts sampling sessions on behalf of external callers
type Sampler struct {
	ids         id.Generator
	broadcaster Broadcaster
	sessions    *Sessions
	clock       clockwork.Clock
	cfg         Config
}

func NewSampler(ids id.Generator, b Broadcaster, sessions *Sessions, clock clockwork.Clock, cfg Config) *Sampler {
	return &Sampler{
		ids:         ids,
		broadcaster: b,
		sessions:    sessions,
		clock:       clock,
		cfg:         cfg,
	}
}

func (s *Sampler) Sessions() *Sessions {
	return s.sessions
}

// Options resolves request parameters against the defaults and validates them.
// An empty duration, or a zero list size or capacity, selects the default.
func (s *Sampler) Options(keyspace, table, duration string, listSize, capacity int) (Options, error) {
	opts := Options{
		Keyspace: keyspace,
		Table:    table,
		Duration: s.cfg.DefaultDuration,
		ListSize: listSize,
		Capacity: capacity,
	}
	if duration != "" {
		d, err := ParseDuration(duration)
		if err != nil {
			return opts, err
		}
		opts.Duration = d
	}
	if opts.ListSize == 0 {
		opts.ListSize = s.cfg.DefaultListSize
	}
	if opts.Capacity == 0 {
		opts.Capacity = max(s.cfg.DefaultCapacity, opts.ListSize)
	}
	return opts, opts.Validate(s.cfg.Limits)
}

// RunSampling samples keyspace.table across the cluster for duration and
// returns the hottest partitions. Unknown tables yield an empty report.
func (s *Sampler) RunSampling(ctx context.Context, keyspace, table, duration string, listSize, capacity int) (*Report, error) {
	opts, err := s.Options(keyspace, table, duration, listSize, capacity)
	if err != nil {
		telemetry.SessionsTotal.With("rejected").Inc()
		return nil, err
	}
	return s.Run(ctx, opts)
}

// Run executes a session with already validated options
func (s *Sampler) Run(ctx context.Context, opts Options) (*Report, error) {
	q := NewQuery(s.ids.NextID(), opts, s.broadcaster, s.clock, s.cfg.BroadcastTimeout)
	if !s.sessions.Register(q) {
		return nil, fmt.Errorf("session %s already registered", q.ID())
	}
	defer s.sessions.Remove(q.ID())

	log.Info().
		Str("session", q.ID().String()).
		Str("keyspace", opts.Keyspace).
		Str("table", opts.Table).
		Dur("duration", opts.Duration).
		Int("list_size", opts.ListSize).
		Int("capacity", opts.Capacity).
		Msg("Starting sampling session")

	start := s.clock.Now()
	report, err := q.Run(ctx)
	telemetry.SessionDurationSeconds.Observe(s.clock.Since(start).Seconds())

	if err != nil {
		telemetry.SessionsTotal.With("failed").Inc()
		log.Error().Err(err).Str("session", q.ID().String()).Msg("Sampling session failed")
		return nil, err
	}
	telemetry.SessionsTotal.With("completed").Inc()
	return report, nil
}

// IsValidation reports whether err was caused by bad request parameters
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
