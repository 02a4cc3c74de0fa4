package toppartitions

import (
	"cmp"
	"slices"
	"time"

	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
)

// SessionInfo describes an in-flight session
type SessionInfo struct {
	Session    id.SessionID `json:"session"`
	Keyspace   string       `json:"keyspace"`
	Table      string       `json:"table"`
	State      string       `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMS int64        `json:"duration_ms"`
}

// Sessions is the process-wide table of running sessions. A session is
// registered before it scatters and removed once it reaches a terminal state,
// whatever the outcome.
type Sessions struct {
	m *xsync.MapOf[id.SessionID, *Query]
}

func NewSessions() *Sessions {
	return &Sessions{m: xsync.NewMapOf[id.SessionID, *Query]()}
}

// Register adds q. It returns false if a session with the same id is already running.
func (s *Sessions) Register(q *Query) bool {
	if _, loaded := s.m.LoadOrStore(q.ID(), q); loaded {
		return false
	}
	telemetry.SessionsActive.Inc()
	return true
}

func (s *Sessions) Remove(session id.SessionID) {
	if _, ok := s.m.LoadAndDelete(session); ok {
		telemetry.SessionsActive.Dec()
	}
}

func (s *Sessions) Get(session id.SessionID) (*Query, bool) {
	return s.m.Load(session)
}

// Cancel cuts the sampling wait of a running session short
func (s *Sessions) Cancel(session id.SessionID) error {
	q, ok := s.m.Load(session)
	if !ok {
		return ErrSessionNotFound
	}
	q.Cancel()
	return nil
}

func (s *Sessions) Len() int {
	return s.m.Size()
}

// List returns every running session, oldest first
func (s *Sessions) List() []SessionInfo {
	out := make([]SessionInfo, 0, s.m.Size())
	s.m.Range(func(sid id.SessionID, q *Query) bool {
		opts := q.Options()
		out = append(out, SessionInfo{
			Session:    sid,
			Keyspace:   opts.Keyspace,
			Table:      opts.Table,
			State:      q.State().String(),
			StartedAt:  q.StartedAt(),
			DurationMS: opts.Duration.Milliseconds(),
		})
		return true
	})
	slices.SortFunc(out, func(a, b SessionInfo) int { return cmp.Compare(a.Session, b.Session) })
	return out
}
