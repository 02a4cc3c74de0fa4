package listener

import (
	"fmt"

	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
	"github.com/maxpert/hotspot/telemetry"
	"github.com/rs/zerolog/log"
)

// Hook names used for failure accounting
const (
	HookRead       = "read"
	HookWrite      = "write"
	HookApplicable = "applicable"
)

// Contain runs fn and swallows any panic it raises. Listener failures are
// logged and counted but never reach the read or write path.
func Contain(session id.SessionID, hook string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			telemetry.ListenerHookFailuresTotal.With(hook).Inc()
			log.Warn().
				Str("session", session.String()).
				Str("hook", hook).
				Str("panic", fmt.Sprint(r)).
				Msg("Listener hook failed, event left unobserved")
		}
	}()

	fn()
	return true
}

// Registry is the set of listeners installed on one shard. It is owned by the
// shard and must only be used from the shard's goroutine.
type Registry struct {
	listeners []Listener
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Install takes ownership of l
func (r *Registry) Install(l Listener) {
	r.listeners = append(r.listeners, l)
	log.Debug().Str("session", l.ID().String()).Int("installed", len(r.listeners)).Msg("Listener installed")
}

// Uninstall removes every listener of session and returns how many were
// removed. Removing an absent session is not an error.
func (r *Registry) Uninstall(session id.SessionID) int {
	return r.UninstallIf(func(l Listener) bool { return l.ID() == session })
}

// UninstallIf removes every listener matching pred
func (r *Registry) UninstallIf(pred func(Listener) bool) int {
	kept := r.listeners[:0]
	removed := 0
	for _, l := range r.listeners {
		if pred(l) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	clear(r.listeners[len(kept):])
	r.listeners = kept

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("installed", len(kept)).Msg("Listeners uninstalled")
	}
	return removed
}

// Exists reports whether any listener of session is installed
func (r *Registry) Exists(session id.SessionID) bool {
	return r.Find(session) != nil
}

// Find returns the first listener of session, or nil. The result must not
// escape the owning shard.
func (r *Registry) Find(session id.SessionID) Listener {
	for _, l := range r.listeners {
		if l.ID() == session {
			return l
		}
	}
	return nil
}

// FindAll returns every listener of session
func (r *Registry) FindAll(session id.SessionID) []Listener {
	var out []Listener
	for _, l := range r.listeners {
		if l.ID() == session {
			out = append(out, l)
		}
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.listeners)
}

func (r *Registry) Empty() bool {
	return len(r.listeners) == 0
}

// OnRead lets every applicable listener wrap rd. With nothing installed rd is
// returned as is.
func (r *Registry) OnRead(s *schema.Schema, rng stream.Range, slice stream.Slice, rd stream.Reader) stream.Reader {
	if len(r.listeners) == 0 {
		return rd
	}

	for _, l := range r.listeners {
		if !r.applicable(l, s) {
			continue
		}

		current := rd
		Contain(l.ID(), HookRead, func() {
			if wrapped := l.OnRead(s, rng, slice, current); wrapped != nil {
				rd = wrapped
			}
		})
	}
	return rd
}

// OnWrite hands m to every applicable listener. It never alters or blocks m.
func (r *Registry) OnWrite(s *schema.Schema, m *stream.Mutation) {
	if len(r.listeners) == 0 {
		return
	}

	for _, l := range r.listeners {
		if !r.applicable(l, s) {
			continue
		}
		Contain(l.ID(), HookWrite, func() { l.OnWrite(s, m) })
	}
}

func (r *Registry) applicable(l Listener, s *schema.Schema) bool {
	applies := false
	Contain(l.ID(), HookApplicable, func() { applies = l.IsApplicable(s) })
	return applies
}
