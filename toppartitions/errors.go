package toppartitions

import (
	"errors"
	"fmt"

	"github.com/maxpert/hotspot/id"
)

// ErrSessionNotFound is returned when cancelling or looking up a session that is not running
var ErrSessionNotFound = errors.New("sampling session not found")

// ValidationError reports malformed session parameters. Nothing is broadcast
// when validation fails.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// BroadcastError reports one shard operation that failed
type BroadcastError struct {
	Phase  Phase
	NodeID uint64
	Shard  int
	Cause  string
}

func (e *BroadcastError) Error() string {
	if e.Shard < 0 {
		return fmt.Sprintf("%s failed on node %d: %s", e.Phase, e.NodeID, e.Cause)
	}
	return fmt.Sprintf("%s failed on node %d shard %d: %s", e.Phase, e.NodeID, e.Shard, e.Cause)
}

// SessionError is the single error a failed session surfaces to its caller.
// Err aggregates every shard failure of the failing phase.
type SessionError struct {
	Session id.SessionID
	Phase   Phase
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("sampling session %s failed during %s: %v", e.Session, e.Phase, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
