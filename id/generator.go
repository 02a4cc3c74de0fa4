package id

import (
	"fmt"
	"strconv"

	"github.com/maxpert/hotspot/hlc"
)

// SessionID identifies one sampling session across every shard of every node.
// IDs are unique across nodes and roughly time-ordered.
type SessionID uint64

// Nil is the zero SessionID, never minted by a Generator.
const Nil SessionID = 0

// String renders the ID as fixed-width hex so lexical order matches mint order.
func (s SessionID) String() string {
	return fmt.Sprintf("%016x", uint64(s))
}

// Timestamp returns the HLC timestamp the ID was minted from (millisecond precision).
func (s SessionID) Timestamp() hlc.Timestamp {
	return hlc.FromID(uint64(s))
}

// ParseSessionID parses the hex form produced by String.
func ParseSessionID(s string) (SessionID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return Nil, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return SessionID(v), nil
}

func (s SessionID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionID) UnmarshalText(b []byte) error {
	v, err := ParseSessionID(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Generator mints session IDs.
type Generator interface {
	NextID() SessionID
}

// HLCGenerator generates unique IDs using the Hybrid Logical Clock.
// Thread-safe via HLC's internal mutex.
type HLCGenerator struct {
	clock *hlc.Clock
}

// NewHLCGenerator creates a new ID generator backed by the given HLC.
func NewHLCGenerator(clock *hlc.Clock) *HLCGenerator {
	return &HLCGenerator{clock: clock}
}

// NextID generates a unique session ID.
// See hlc.Timestamp.ToID for bit allocation details.
func (g *HLCGenerator) NextID() SessionID {
	return SessionID(g.clock.Now().ToID())
}
