package hlc

import (
	"sync"
	"time"
)

// Clock implements a Hybrid Logical Clock used to mint time-ordered identifiers
// that stay unique across nodes. Nodes never exchange timestamps, so only the
// local half of the clock (Now) exists.
type Clock struct {
	nodeID   uint64
	wallTime int64
	logical  int32
	lastMS   int64 // logical resets when the millisecond changes
	mu       sync.Mutex
}

// Timestamp represents a point in time across the cluster
type Timestamp struct {
	WallTime int64
	Logical  int32
	NodeID   uint64
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	now := time.Now().UnixNano()
	return &Clock{
		nodeID:   nodeID,
		wallTime: now,
		lastMS:   now / 1_000_000,
	}
}

// Now generates a new timestamp for a local event
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
	}

	currentMS := c.wallTime / 1_000_000
	if currentMS > c.lastMS {
		c.lastMS = currentMS
		c.logical = 0
	}

	c.waitForLogicalRoom()
	c.logical++

	return Timestamp{
		WallTime: c.wallTime,
		Logical:  c.logical,
		NodeID:   c.nodeID,
	}
}

// waitForLogicalRoom spins into the next millisecond once the logical counter
// for the current one is exhausted. Caller holds c.mu.
func (c *Clock) waitForLogicalRoom() {
	for c.logical >= MaxLogical {
		time.Sleep(100 * time.Microsecond)
		now := time.Now().UnixNano()
		if nowMS := now / 1_000_000; nowMS > c.lastMS {
			c.wallTime = now
			c.lastMS = nowMS
			c.logical = 0
		}
	}
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}

// LogicalBits is the number of bits reserved for the logical counter in IDs.
// Sessions are started by operators, so 1023 per millisecond per node is ample.
const LogicalBits = 10

// LogicalMask masks the logical counter to LogicalBits
const LogicalMask = (1 << LogicalBits) - 1

// MaxLogical is the maximum value for the logical counter before overflow
const MaxLogical = LogicalMask

// NodeIDBits is the number of bits reserved for the node ID in IDs. Two nodes
// mint distinct IDs as long as their node IDs differ modulo 1<<NodeIDBits.
const NodeIDBits = 12

// NodeIDMask masks the node ID to NodeIDBits
const NodeIDMask = (1 << NodeIDBits) - 1

// TotalShiftBits is how far the millisecond wall time is shifted in an ID
const TotalShiftBits = NodeIDBits + LogicalBits

// ToID packs a timestamp into a 64-bit identifier.
// Format: (physical_ms << 22) | (node_id << 10) | logical
//
// IDs sort by wall time first, so they are roughly time-ordered, and the node
// bits keep two nodes minting in the same millisecond apart.
func (t Timestamp) ToID() uint64 {
	physicalMS := uint64(t.WallTime / 1_000_000)
	nodeID := t.NodeID & NodeIDMask
	logical := uint64(t.Logical) & LogicalMask
	return (physicalMS << TotalShiftBits) | (nodeID << LogicalBits) | logical
}

// FromID recovers the millisecond wall time and node bits of an ID.
func FromID(id uint64) Timestamp {
	return Timestamp{
		WallTime: int64(id>>TotalShiftBits) * 1_000_000,
		Logical:  int32(id & LogicalMask),
		NodeID:   (id >> LogicalBits) & NodeIDMask,
	}
}
