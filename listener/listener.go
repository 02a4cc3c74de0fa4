// Package listener holds the interception points of the read and write paths.
//
// A Listener observes reads and writes of the tables it applies to. Listeners
// are installed into a shard's Registry, which owns them exclusively and is
// only ever touched from that shard's goroutine. Everything outside the shard
// refers to a listener by its session id.
package listener

import (
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
)

// Listener is a unit of interception logic
type Listener interface {
	// ID returns the session the listener belongs to
	ID() id.SessionID

	// IsApplicable reports whether reads and writes of s are observed
	IsApplicable(s *schema.Schema) bool

	// OnRead may wrap rd to observe the partitions flowing through it. The
	// returned reader must yield exactly what rd yields.
	OnRead(s *schema.Schema, rng stream.Range, slice stream.Slice, rd stream.Reader) stream.Reader

	// OnWrite observes a mutation before it is applied
	OnWrite(s *schema.Schema, m *stream.Mutation)
}

// Base provides the default behavior: applicable to everything, reads pass
// through untouched, writes are ignored.
type Base struct {
	Session id.SessionID
}

func (b *Base) ID() id.SessionID {
	return b.Session
}

func (b *Base) IsApplicable(*schema.Schema) bool {
	return true
}

func (b *Base) OnRead(_ *schema.Schema, _ stream.Range, _ stream.Slice, rd stream.Reader) stream.Reader {
	return rd
}

func (b *Base) OnWrite(*schema.Schema, *stream.Mutation) {}

// PartitionHook receives one decorated key per observed partition
type PartitionHook func(s *schema.Schema, dk schema.DecoratedKey)

// PartitionCounting observes every partition key of a read. Embedders set
// ReadHook and usually override OnWrite.
type PartitionCounting struct {
	Base
	ReadHook PartitionHook
}

func (p *PartitionCounting) OnRead(s *schema.Schema, _ stream.Range, _ stream.Slice, rd stream.Reader) stream.Reader {
	if p.ReadHook == nil {
		return rd
	}

	session := p.Session
	hook := p.ReadHook
	return stream.Observe(rd, func(dk schema.DecoratedKey) {
		Contain(session, HookRead, func() { hook(s, dk) })
	})
}
