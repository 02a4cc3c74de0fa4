// Package stream holds the read and write path data model shared by storage,
// listeners and query execution: token ranges, slices, partitions, mutations and
// the lazy Reader that carries partitions from storage to the query layer.
package stream

import (
	"context"
	"io"
	"math"

	"github.com/maxpert/hotspot/schema"
)

// Range is an inclusive token range [Start, End]
type Range struct {
	Start int64
	End   int64
}

// FullRange covers every token on the ring
func FullRange() Range {
	return Range{Start: math.MinInt64, End: math.MaxInt64}
}

// SingleKey covers exactly the token of one partition
func SingleKey(dk schema.DecoratedKey) Range {
	return Range{Start: dk.Token, End: dk.Token}
}

// Contains reports whether token lies in the range
func (r Range) Contains(token int64) bool {
	return token >= r.Start && token <= r.End
}

// IsFull reports whether the range covers the whole ring
func (r Range) IsFull() bool {
	return r.Start == math.MinInt64 && r.End == math.MaxInt64
}

// Slice selects what is returned from each partition
type Slice struct {
	Columns []string // nil selects all columns
	Limit   int      // rows per partition, 0 means unlimited
}

// Row is one clustering row
type Row struct {
	Clustering []interface{}
	Cells      map[string]interface{}
}

// Partition is one partition as produced by a Reader
type Partition struct {
	Key  schema.DecoratedKey
	Rows []Row
}

// Mutation is a write against a single partition
type Mutation struct {
	Key  schema.DecoratedKey
	Rows []Row
}

// Reader is a lazy stream of partitions in token order.
// Next returns io.EOF once the stream is exhausted.
type Reader interface {
	Next(ctx context.Context) (*Partition, error)
	Close() error
}

type sliceReader struct {
	parts []*Partition
	pos   int
}

// FromSlice returns a Reader over an in-memory list of partitions
func FromSlice(parts []*Partition) Reader {
	return &sliceReader{parts: parts}
}

func (r *sliceReader) Next(ctx context.Context) (*Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.pos >= len(r.parts) {
		return nil, io.EOF
	}
	p := r.parts[r.pos]
	r.pos++
	return p, nil
}

func (r *sliceReader) Close() error {
	return nil
}

// Collect drains and closes a reader
func Collect(ctx context.Context, rd Reader) ([]*Partition, error) {
	defer rd.Close()

	var out []*Partition
	for {
		p, err := rd.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

type observingReader struct {
	Reader
	observe func(schema.DecoratedKey)
}

// Observe wraps rd so that fn sees the key of every partition passing through.
// The partitions themselves are returned untouched and in the same order.
func Observe(rd Reader, fn func(schema.DecoratedKey)) Reader {
	return &observingReader{Reader: rd, observe: fn}
}

func (r *observingReader) Next(ctx context.Context) (*Partition, error) {
	p, err := r.Reader.Next(ctx)
	if err != nil {
		return p, err
	}
	r.observe(p.Key)
	return p, nil
}
