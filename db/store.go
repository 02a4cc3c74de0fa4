package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/maxpert/hotspot/encoding"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
	"github.com/rs/zerolog/log"
)

// Row keys are laid out so a forward scan yields partitions in token order:
//
//	{tableID:8}{token^signBit:8}{len(raw):uvarint}{raw}{clustering}
//
// A partition written without rows gets a marker key instead, with
// partitionMarker as its whole suffix. msgpack never emits that byte, so it
// cannot clash with an encoded clustering key.
const (
	tableIDLen      = 8
	tokenLen        = 8
	signBit         = uint64(1) << 63
	partitionMarker = byte(0xc1)
)

// StoreOptions configures shard storage
type StoreOptions struct {
	Path     string
	InMemory bool
}

// pebbleLogger wraps zerolog for Pebble
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// Store keeps one shard's partitions in Pebble
type Store struct {
	db   *pebble.DB
	path string
}

// OpenStore opens or creates shard storage
func OpenStore(opts StoreOptions) (*Store, error) {
	pebbleOpts := &pebble.Options{
		Logger: &pebbleLogger{},
	}
	path := opts.Path
	if opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
		if path == "" {
			path = "shard"
		}
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func tablePrefix(tableID uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, tableIDLen), tableID)
}

func tokenBound(tableID uint64, token int64) []byte {
	b := tablePrefix(tableID)
	return binary.BigEndian.AppendUint64(b, uint64(token)^signBit)
}

func partitionPrefix(tableID uint64, dk schema.DecoratedKey) []byte {
	raw := dk.Key.Raw
	b := make([]byte, 0, tableIDLen+tokenLen+binary.MaxVarintLen64+len(raw))
	b = binary.BigEndian.AppendUint64(b, tableID)
	b = binary.BigEndian.AppendUint64(b, uint64(dk.Token)^signBit)
	b = binary.AppendUvarint(b, uint64(len(raw)))
	return append(b, raw...)
}

// splitRowKey returns the partition prefix, token, raw key and clustering suffix of a row key
func splitRowKey(key []byte) (prefix []byte, token int64, raw []byte, clustering []byte, err error) {
	if len(key) < tableIDLen+tokenLen {
		return nil, 0, nil, nil, fmt.Errorf("row key too short: %d bytes", len(key))
	}
	token = int64(binary.BigEndian.Uint64(key[tableIDLen:]) ^ signBit)
	rest := key[tableIDLen+tokenLen:]
	n, w := binary.Uvarint(rest)
	if w <= 0 || uint64(len(rest)-w) < n {
		return nil, 0, nil, nil, fmt.Errorf("corrupt row key")
	}
	end := tableIDLen + tokenLen + w + int(n)
	return key[:end], token, key[tableIDLen+tokenLen+w : end], key[end:], nil
}

// Apply writes every row of m. A mutation without rows still materializes the
// partition, which then scans back with no rows.
func (s *Store) Apply(sc *schema.Schema, m *stream.Mutation) error {
	prefix := partitionPrefix(sc.ID, m.Key)

	batch := s.db.NewBatch()
	defer batch.Close()

	if len(m.Rows) == 0 {
		if err := batch.Set(append(bytes.Clone(prefix), partitionMarker), nil, nil); err != nil {
			return err
		}
	}

	for _, row := range m.Rows {
		key := prefix
		if len(row.Clustering) > 0 {
			ck, err := encoding.MarshalCanonical(row.Clustering)
			if err != nil {
				return fmt.Errorf("failed to encode clustering key: %w", err)
			}
			key = append(bytes.Clone(prefix), ck...)
		}

		val, err := encoding.Marshal(row.Cells)
		if err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
		if err := batch.Set(key, val, nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.NoSync)
}

// Scan returns a lazy reader over the partitions of sc within rng
func (s *Store) Scan(sc *schema.Schema, rng stream.Range, slice stream.Slice) (stream.Reader, error) {
	lower := tokenBound(sc.ID, rng.Start)
	var upper []byte
	if rng.End == math.MaxInt64 {
		upper = tablePrefix(sc.ID + 1)
	} else {
		upper = tokenBound(sc.ID, rng.End+1)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	iter.First()

	return &storeReader{iter: iter, schema: sc, slice: slice}, nil
}

// DropTable removes every row of a table incarnation
func (s *Store) DropTable(tableID uint64) error {
	return s.db.DeleteRange(tablePrefix(tableID), tablePrefix(tableID+1), pebble.NoSync)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type storeReader struct {
	iter   *pebble.Iterator
	schema *schema.Schema
	slice  stream.Slice
	closed bool
}

func (r *storeReader) Next(ctx context.Context) (*stream.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.closed {
		return nil, io.EOF
	}
	if !r.iter.Valid() {
		if err := r.iter.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	prefix, token, raw, _, err := splitRowKey(r.iter.Key())
	if err != nil {
		return nil, err
	}
	prefix = bytes.Clone(prefix)

	p := &stream.Partition{
		Key: schema.DecoratedKey{
			Token: token,
			Key: schema.PartitionKey{
				SchemaID: r.schema.ID,
				Version:  r.schema.Version,
				Raw:      string(raw),
			},
		},
	}

	for ; r.iter.Valid() && bytes.HasPrefix(r.iter.Key(), prefix); r.iter.Next() {
		rest := r.iter.Key()[len(prefix):]
		if len(rest) == 1 && rest[0] == partitionMarker {
			continue
		}
		if r.slice.Limit > 0 && len(p.Rows) >= r.slice.Limit {
			continue
		}
		row, err := r.decodeRow(rest)
		if err != nil {
			return nil, err
		}
		p.Rows = append(p.Rows, row)
	}
	return p, nil
}

func (r *storeReader) decodeRow(clustering []byte) (stream.Row, error) {
	var row stream.Row
	if len(clustering) > 0 {
		if err := encoding.Unmarshal(clustering, &row.Clustering); err != nil {
			return row, fmt.Errorf("failed to decode clustering key: %w", err)
		}
	}

	val, err := r.iter.ValueAndErr()
	if err != nil {
		return row, err
	}
	var cells map[string]interface{}
	if err := encoding.Unmarshal(val, &cells); err != nil {
		return row, fmt.Errorf("failed to decode row: %w", err)
	}

	if len(r.slice.Columns) == 0 {
		row.Cells = cells
		return row, nil
	}
	row.Cells = make(map[string]interface{}, len(r.slice.Columns))
	for _, c := range r.slice.Columns {
		if v, ok := cells[c]; ok {
			row.Cells[c] = v
		}
	}
	return row, nil
}

func (r *storeReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.iter.Close()
}
