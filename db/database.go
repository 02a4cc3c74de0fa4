package db

import (
	"context"
	"fmt"
	"slices"

	"github.com/maxpert/hotspot/listener"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Options configures the local shard set
type Options struct {
	Shards     int
	QueueDepth int
	InMemory   bool
	ShardPath  func(shard int) string
}

// Outcome is the result of a task on one shard
type Outcome struct {
	Shard int
	Value any
	Err   error
}

// Database is the node-local storage engine: a table catalog and a fixed set
// of shards. Partitions are owned by the shard their token maps to.
type Database struct {
	catalog *schema.Catalog
	shards  []*Shard
}

// Open creates the shard set
func Open(opts Options) (*Database, error) {
	if opts.Shards < 1 {
		return nil, fmt.Errorf("shard count must be >= 1, got %d", opts.Shards)
	}

	d := &Database{
		catalog: schema.NewCatalog(),
		shards:  make([]*Shard, 0, opts.Shards),
	}

	for i := 0; i < opts.Shards; i++ {
		so := StoreOptions{InMemory: opts.InMemory}
		if opts.ShardPath != nil {
			so.Path = opts.ShardPath(i)
		}
		store, err := OpenStore(so)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to open shard %d: %w", i, err)
		}
		d.shards = append(d.shards, NewShard(i, store, opts.QueueDepth))
	}

	log.Info().Int("shards", opts.Shards).Bool("in_memory", opts.InMemory).Msg("Database opened")
	return d, nil
}

func (d *Database) Catalog() *schema.Catalog {
	return d.catalog
}

func (d *Database) Shards() []*Shard {
	return d.shards
}

// ShardFor returns the shard owning dk
func (d *Database) ShardFor(dk schema.DecoratedKey) *Shard {
	return d.shards[uint64(dk.Token)%uint64(len(d.shards))]
}

func (d *Database) CreateTable(def schema.TableDef) (*schema.Schema, error) {
	return d.catalog.CreateTable(def)
}

// DropTable removes the table, its rows and every listener observing it
func (d *Database) DropTable(ctx context.Context, keyspace, table string) error {
	s, err := d.catalog.DropTable(keyspace, table)
	if err != nil {
		return err
	}

	var errs error
	for _, o := range d.InvokeEach(ctx, func(sh *Shard) (any, error) {
		removed := sh.Registry().UninstallIf(func(l listener.Listener) bool {
			applies := false
			listener.Contain(l.ID(), listener.HookApplicable, func() { applies = l.IsApplicable(s) })
			return applies
		})
		if removed > 0 {
			log.Info().
				Int("shard", sh.ID()).
				Int("listeners", removed).
				Str("table", s.QualifiedName()).
				Msg("Uninstalled listeners of dropped table")
		}
		return nil, sh.Store().DropTable(s.ID)
	}) {
		errs = multierr.Append(errs, o.Err)
	}
	return errs
}

// Insert builds a partition key from components and applies rows to it
func (d *Database) Insert(ctx context.Context, keyspace, table string, key []interface{}, rows ...stream.Row) error {
	s, err := d.catalog.Get(keyspace, table)
	if err != nil {
		return err
	}
	pk, err := schema.NewPartitionKey(s, key...)
	if err != nil {
		return err
	}
	return d.Apply(ctx, s, &stream.Mutation{Key: schema.Decorate(pk), Rows: rows})
}

// Apply runs the write interception hooks and stores m on its owning shard
func (d *Database) Apply(ctx context.Context, s *schema.Schema, m *stream.Mutation) error {
	_, err := Invoke(ctx, d.ShardFor(m.Key), func(sh *Shard) (struct{}, error) {
		sh.Registry().OnWrite(s, m)
		return struct{}{}, sh.Store().Apply(s, m)
	})
	return err
}

// Query reads rng from every shard, running the read interception hooks on
// each shard, and returns the partitions in token order.
func (d *Database) Query(ctx context.Context, keyspace, table string, rng stream.Range, slice stream.Slice) ([]*stream.Partition, error) {
	s, err := d.catalog.Get(keyspace, table)
	if err != nil {
		return nil, err
	}

	perShard := make([][]*stream.Partition, len(d.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range d.shards {
		g.Go(func() error {
			parts, err := Invoke(gctx, sh, func(sh *Shard) ([]*stream.Partition, error) {
				rd, err := sh.Store().Scan(s, rng, slice)
				if err != nil {
					return nil, err
				}
				rd = sh.Registry().OnRead(s, rng, slice, rd)
				return stream.Collect(gctx, rd)
			})
			if err != nil {
				return fmt.Errorf("shard %d: %w", sh.ID(), err)
			}
			perShard[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*stream.Partition
	for _, parts := range perShard {
		out = append(out, parts...)
	}
	slices.SortStableFunc(out, func(a, b *stream.Partition) int { return a.Key.Compare(b.Key) })
	return out, nil
}

// InvokeEach runs fn on every shard in parallel and reports each outcome
func (d *Database) InvokeEach(ctx context.Context, fn Task) []Outcome {
	out := make([]Outcome, len(d.shards))
	var g errgroup.Group
	for i, sh := range d.shards {
		g.Go(func() error {
			v, err := Invoke(ctx, sh, func(sh *Shard) (any, error) { return fn(sh) })
			out[i] = Outcome{Shard: sh.ID(), Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// InvokeOnAll runs fn on every shard and fails if any shard fails
func (d *Database) InvokeOnAll(ctx context.Context, fn Task) ([]any, error) {
	outcomes := d.InvokeEach(ctx, fn)
	values := make([]any, len(outcomes))
	var errs error
	for i, o := range outcomes {
		values[i] = o.Value
		if o.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shard %d: %w", o.Shard, o.Err))
		}
	}
	return values, errs
}

// ListenerCount sums installed listeners over all shards
func (d *Database) ListenerCount(ctx context.Context) (int, error) {
	values, err := d.InvokeOnAll(ctx, func(sh *Shard) (any, error) {
		return sh.Registry().Len(), nil
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, v := range values {
		total += v.(int)
	}
	return total, nil
}

// Close stops every shard and closes its storage
func (d *Database) Close() error {
	var errs error
	for _, sh := range d.shards {
		sh.Stop()
		if sh.store != nil {
			errs = multierr.Append(errs, sh.store.Close())
		}
	}
	return errs
}
