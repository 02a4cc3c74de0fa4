package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var (
	// ErrTableExists is returned when creating a table that already exists
	ErrTableExists = errors.New("table already exists")
	// ErrTableNotFound is returned when a keyspace/table pair is unknown
	ErrTableNotFound = errors.New("table not found")
)

// TableDef is the user-supplied description of a table
type TableDef struct {
	Keyspace      string
	Table         string
	PartitionKey  []Column
	ClusteringKey []Column
}

// Catalog tracks the live schema of every table on a node.
// Thread-safe.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]*Schema
	byID   map[uint64]*Schema
	nextID atomic.Uint64
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		byName: make(map[string]*Schema),
		byID:   make(map[uint64]*Schema),
	}
}

func qualified(keyspace, table string) string {
	return keyspace + "." + table
}

// CreateTable registers a new table incarnation
func (c *Catalog) CreateTable(def TableDef) (*Schema, error) {
	if def.Keyspace == "" || def.Table == "" {
		return nil, fmt.Errorf("keyspace and table are required")
	}
	if len(def.PartitionKey) == 0 {
		return nil, fmt.Errorf("table %s needs at least one partition key column", qualified(def.Keyspace, def.Table))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	name := qualified(def.Keyspace, def.Table)
	if _, exists := c.byName[name]; exists {
		return nil, fmt.Errorf("%s: %w", name, ErrTableExists)
	}

	s := &Schema{
		ID:            c.nextID.Add(1),
		Keyspace:      def.Keyspace,
		Table:         def.Table,
		Version:       1,
		PartitionKey:  append([]Column(nil), def.PartitionKey...),
		ClusteringKey: append([]Column(nil), def.ClusteringKey...),
	}
	c.byName[name] = s
	c.byID[s.ID] = s

	log.Debug().
		Str("table", name).
		Uint64("schema_id", s.ID).
		Msg("Table created")
	return s, nil
}

// DropTable removes a table and returns the schema it had
func (c *Catalog) DropTable(keyspace, table string) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := qualified(keyspace, table)
	s, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}
	delete(c.byName, name)
	delete(c.byID, s.ID)

	log.Debug().
		Str("table", name).
		Uint64("schema_id", s.ID).
		Msg("Table dropped")
	return s, nil
}

// Get returns the live schema of keyspace.table
func (c *Catalog) Get(keyspace, table string) (*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.byName[qualified(keyspace, table)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", qualified(keyspace, table), ErrTableNotFound)
	}
	return s, nil
}

// ByID returns the live schema with the given id
func (c *Catalog) ByID(id uint64) (*Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok
}

// Tables lists qualified table names in sorted order
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
