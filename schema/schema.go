package schema

import (
	"cmp"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/hotspot/encoding"
)

// ColumnType is the storage type of a key column
type ColumnType string

const (
	TypeInt    ColumnType = "int"
	TypeText   ColumnType = "text"
	TypeBlob   ColumnType = "blob"
	TypeBool   ColumnType = "bool"
	TypeDouble ColumnType = "double"
)

// Column describes one key column
type Column struct {
	Name string
	Type ColumnType
}

// ParseColumns parses "name:type" column specs, as written in the config file
func ParseColumns(specs []string) ([]Column, error) {
	cols := make([]Column, 0, len(specs))
	for _, spec := range specs {
		name, typ, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid column %q, expected name:type", spec)
		}
		switch t := ColumnType(strings.ToLower(typ)); t {
		case TypeInt, TypeText, TypeBlob, TypeBool, TypeDouble:
			cols = append(cols, Column{Name: name, Type: t})
		default:
			return nil, fmt.Errorf("unknown column type %q in %q", typ, spec)
		}
	}
	return cols, nil
}

// Schema describes one incarnation of a table. ID changes whenever the table
// is dropped and recreated, so keys from different incarnations never collide.
type Schema struct {
	ID            uint64
	Keyspace      string
	Table         string
	Version       uint64
	PartitionKey  []Column
	ClusteringKey []Column
}

// QualifiedName returns keyspace.table
func (s *Schema) QualifiedName() string {
	return s.Keyspace + "." + s.Table
}

// Matches reports whether the schema belongs to keyspace.table
func (s *Schema) Matches(keyspace, table string) bool {
	return s != nil && s.Keyspace == keyspace && s.Table == table
}

// PartitionKey is the schema-aware identity of a partition. Raw holds the
// canonical msgpack encoding of the key components; SchemaID and Version keep
// equal byte sequences from different tables or schema generations apart.
// The struct is comparable and used directly as a map key.
type PartitionKey struct {
	SchemaID uint64
	Version  uint64
	Raw      string
}

// NewPartitionKey builds a partition key from its component values. Each
// component is coerced to its column type first, so equal logical keys always
// share one encoding and one rendering.
func NewPartitionKey(s *Schema, components ...interface{}) (PartitionKey, error) {
	if len(components) != len(s.PartitionKey) {
		return PartitionKey{}, fmt.Errorf("table %s expects %d partition key components, got %d",
			s.QualifiedName(), len(s.PartitionKey), len(components))
	}

	typed := make([]interface{}, len(components))
	for i, c := range components {
		v, err := s.PartitionKey[i].coerce(c)
		if err != nil {
			return PartitionKey{}, fmt.Errorf("table %s: %w", s.QualifiedName(), err)
		}
		typed[i] = v
	}

	raw, err := encoding.MarshalCanonical(typed)
	if err != nil {
		return PartitionKey{}, fmt.Errorf("failed to encode partition key: %w", err)
	}
	return PartitionKey{SchemaID: s.ID, Version: s.Version, Raw: string(raw)}, nil
}

// coerce converts v to the Go type backing the column: int64, string, []byte,
// bool or float64. Blobs also accept "0x"-prefixed hex, the form they render in.
func (c Column) coerce(v interface{}) (interface{}, error) {
	switch c.Type {
	case TypeInt:
		if n, ok := asInt64(v); ok {
			return n, nil
		}
	case TypeText:
		if str, ok := v.(string); ok {
			return str, nil
		}
	case TypeBlob:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			if hexed, ok := strings.CutPrefix(b, "0x"); ok {
				if out, err := hex.DecodeString(hexed); err == nil {
					return out, nil
				}
			}
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDouble:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
		if n, ok := asInt64(v); ok {
			return float64(n), nil
		}
	}
	return nil, fmt.Errorf("column %s of type %s cannot hold %T value %v", c.Name, c.Type, v, v)
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

// Components decodes the key back into its component values, typed as
// NewPartitionKey stored them.
func (k PartitionKey) Components() ([]interface{}, error) {
	var out []interface{}
	if err := encoding.UnmarshalExact([]byte(k.Raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode partition key: %w", err)
	}
	for i, v := range out {
		// compact encodings shrink ints and lossless floats on the wire
		if n, ok := asInt64(v); ok {
			out[i] = n
		} else if f, ok := v.(float32); ok {
			out[i] = float64(f)
		}
	}
	return out, nil
}

// Compare orders keys by schema, version, then raw bytes
func (k PartitionKey) Compare(o PartitionKey) int {
	if c := cmp.Compare(k.SchemaID, o.SchemaID); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Version, o.Version); c != 0 {
		return c
	}
	return strings.Compare(k.Raw, o.Raw)
}

// ComparePartitionKeys is Compare in function form, for generic containers
func ComparePartitionKeys(a, b PartitionKey) int {
	return a.Compare(b)
}

// DecoratedKey pairs a partition key with its routing token
type DecoratedKey struct {
	Token int64
	Key   PartitionKey
}

// Decorate hashes a partition key onto the token ring
func Decorate(k PartitionKey) DecoratedKey {
	return DecoratedKey{Token: int64(xxhash.Sum64String(k.Raw)), Key: k}
}

// Compare orders decorated keys by token, then by key
func (d DecoratedKey) Compare(o DecoratedKey) int {
	if c := cmp.Compare(d.Token, o.Token); c != 0 {
		return c
	}
	return d.Key.Compare(o.Key)
}

// Equal reports whether two decorated keys denote the same partition
func (d DecoratedKey) Equal(o DecoratedKey) bool {
	return d.Token == o.Token && d.Key == o.Key
}

// RenderComponents renders key components the way results are displayed:
// each component formatted on its own, joined with ':'.
func RenderComponents(components []interface{}) string {
	parts := make([]string, len(components))
	for i, c := range components {
		switch v := c.(type) {
		case []byte:
			parts[i] = fmt.Sprintf("0x%x", v)
		case string:
			parts[i] = v
		case nil:
			parts[i] = "null"
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, ":")
}
