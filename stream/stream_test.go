package stream

import (
	"context"
	"io"
	"testing"

	"github.com/maxpert/hotspot/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPartitions(t *testing.T, n int) []*Partition {
	t.Helper()
	c := schema.NewCatalog()
	s, err := c.CreateTable(schema.TableDef{
		Keyspace:     "ks",
		Table:        "t1",
		PartitionKey: []schema.Column{{Name: "k", Type: schema.TypeInt}},
	})
	require.NoError(t, err)

	parts := make([]*Partition, n)
	for i := range parts {
		k, err := schema.NewPartitionKey(s, int64(i))
		require.NoError(t, err)
		parts[i] = &Partition{
			Key:  schema.Decorate(k),
			Rows: []Row{{Cells: map[string]interface{}{"v": int64(i)}}},
		}
	}
	return parts
}

func TestRange(t *testing.T) {
	full := FullRange()
	assert.True(t, full.IsFull())
	assert.True(t, full.Contains(0))

	r := Range{Start: -10, End: 10}
	assert.True(t, r.Contains(-10))
	assert.True(t, r.Contains(10))
	assert.False(t, r.Contains(11))
	assert.False(t, r.IsFull())
}

func TestFromSlice_Collect(t *testing.T) {
	parts := testPartitions(t, 5)

	got, err := Collect(context.Background(), FromSlice(parts))
	require.NoError(t, err)
	assert.Equal(t, parts, got)
}

func TestFromSlice_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FromSlice(testPartitions(t, 1)).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObserve_PassThrough(t *testing.T) {
	parts := testPartitions(t, 4)

	var seen []schema.DecoratedKey
	rd := Observe(FromSlice(parts), func(dk schema.DecoratedKey) {
		seen = append(seen, dk)
	})

	got, err := Collect(context.Background(), rd)
	require.NoError(t, err)

	assert.Equal(t, parts, got, "wrapping must not change order or content")
	require.Len(t, seen, len(parts))
	for i, p := range parts {
		assert.True(t, p.Key.Equal(seen[i]))
	}

	_, err = rd.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Len(t, seen, len(parts), "EOF is not observed")
}
