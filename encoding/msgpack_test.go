package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Basic(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"string", "hello world"},
		{"int64", int64(9876543210)},
		{"bool", true},
		{"components", []interface{}{int64(1), "abc"}},
		{"map", map[string]interface{}{"name": "alice", "age": 30}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(tc.input)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}

func TestMarshalCanonical_IntWidthIndependent(t *testing.T) {
	a, err := MarshalCanonical([]interface{}{int32(7), "k"})
	require.NoError(t, err)
	b, err := MarshalCanonical([]interface{}{int64(7), "k"})
	require.NoError(t, err)
	c, err := MarshalCanonical([]interface{}{uint8(7), "k"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestMarshalCanonical_SortsMapKeys(t *testing.T) {
	m := map[string]interface{}{"z": 1, "a": 2, "m": 3}
	first, err := MarshalCanonical(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalCanonical(m)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestUnmarshal_LooseDecoding(t *testing.T) {
	data, err := MarshalCanonical([]interface{}{int64(42), "user"})
	require.NoError(t, err)

	var out []interface{}
	require.NoError(t, Unmarshal(data, &out))
	require.Len(t, out, 2)
	assert.Equal(t, int64(42), out[0])
	assert.Equal(t, "user", out[1])
}

func TestUnmarshalExact_KeepsBinaryDistinct(t *testing.T) {
	data, err := MarshalCanonical([]interface{}{"cafe", []byte{0xca, 0xfe}})
	require.NoError(t, err)

	var out []interface{}
	require.NoError(t, UnmarshalExact(data, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "cafe", out[0])
	assert.Equal(t, []byte{0xca, 0xfe}, out[1])
}

func TestMarshal_Concurrent(t *testing.T) {
	type payload struct {
		Session uint64
		Keys    []string
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				in := payload{Session: uint64(n*1000 + j), Keys: []string{"a", "b"}}
				data, err := Marshal(in)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var out payload
				if err := Unmarshal(data, &out); err != nil {
					t.Errorf("Unmarshal failed: %v", err)
					return
				}
				if out.Session != in.Session {
					t.Errorf("session mismatch: got %d want %d", out.Session, in.Session)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
