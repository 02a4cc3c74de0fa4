// Package encoding provides centralized msgpack serialization.
// Partition key components and node-to-node sampling messages both go through
// this package so that every node produces byte-identical encodings.
//
// Thread Safety: all functions are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// MarshalCanonical encodes a value with compact integers and sorted map keys,
// so equal logical values always yield equal bytes regardless of Go int width.
func MarshalCanonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	enc.UseCompactFloats(true)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// When decoding into interface{}, strings stay Go strings and integers widen to
// int64/uint64 so rendered partition keys are stable.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

// UnmarshalExact decodes msgpack data keeping the wire types: bin stays []byte
// and str stays string. Partition keys are decoded this way so blob and text
// components remain distinguishable.
func UnmarshalExact(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
