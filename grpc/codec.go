package grpc

import (
	"fmt"

	hsencoding "github.com/maxpert/hotspot/encoding"
	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype peers negotiate, "application/grpc+msgpack"
const codecName = "msgpack"

// msgpackCodec lets plain Go structs travel over gRPC without generated protobuf types
type msgpackCodec struct{}

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := hsencoding.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal %T: %w", v, err)
	}
	return b, nil
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	if err := hsencoding.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack unmarshal %T: %w", v, err)
	}
	return nil
}

func (msgpackCodec) Name() string {
	return codecName
}
