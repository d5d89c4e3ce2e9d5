package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype this module negotiates instead
// of protobuf's default "proto".
const CodecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json.
// Registered globally so any grpc.ClientConn/grpc.Server in this process
// that selects the "json" content-subtype uses it automatically.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
