package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype both ends of the ledger RPC use.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the ledger service exchange plain JSON messages over
// gRPC framing, so the wire types stay hand-maintained Go structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(value interface{}) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return payload, nil
}

func (jsonCodec) Unmarshal(data []byte, value interface{}) error {
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return CodecName
}
