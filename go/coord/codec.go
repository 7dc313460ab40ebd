// Package coord is the cross-machine coordination channel: a small gRPC
// service providing layer-boundary barriers and a TERM broadcast,
// replacing the original engine's ZeroMQ coord-server (coordserver.cpp)
// with the pack's richest RPC stack. Since no protoc/.proto toolchain is
// available in this workspace, the service is wired by hand: a JSON
// encoding.Codec stands in for generated protobuf marshalling, and the
// method table is a hand-built grpc.ServiceDesc rather than a
// *_grpc.pb.go file (see DESIGN.md).
package coord

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "dorylus-json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec over plain
// Go structs, so Barrier/Term messages never need a protobuf definition.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("coord: unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

// Codec returns the encoding.Codec used on both the client and server
// side of this service.
func Codec() encoding.Codec {
	return jsonCodec{}
}
