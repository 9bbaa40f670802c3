package grpcx

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// gobCodec implements grpc's encoding.Codec so grpc-go can carry
// ordinary Go structs as RPC bodies without a .proto/protoc-generated
// pb.go pair. The teacher's pkg/grpc/transport.go imports a generated
// pkg/grpc/proto package that does not exist anywhere in the retrieval
// pack (no .proto, no *.pb.go under the teacher tree or elsewhere in
// the pack); hand-authoring fake generated stubs would fabricate a
// dependency artifact, so this repo instead uses grpc-go's documented
// custom-codec extension point (see DESIGN.md).
type gobCodec struct{}

const codecName = "gob"

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("grpcx: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("grpcx: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
