package ingestpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype this codec registers under.
// The ingest client selects it with grpc.CallContentSubtype(CodecName)
// so the stream carries our hand-framed wire format (see wire.go)
// instead of requiring a generated proto.Message implementation.
const CodecName = "ingestpb"

// grpcCodec adapts *Batch/*Ack to grpc's encoding.Codec, which only
// requires Marshal/Unmarshal on interface{} — it is not restricted to
// proto.Message, so no generated descriptor is needed.
type grpcCodec struct {
	records Codec
}

func init() {
	encoding.RegisterCodec(grpcCodec{records: Codec{}})
}

func (grpcCodec) Name() string { return CodecName }

func (c grpcCodec) Marshal(v interface{}) ([]byte, error) {
	switch msg := v.(type) {
	case *Batch:
		return EncodeBatch(msg, c.records)
	case *Ack:
		return EncodeAck(msg), nil
	default:
		return nil, fmt.Errorf("ingestpb: codec cannot marshal %T", v)
	}
}

func (c grpcCodec) Unmarshal(data []byte, v interface{}) error {
	switch msg := v.(type) {
	case *Batch:
		decoded, err := DecodeBatch(data, c.records)
		if err != nil {
			return err
		}
		*msg = *decoded
		return nil
	case *Ack:
		decoded, err := DecodeAck(data)
		if err != nil {
			return err
		}
		*msg = *decoded
		return nil
	default:
		return fmt.Errorf("ingestpb: codec cannot unmarshal into %T", v)
	}
}
