package ingestpb

import (
	"hash/crc32"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// Field numbers for the Batch envelope (spec.md §6, "Wire format to the
// ingest service": `{batch_id, records[], checksum}`).
const (
	batchFieldID       = 1
	batchFieldRecords  = 2
	batchFieldChecksum = 3
)

// Ack field numbers for the server's `{ack_batch_id, status, message?}`.
const (
	ackFieldBatchID = 1
	ackFieldStatus  = 2
	ackFieldMessage = 3
)

// Batch is one client message on the ingest stream: a monotonically
// increasing id plus the records it carries.
type Batch struct {
	BatchID uint64
	Records []*record.Record
}

// Ack is one server message on the ingest stream.
type Ack struct {
	BatchID uint64
	Status  string
	Message string
}

// EncodeBatch serializes a Batch, embedding a CRC32 checksum over the
// concatenated record payload so a receiver can detect wire corruption
// independent of gRPC's own framing.
func EncodeBatch(b *Batch, codec Codec) ([]byte, error) {
	var recordsBlob []byte
	var out []byte

	out = protowire.AppendTag(out, batchFieldID, protowire.VarintType)
	out = protowire.AppendVarint(out, b.BatchID)

	for _, rec := range b.Records {
		encoded, err := codec.Encode(rec)
		if err != nil {
			return nil, err
		}
		recordsBlob = append(recordsBlob, encoded...)
		out = protowire.AppendTag(out, batchFieldRecords, protowire.BytesType)
		out = protowire.AppendBytes(out, encoded)
	}

	checksum := crc32.ChecksumIEEE(recordsBlob)
	out = protowire.AppendTag(out, batchFieldChecksum, protowire.Fixed32Type)
	out = protowire.AppendFixed32(out, checksum)

	return out, nil
}

// DecodeBatch reverses EncodeBatch and verifies the checksum.
func DecodeBatch(data []byte, codec Codec) (*Batch, error) {
	b := &Batch{}
	var recordsBlob []byte
	var wantChecksum uint32

	for len(data) > 0 {
		num, _, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformed("batch tag")
		}
		data = data[n:]

		switch num {
		case batchFieldID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed("batch id")
			}
			b.BatchID = v
			data = data[n:]
		case batchFieldRecords:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed("batch record")
			}
			recordsBlob = append(recordsBlob, v...)
			rec, err := codec.Decode(v)
			if err != nil {
				return nil, err
			}
			b.Records = append(b.Records, rec)
			data = data[n:]
		case batchFieldChecksum:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, errMalformed("batch checksum")
			}
			wantChecksum = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, protowire.BytesType, data)
			if n < 0 {
				return nil, errMalformed("unknown batch field")
			}
			data = data[n:]
		}
	}

	if crc32.ChecksumIEEE(recordsBlob) != wantChecksum {
		return nil, errChecksumMismatch
	}
	return b, nil
}

// EncodeAck/DecodeAck mirror Batch for the server->client direction.
func EncodeAck(a *Ack) []byte {
	var out []byte
	out = protowire.AppendTag(out, ackFieldBatchID, protowire.VarintType)
	out = protowire.AppendVarint(out, a.BatchID)
	out = appendString(out, ackFieldStatus, a.Status)
	if a.Message != "" {
		out = appendString(out, ackFieldMessage, a.Message)
	}
	return out
}

func DecodeAck(data []byte) (*Ack, error) {
	a := &Ack{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformed("ack tag")
		}
		data = data[n:]
		switch num {
		case ackFieldBatchID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed("ack batch id")
			}
			a.BatchID = v
			data = data[n:]
		case ackFieldStatus:
			a.Status, data = consumeString(data)
		case ackFieldMessage:
			a.Message, data = consumeString(data)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errMalformed("unknown ack field")
			}
			data = data[n:]
		}
	}
	return a, nil
}
