// Package ingestpb implements the wire encoding for ProtocolRecord
// batches sent over the ingest gRPC stream (spec.md §4.7, §6 "Wire
// format to the ingest service").
//
// spec.md §9 leaves the exact on-wire protobuf field numbers as an Open
// Question: "the spec fixes the logical shape but not the field
// numbers." This package resolves that by hand-framing each field with
// google.golang.org/protobuf's own low-level protowire helpers — the
// same varint/length-delimited primitives `protoc-gen-go` output is
// built from — rather than depending on generated, descriptor-backed
// message types. The result is real protobuf wire format (any protobuf
// implementation agreeing on these field numbers could decode it) without
// a protoc build step.
package ingestpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// Field numbers for the wire-framed Record message. Stable for this
// implementation; not claimed to match any external service's schema
// (spec.md §9 Open Question).
const (
	fieldEventTimeNS  = 1
	fieldIngestTimeNS = 2
	fieldSourceName   = 3
	fieldEndpoint     = 4
	fieldProtocol     = 5
	fieldTopicOrPath  = 6
	fieldValueKind    = 7
	fieldValueI64     = 8
	fieldValueF64     = 9
	fieldValueBool    = 10
	fieldValueStr     = 11
	fieldValueBytes   = 12
	fieldValueNum     = 13
	fieldValueType    = 14
	fieldStatusCode   = 15
	fieldStatus       = 16
	fieldMetadata     = 17 // repeated MetadataEntry
	fieldVendor       = 18
	fieldISA95        = 19 // embedded ISA95 message
	fieldThingID      = 20
	fieldSemanticType = 21
	fieldUnitURI      = 22
)

// ISA95 sub-message field numbers.
const (
	isa95Enterprise = 1
	isa95Site       = 2
	isa95Area       = 3
	isa95Line       = 4
	isa95Equipment  = 5
)

// MetadataEntry sub-message field numbers (mirrors a protobuf map entry).
const (
	metaKey   = 1
	metaValue = 2
)

// Codec implements record.Codec using the manual wire framing below.
type Codec struct{}

var _ record.Codec = Codec{}

// Encode serializes rec into the wire-framed Record message.
func (Codec) Encode(rec *record.Record) ([]byte, error) {
	var b []byte

	b = protowire.AppendTag(b, fieldEventTimeNS, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.EventTimeNS))
	b = protowire.AppendTag(b, fieldIngestTimeNS, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.IngestTimeNS))
	b = appendString(b, fieldSourceName, rec.SourceName)
	b = appendString(b, fieldEndpoint, rec.Endpoint)
	b = appendString(b, fieldProtocol, string(rec.ProtocolType))
	b = appendString(b, fieldTopicOrPath, rec.TopicOrPath)

	b = appendString(b, fieldValueKind, string(rec.Value.Kind))
	switch rec.Value.Kind {
	case record.ValueKindI64:
		b = protowire.AppendTag(b, fieldValueI64, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.Value.I64))
	case record.ValueKindF64:
		b = protowire.AppendTag(b, fieldValueF64, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64Bits(rec.Value.F64))
	case record.ValueKindBool:
		b = protowire.AppendTag(b, fieldValueBool, protowire.VarintType)
		boolVal := uint64(0)
		if rec.Value.Bool {
			boolVal = 1
		}
		b = protowire.AppendVarint(b, boolVal)
	case record.ValueKindString:
		b = appendString(b, fieldValueStr, rec.Value.Str)
	case record.ValueKindBytes:
		b = protowire.AppendTag(b, fieldValueBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.Value.Bytes)
	}

	if rec.ValueNum != nil {
		b = protowire.AppendTag(b, fieldValueNum, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, float64Bits(*rec.ValueNum))
	}
	b = appendString(b, fieldValueType, rec.ValueType)

	b = protowire.AppendTag(b, fieldStatusCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(rec.StatusCode)))
	b = appendString(b, fieldStatus, string(rec.Status))

	for k, v := range rec.Metadata {
		var entry []byte
		entry = appendString(entry, metaKey, k)
		entry = appendString(entry, metaValue, v)
		b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	b = appendString(b, fieldVendor, string(rec.VendorFormat))

	var isa []byte
	isa = appendString(isa, isa95Enterprise, rec.ISA95.Enterprise)
	isa = appendString(isa, isa95Site, rec.ISA95.Site)
	isa = appendString(isa, isa95Area, rec.ISA95.Area)
	isa = appendString(isa, isa95Line, rec.ISA95.Line)
	isa = appendString(isa, isa95Equipment, rec.ISA95.Equipment)
	b = protowire.AppendTag(b, fieldISA95, protowire.BytesType)
	b = protowire.AppendBytes(b, isa)

	if rec.ThingID != nil {
		b = appendString(b, fieldThingID, *rec.ThingID)
	}
	if rec.SemanticType != nil {
		b = appendString(b, fieldSemanticType, *rec.SemanticType)
	}
	if rec.UnitURI != nil {
		b = appendString(b, fieldUnitURI, *rec.UnitURI)
	}

	return b, nil
}

// Decode reverses Encode. Unknown fields are skipped, matching
// protobuf's forward-compatibility convention.
func (Codec) Decode(data []byte) (*record.Record, error) {
	rec := &record.Record{Metadata: map[string]string{}}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("ingestpb: malformed tag at offset %d", len(data))
		}
		data = data[n:]

		switch num {
		case fieldEventTimeNS:
			v, n := protowire.ConsumeVarint(data)
			data = consumeOrFail(data, n)
			rec.EventTimeNS = int64(v)
		case fieldIngestTimeNS:
			v, n := protowire.ConsumeVarint(data)
			data = consumeOrFail(data, n)
			rec.IngestTimeNS = int64(v)
		case fieldSourceName:
			rec.SourceName, data = consumeString(data)
		case fieldEndpoint:
			rec.Endpoint, data = consumeString(data)
		case fieldProtocol:
			var s string
			s, data = consumeString(data)
			rec.ProtocolType = record.ProtocolType(s)
		case fieldTopicOrPath:
			rec.TopicOrPath, data = consumeString(data)
		case fieldValueKind:
			var s string
			s, data = consumeString(data)
			rec.Value.Kind = record.ValueKind(s)
		case fieldValueI64:
			v, n := protowire.ConsumeVarint(data)
			data = consumeOrFail(data, n)
			rec.Value.I64 = int64(v)
		case fieldValueF64:
			v, n := protowire.ConsumeFixed64(data)
			data = consumeOrFail(data, n)
			rec.Value.F64 = fixed64Float(v)
		case fieldValueBool:
			v, n := protowire.ConsumeVarint(data)
			data = consumeOrFail(data, n)
			rec.Value.Bool = v != 0
		case fieldValueStr:
			rec.Value.Str, data = consumeString(data)
		case fieldValueBytes:
			v, n := protowire.ConsumeBytes(data)
			data = consumeOrFail(data, n)
			rec.Value.Bytes = append([]byte(nil), v...)
		case fieldValueNum:
			v, n := protowire.ConsumeFixed64(data)
			data = consumeOrFail(data, n)
			f := fixed64Float(v)
			rec.ValueNum = &f
		case fieldValueType:
			rec.ValueType, data = consumeString(data)
		case fieldStatusCode:
			v, n := protowire.ConsumeVarint(data)
			data = consumeOrFail(data, n)
			rec.StatusCode = int32(uint32(v))
		case fieldStatus:
			var s string
			s, data = consumeString(data)
			rec.Status = record.Status(s)
		case fieldMetadata:
			v, n := protowire.ConsumeBytes(data)
			data = consumeOrFail(data, n)
			k, val := decodeMetadataEntry(v)
			rec.Metadata[k] = val
		case fieldVendor:
			var s string
			s, data = consumeString(data)
			rec.VendorFormat = record.VendorFormat(s)
		case fieldISA95:
			v, n := protowire.ConsumeBytes(data)
			data = consumeOrFail(data, n)
			rec.ISA95 = decodeISA95(v)
		case fieldThingID:
			var s string
			s, data = consumeString(data)
			rec.ThingID = &s
		case fieldSemanticType:
			var s string
			s, data = consumeString(data)
			rec.SemanticType = &s
		case fieldUnitURI:
			var s string
			s, data = consumeString(data)
			rec.UnitURI = &s
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			data = consumeOrFail(data, n)
		}
	}

	return rec, nil
}

func appendString(b []byte, field protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func consumeString(data []byte) (string, []byte) {
	s, n := protowire.ConsumeString(data)
	return s, consumeOrFail(data, n)
}

func consumeOrFail(data []byte, n int) []byte {
	if n < 0 {
		// Truncated/corrupt input; return nothing left to consume so the
		// caller's loop terminates. Decode callers that care about
		// corruption (the disk spool) verify a CRC before ever reaching
		// this decoder, so this path is only hit on a programmer error.
		return nil
	}
	return data[n:]
}

func decodeMetadataEntry(data []byte) (key, value string) {
	for len(data) > 0 {
		num, _, n := protowire.ConsumeTag(data)
		if n < 0 {
			return key, value
		}
		data = consumeOrFail(data, n)
		switch num {
		case metaKey:
			key, data = consumeString(data)
		case metaValue:
			value, data = consumeString(data)
		default:
			return key, value
		}
	}
	return key, value
}

func decodeISA95(data []byte) record.ISA95 {
	var out record.ISA95
	for len(data) > 0 {
		num, _, n := protowire.ConsumeTag(data)
		if n < 0 {
			return out
		}
		data = consumeOrFail(data, n)
		var s string
		switch num {
		case isa95Enterprise:
			s, data = consumeString(data)
			out.Enterprise = s
		case isa95Site:
			s, data = consumeString(data)
			out.Site = s
		case isa95Area:
			s, data = consumeString(data)
			out.Area = s
		case isa95Line:
			s, data = consumeString(data)
			out.Line = s
		case isa95Equipment:
			s, data = consumeString(data)
			out.Equipment = s
		default:
			return out
		}
	}
	return out
}
