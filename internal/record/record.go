// Package record defines the unified ProtocolRecord schema that every
// source produces and the ingest pipeline consumes. A Record is
// immutable once produced by a source; each pipeline stage that augments
// it (classification, normalization) returns a new value rather than
// mutating the one it was handed, so ownership transfers cleanly between
// stages (spec.md §3, "Ownership").
package record

import "time"

// ProtocolType identifies which industrial protocol produced a Record.
type ProtocolType string

const (
	ProtocolOPCUA   ProtocolType = "opcua"
	ProtocolMQTT    ProtocolType = "mqtt"
	ProtocolModbus  ProtocolType = "modbus"
)

// VendorFormat is assigned by the vendor classifier (internal/classify).
// Unknown is never a valid terminal value — classification always
// resolves to a concrete tag, defaulting to Generic.
type VendorFormat string

const (
	VendorKepware     VendorFormat = "kepware"
	VendorSparkplugB  VendorFormat = "sparkplug_b"
	VendorHoneywell   VendorFormat = "honeywell"
	VendorOPCUA       VendorFormat = "opcua"
	VendorModbus      VendorFormat = "modbus"
	VendorGeneric     VendorFormat = "generic"
	VendorUnknown     VendorFormat = "unknown"
)

// Status is the normalizer-friendly projection of a protocol-native
// status code.
type Status string

const (
	StatusGood      Status = "good"
	StatusUncertain Status = "uncertain"
	StatusBad       Status = "bad"
)

// ValueKind tags which field of Value is populated.
type ValueKind string

const (
	ValueKindI64    ValueKind = "i64"
	ValueKindF64    ValueKind = "f64"
	ValueKindBool   ValueKind = "bool"
	ValueKindString ValueKind = "string"
	ValueKindBytes  ValueKind = "bytes"
)

// Value is a tagged union over the primitive sample types a protocol
// client can deliver. Exactly one field matching Kind is meaningful.
type Value struct {
	Kind  ValueKind
	I64   int64
	F64   float64
	Bool  bool
	Str   string
	Bytes []byte
}

func I64Value(v int64) Value  { return Value{Kind: ValueKindI64, I64: v} }
func F64Value(v float64) Value { return Value{Kind: ValueKindF64, F64: v} }
func BoolValue(v bool) Value  { return Value{Kind: ValueKindBool, Bool: v} }
func StringValue(v string) Value { return Value{Kind: ValueKindString, Str: v} }
func BytesValue(v []byte) Value { return Value{Kind: ValueKindBytes, Bytes: v} }

// Numeric projects the value onto a float64 when it has a natural
// numeric reading, for the record's ValueNum analytics field.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case ValueKindI64:
		return float64(v.I64), true
	case ValueKindF64:
		return v.F64, true
	case ValueKindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// TypeLabel returns the human-readable label stored in ValueType.
func (v Value) TypeLabel() string {
	return string(v.Kind)
}

// ISA95 is the manufacturing hierarchy enrichment; all fields optional.
type ISA95 struct {
	Enterprise string
	Site       string
	Area       string
	Line       string
	Equipment  string
}

// IsEmpty reports whether no ISA-95 field has been filled.
func (h ISA95) IsEmpty() bool {
	return h.Enterprise == "" && h.Site == "" && h.Area == "" && h.Line == "" && h.Equipment == ""
}

// Record is the unified ProtocolRecord (spec.md §3).
type Record struct {
	EventTimeNS  int64
	IngestTimeNS int64

	SourceName   string
	Endpoint     string
	ProtocolType ProtocolType
	TopicOrPath  string

	Value     Value
	ValueNum  *float64
	ValueType string

	StatusCode int32
	Status     Status

	Metadata map[string]string

	VendorFormat VendorFormat
	ISA95        ISA95

	ThingID      *string
	SemanticType *string
	UnitURI      *string
}

// Clone returns a deep copy so pipeline stages can transform the
// record without sharing mutable state with the original owner.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Metadata = make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		clone.Metadata[k] = v
	}
	if r.Value.Bytes != nil {
		clone.Value.Bytes = append([]byte(nil), r.Value.Bytes...)
	}
	if r.ValueNum != nil {
		n := *r.ValueNum
		clone.ValueNum = &n
	}
	if r.ThingID != nil {
		v := *r.ThingID
		clone.ThingID = &v
	}
	if r.SemanticType != nil {
		v := *r.SemanticType
		clone.SemanticType = &v
	}
	if r.UnitURI != nil {
		v := *r.UnitURI
		clone.UnitURI = &v
	}
	return &clone
}

// WithMetadata returns a clone with the given key set, leaving the
// receiver untouched (classification/normalization never mutate in
// place).
func (r *Record) WithMetadata(key, value string) *Record {
	clone := r.Clone()
	if clone.Metadata == nil {
		clone.Metadata = make(map[string]string)
	}
	clone.Metadata[key] = value
	return clone
}

// ClampSkew enforces the event-time/ingest-time invariant of spec.md §3:
// event_time_ns <= ingest_time_ns + skewBound. Returns a possibly-clamped
// clone and whether clamping occurred (callers use this to bump a
// metric).
func (r *Record) ClampSkew(skewBound time.Duration) (*Record, bool) {
	if time.Duration(r.EventTimeNS-r.IngestTimeNS) <= skewBound {
		return r, false
	}
	clone := r.Clone()
	clone.EventTimeNS = clone.IngestTimeNS
	return clone, true
}

// Codec serializes/deserializes a Record to the same byte representation
// used on the ingest wire. The queue's disk spool uses a Codec so that
// spooled frames are byte-identical to what would have been sent to
// ingest (spec.md §3, "Records in the on-disk spool are byte-identical
// to what would have been sent to ingest").
type Codec interface {
	Encode(*Record) ([]byte, error)
	Decode([]byte) (*Record, error)
}

// EstimateBytes is a rough wire-size estimate used by the queue's
// byte-budget accounting and the rate limiter's byte dimension. It need
// not be exact; it must be stable for the same logical record.
func (r *Record) EstimateBytes() int {
	n := 64 // fixed fields: timestamps, status, enums
	n += len(r.SourceName) + len(r.Endpoint) + len(r.TopicOrPath) + len(r.ValueType)
	for k, v := range r.Metadata {
		n += len(k) + len(v)
	}
	switch r.Value.Kind {
	case ValueKindString:
		n += len(r.Value.Str)
	case ValueKindBytes:
		n += len(r.Value.Bytes)
	default:
		n += 8
	}
	return n
}
