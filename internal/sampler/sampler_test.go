package sampler

import (
	"testing"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

func rec(i int) *record.Record {
	return &record.Record{
		ProtocolType: record.ProtocolMQTT,
		VendorFormat: record.VendorKepware,
		TopicOrPath:  "t",
		Value:        record.I64Value(int64(i)),
	}
}

func TestRingWrapsAtCapacity(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		s.Capture(StageRawProtocol, rec(i))
	}
	snaps := s.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("expected one (protocol, vendor) pair, got %d", len(snaps))
	}
	var raw StageSample
	for _, st := range snaps[0].Stages {
		if st.Stage == StageRawProtocol {
			raw = st
		}
	}
	if len(raw.Samples) != 3 {
		t.Fatalf("expected ring capped at capacity 3, got %d", len(raw.Samples))
	}
	// oldest-first after wrap: values 2,3,4
	if raw.Samples[0].Value.I64 != 2 || raw.Samples[2].Value.I64 != 4 {
		t.Fatalf("unexpected ordering: %v, %v, %v",
			raw.Samples[0].Value.I64, raw.Samples[1].Value.I64, raw.Samples[2].Value.I64)
	}
	if raw.Count != 5 {
		t.Fatalf("counter should be monotonic total writes, got %d", raw.Count)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := New(DefaultCapacity)
	s.Capture(StageRawProtocol, rec(1))
	snaps := s.Snapshot()
	snaps[0].Stages[0].Samples[0].Value = record.I64Value(999)

	again := s.Snapshot()
	if again[0].Stages[0].Samples[0].Value.I64 == 999 {
		t.Fatalf("mutating a snapshot leaked back into sampler storage")
	}
}

func TestSeparateBucketsPerPair(t *testing.T) {
	s := New(DefaultCapacity)
	kepware := rec(1)
	modbus := &record.Record{ProtocolType: record.ProtocolModbus, VendorFormat: record.VendorModbus}

	s.Capture(StageRawProtocol, kepware)
	s.Capture(StageRawProtocol, modbus)

	if len(s.Snapshot()) != 2 {
		t.Fatalf("expected two distinct (protocol, vendor) buckets")
	}
}
