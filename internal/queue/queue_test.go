package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ingestpb"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

func testRecord(topic string) *record.Record {
	return &record.Record{
		SourceName:   "src",
		ProtocolType: record.ProtocolMQTT,
		TopicOrPath:  topic,
		Value:        record.I64Value(1),
		Status:       record.StatusGood,
		VendorFormat: record.VendorGeneric,
		Metadata:     map[string]string{},
	}
}

func TestOfferAndPollInMemoryFIFO(t *testing.T) {
	q, err := New(Policies{MaxInMemory: 10, HighWatermarkPct: 80, DropPolicy: DropNewest}, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	for i := 0; i < 3; i++ {
		res, err := q.Offer(testRecord("a"))
		if err != nil || res != Accepted {
			t.Fatalf("Offer: res=%v err=%v", res, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := q.Poll(ctx, 10, 1<<20, time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
}

func TestOfferRejectsAboveWatermarkWithoutSpill(t *testing.T) {
	q, err := New(Policies{MaxInMemory: 2, HighWatermarkPct: 100, DropPolicy: DropNewest}, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	q.Offer(testRecord("a"))
	q.Offer(testRecord("b"))
	res, err := q.Offer(testRecord("c"))
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if res != Rejected {
		t.Fatalf("expected Rejected once full, got %v", res)
	}
}

func TestOfferSpillsAboveWatermark(t *testing.T) {
	dir := t.TempDir()
	q, err := New(Policies{
		MaxInMemory:       2,
		HighWatermarkPct:  100,
		SpillEnabled:      true,
		SpillPath:         dir,
		SpillSegmentBytes: 1 << 20,
		SpillMaxBytes:     1 << 20,
		DropPolicy:        DropNewest,
	}, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	q.Offer(testRecord("a"))
	q.Offer(testRecord("b"))
	res, err := q.Offer(testRecord("c"))
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if res != Spilled {
		t.Fatalf("expected Spilled once full, got %v", res)
	}

	stats := q.Stats()
	if stats.SpoolBytes == 0 {
		t.Fatalf("expected non-zero spool bytes, got %+v", stats)
	}
}

func TestSpoolLockedOnSecondOpen(t *testing.T) {
	dir := t.TempDir()
	spool1, err := OpenSpool(dir, 1<<20, 1<<20, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("first OpenSpool: %v", err)
	}
	defer spool1.Close()

	_, err = OpenSpool(dir, 1<<20, 1<<20, ingestpb.Codec{})
	if !bridgeerr.Is(err, bridgeerr.SpoolLocked) {
		t.Fatalf("expected SpoolLocked, got %v", err)
	}
}

func TestSpoolAppendDrainRoundTrip(t *testing.T) {
	dir := t.TempDir()
	spool, err := OpenSpool(dir, 1<<20, 1<<20, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("OpenSpool: %v", err)
	}
	defer spool.Close()

	for i := 0; i < 5; i++ {
		if err := spool.Append(testRecord("topic")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	out, err := spool.Drain(10, 1<<20)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("expected 5 drained records, got %d", len(out))
	}
}

func TestSpoolDiscardsCorruptFrameAndContinues(t *testing.T) {
	dir := t.TempDir()
	spool, err := OpenSpool(dir, 1<<20, 1<<20, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("OpenSpool: %v", err)
	}
	if err := spool.Append(testRecord("good-1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := spool.Append(testRecord("good-2")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	spool.Close()

	// Corrupt a byte inside the first frame's payload region (offset 20,
	// past the 8-byte length+crc header) without touching the header.
	segPath := filepath.Join(dir, "segments", "seg-00000000.log")
	data, err := os.ReadFile(segPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) > 20 {
		data[20] ^= 0xFF
	}
	if err := os.WriteFile(segPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	os.Remove(filepath.Join(dir, "lock"))

	spool2, err := OpenSpool(dir, 1<<20, 1<<20, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("reopen OpenSpool: %v", err)
	}
	defer spool2.Close()

	out, err := spool2.Drain(10, 1<<20)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	// At least the second, uncorrupted frame should still be readable.
	if len(out) == 0 {
		t.Fatalf("expected at least one surviving record after corruption, got none")
	}
	if got := spool2.CorruptFrames(); got != 1 {
		t.Fatalf("expected 1 corrupt frame counted, got %d", got)
	}
}

func TestQueuePollTimesOutWithoutPanic(t *testing.T) {
	q, err := New(Policies{MaxInMemory: 10, HighWatermarkPct: 80, DropPolicy: DropNewest}, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	// Repeated short-timeout polls on an empty queue exercise the
	// timeout path that used to race sync.Cond.Wait against the
	// caller-held mutex; this must neither panic nor hang.
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		out, err := q.Poll(ctx, 10, 1<<20, 10*time.Millisecond)
		cancel()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(out) != 0 {
			t.Fatalf("expected no records from an empty queue, got %d", len(out))
		}
	}
}

func TestQueuePollWakesOnOffer(t *testing.T) {
	q, err := New(Policies{MaxInMemory: 10, HighWatermarkPct: 80, DropPolicy: DropNewest}, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	resultCh := make(chan []*record.Record, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		out, _ := q.Poll(ctx, 10, 1<<20, time.Second)
		resultCh <- out
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Offer(testRecord("woke")); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	select {
	case out := <-resultCh:
		if len(out) != 1 {
			t.Fatalf("expected 1 record, got %d", len(out))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Poll did not wake on Offer")
	}
}

func TestQueueRequeuePreservesOrderAtFront(t *testing.T) {
	q, err := New(Policies{MaxInMemory: 10, HighWatermarkPct: 80, DropPolicy: DropNewest}, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	if _, err := q.Offer(testRecord("existing")); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	q.Requeue([]*record.Record{testRecord("r1"), testRecord("r2")})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := q.Poll(ctx, 10, 1<<20, time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].TopicOrPath != "r1" || out[1].TopicOrPath != "r2" || out[2].TopicOrPath != "existing" {
		t.Fatalf("requeued records not at front in order: %+v", []string{out[0].TopicOrPath, out[1].TopicOrPath, out[2].TopicOrPath})
	}
}
