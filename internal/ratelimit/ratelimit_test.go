package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
)

func TestAcquireWithinBurstSucceedsImmediately(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	lim := New(Config{RecordsPerSecond: 10, RecordsBurst: 10, BytesPerSecond: 1000, BytesBurst: 1000}, clock)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := lim.Acquire(ctx, 5, 100); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
}

func TestAcquireBlocksUntilRefillOrContextDone(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	lim := New(Config{RecordsPerSecond: 1, RecordsBurst: 1, BytesPerSecond: 1000, BytesBurst: 1000}, clock)

	ctx := context.Background()
	if err := lim.Acquire(ctx, 1, 1); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	// Bucket now empty; a cancelled context must return promptly rather
	// than block for the full refill period.
	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := lim.Acquire(cancelledCtx, 1, 1); err == nil {
		t.Fatalf("expected context-cancellation error")
	}
}

func TestAcquireNeverPartiallyDebits(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	lim := New(Config{RecordsPerSecond: 100, RecordsBurst: 1, BytesPerSecond: 1, BytesBurst: 1}, clock)

	snapshotBefore := lim.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	// Bytes dimension cannot admit 1000 bytes against a 1-byte bucket in
	// time; records dimension alone must not be debited.
	_ = lim.Acquire(ctx, 1, 1000)

	snapshotAfter := lim.Snapshot()
	if snapshotAfter.RecordTokens != snapshotBefore.RecordTokens {
		t.Fatalf("record tokens changed without a full admit: before=%v after=%v", snapshotBefore, snapshotAfter)
	}
}
