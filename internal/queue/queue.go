// Package queue implements the bounded in-memory buffer that sits
// between protocol sources and the ingest stream manager, with an
// optional on-disk spill path for sustained backpressure (spec.md
// §4.4). No teacher/pack repo carries a segmented disk-log dependency,
// so the spool's on-disk format (spool.go) is hand-rolled
// stdlib I/O; see DESIGN.md for why no embedded KV/WAL library from the
// retrieval pack was a better fit.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// DropPolicy controls what happens when the queue is full and spilling
// is disabled (or the spool itself is full).
type DropPolicy string

const (
	DropNewest DropPolicy = "drop_newest"
	DropOldest DropPolicy = "drop_oldest"
)

// Policies configures a Queue's capacity and overflow behavior.
type Policies struct {
	MaxInMemory       int
	HighWatermarkPct  int // spill kicks in once len >= MaxInMemory*HighWatermarkPct/100
	SpillEnabled      bool
	SpillPath         string
	SpillMaxBytes     int64
	SpillSegmentBytes int64
	DropPolicy        DropPolicy
}

// DefaultPolicies matches spec.md §4.4's stated defaults.
func DefaultPolicies() Policies {
	return Policies{
		MaxInMemory:       10000,
		HighWatermarkPct:  80,
		SpillEnabled:      false,
		SpillMaxBytes:     1 << 30, // 1 GiB
		SpillSegmentBytes: 64 << 20,
		DropPolicy:        DropNewest,
	}
}

// OfferResult reports what happened to a record passed to Offer.
type OfferResult string

const (
	Accepted OfferResult = "accepted" // resident in memory
	Spilled  OfferResult = "spilled"  // written to the disk spool
	Rejected OfferResult = "rejected" // dropped per DropPolicy
)

// Queue is a bounded, single-process FIFO of records with an optional
// disk spool for overflow. Offer and Poll are both safe for concurrent
// use; Offer is intended for many source goroutines, Poll for the
// single ingest stream manager consumer.
type Queue struct {
	policies Policies
	codec    record.Codec
	spool    *Spool

	mu       sync.Mutex
	buf      []*record.Record
	notifyCh chan struct{} // closed and replaced every time buf gains a record

	// metrics-friendly counters, read via Stats.
	accepted int64
	spilled  int64
	rejected int64
}

// New builds a Queue. If policies.SpillEnabled, a Spool is opened at
// policies.SpillPath; a locked or corrupt spool directory surfaces as a
// bridgeerr.Error so callers can fail fast per spec.md §7.
func New(policies Policies, codec record.Codec) (*Queue, error) {
	q := &Queue{policies: policies, codec: codec}
	q.notifyCh = make(chan struct{})

	if policies.SpillEnabled {
		spool, err := OpenSpool(policies.SpillPath, policies.SpillSegmentBytes, policies.SpillMaxBytes, codec)
		if err != nil {
			return nil, err
		}
		q.spool = spool
	}
	return q, nil
}

// Close releases the spool's lock file, if one is held.
func (q *Queue) Close() error {
	if q.spool != nil {
		return q.spool.Close()
	}
	return nil
}

// Offer admits rec into the queue, spilling to disk or dropping per
// policy once the high watermark is reached.
func (q *Queue) Offer(rec *record.Record) (OfferResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	watermark := q.policies.MaxInMemory * q.policies.HighWatermarkPct / 100
	if len(q.buf) < watermark || (len(q.buf) < q.policies.MaxInMemory && !q.policies.SpillEnabled) {
		q.buf = append(q.buf, rec)
		q.accepted++
		q.signalLocked()
		return Accepted, nil
	}

	if q.policies.SpillEnabled && q.spool != nil {
		if err := q.spool.Append(rec); err != nil {
			if bridgeerr.Is(err, bridgeerr.SpoolFull) {
				return q.dropLocked(rec)
			}
			return Rejected, err
		}
		q.spilled++
		return Spilled, nil
	}

	return q.dropLocked(rec)
}

func (q *Queue) dropLocked(rec *record.Record) (OfferResult, error) {
	q.rejected++
	switch q.policies.DropPolicy {
	case DropOldest:
		if len(q.buf) > 0 {
			q.buf = q.buf[1:]
			q.buf = append(q.buf, rec)
			q.signalLocked()
			return Accepted, nil
		}
		return Rejected, nil
	default: // DropNewest
		return Rejected, nil
	}
}

// signalLocked wakes every Poll call currently waiting on notifyCh by
// closing it and installing a fresh channel for the next wait. Callers
// must hold q.mu.
func (q *Queue) signalLocked() {
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
}

// Requeue prepends recs to the front of the in-memory buffer, preserving
// their relative order, and wakes any waiting Poll. Used by the ingest
// manager to restore unacked batches after a stream error (spec.md §4.7,
// "all unacked batches are re-queued at the front of the memory queue
// (preserving order)").
func (q *Queue) Requeue(recs []*record.Record) {
	if len(recs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]*record.Record, 0, len(recs)+len(q.buf))
	merged = append(merged, recs...)
	merged = append(merged, q.buf...)
	q.buf = merged
	q.signalLocked()
}

// Poll drains up to maxBatch records (bounded also by maxBytes),
// preferring resident in-memory records and backfilling from the spool
// once memory is drained. While the in-memory buffer is empty it waits
// until a record is offered or requeued, or until timeout elapses;
// spooled records are read only after that wait, so with an empty
// buffer a call returns spooled records only once timeout has passed.
func (q *Queue) Poll(ctx context.Context, maxBatch int, maxBytes int, timeout time.Duration) ([]*record.Record, error) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	for len(q.buf) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			q.mu.Unlock()
			return q.drainSpool(maxBatch, maxBytes)
		}
		if ctx.Err() != nil {
			q.mu.Unlock()
			return nil, ctx.Err()
		}
		ch := q.notifyCh
		q.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return q.drainSpool(maxBatch, maxBytes)
		}

		q.mu.Lock()
	}

	out := make([]*record.Record, 0, maxBatch)
	usedBytes := 0
	n := 0
	for n < len(q.buf) && len(out) < maxBatch {
		rec := q.buf[n]
		sz := rec.EstimateBytes()
		if len(out) > 0 && usedBytes+sz > maxBytes {
			break
		}
		out = append(out, rec)
		usedBytes += sz
		n++
	}
	q.buf = q.buf[n:]
	q.mu.Unlock()

	if len(out) < maxBatch {
		more, err := q.drainSpool(maxBatch-len(out), maxBytes-usedBytes)
		if err == nil {
			out = append(out, more...)
		}
	}
	return out, nil
}

func (q *Queue) drainSpool(maxBatch, maxBytes int) ([]*record.Record, error) {
	if q.spool == nil || maxBatch <= 0 || maxBytes <= 0 {
		return nil, nil
	}
	return q.spool.Drain(maxBatch, maxBytes)
}

// Stats reports point-in-time counters for the status/metrics surface.
type Stats struct {
	InMemoryDepth      int
	SpoolBytes         int64
	SpoolCorruptFrames int64
	Accepted           int64
	Spilled            int64
	Rejected           int64
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{
		InMemoryDepth: len(q.buf),
		Accepted:      q.accepted,
		Spilled:       q.spilled,
		Rejected:      q.rejected,
	}
	if q.spool != nil {
		st.SpoolBytes = q.spool.Size()
		st.SpoolCorruptFrames = q.spool.CorruptFrames()
	}
	return st
}
