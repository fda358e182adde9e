// Package sampler implements the diagnostics sampler (spec.md §4.3):
// bounded ring buffers of sample records, captured at four pipeline
// stages, keyed per (protocol, vendor) pair. Writes are O(1); reads
// produce a copy-on-read snapshot so the UI never observes a buffer
// mid-write and never holds a reference into sampler-owned memory.
package sampler

import (
	"sync"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// Stage identifies one of the four pipeline capture points.
type Stage string

const (
	StageRawProtocol          Stage = "raw_protocol"
	StageAfterVendorDetection Stage = "after_vendor_detection"
	StageAfterNormalization   Stage = "after_normalization"
	StageZerobusBatch         Stage = "zerobus_batch"
)

var stages = []Stage{StageRawProtocol, StageAfterVendorDetection, StageAfterNormalization, StageZerobusBatch}

// pairKey identifies a (protocol, vendor) sampling bucket.
type pairKey struct {
	protocol record.ProtocolType
	vendor   record.VendorFormat
}

// ring is a fixed-capacity, single-writer circular buffer of cloned
// records plus a monotonically increasing write counter.
type ring struct {
	mu      sync.Mutex
	buf     []*record.Record
	next    int
	filled  bool
	counter uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*record.Record, capacity)}
}

func (r *ring) push(rec *record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec.Clone()
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
	r.counter++
}

// snapshot returns samples oldest-first, plus the write counter.
func (r *ring) snapshot() ([]*record.Record, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*record.Record
	if !r.filled {
		out = make([]*record.Record, r.next)
		for i := 0; i < r.next; i++ {
			out[i] = r.buf[i].Clone()
		}
	} else {
		n := len(r.buf)
		out = make([]*record.Record, n)
		for i := 0; i < n; i++ {
			out[i] = r.buf[(r.next+i)%n].Clone()
		}
	}
	return out, r.counter
}

// StageSample is one stage's snapshot for a (protocol, vendor) pair.
type StageSample struct {
	Stage   Stage
	Samples []*record.Record
	Count   uint64
}

// PairSnapshot aggregates all four stages for one (protocol, vendor) pair.
type PairSnapshot struct {
	Protocol record.ProtocolType
	Vendor   record.VendorFormat
	Stages   []StageSample
}

// Sampler owns one set of four ring buffers per (protocol, vendor) pair.
type Sampler struct {
	capacity int

	mu      sync.RWMutex
	buckets map[pairKey]map[Stage]*ring
}

// DefaultCapacity matches spec.md §4.3's default N=3.
const DefaultCapacity = 3

// New creates a Sampler with the given per-stage ring capacity. A
// capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Sampler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sampler{
		capacity: capacity,
		buckets:  make(map[pairKey]map[Stage]*ring),
	}
}

// Capture records rec as a sample at stage for rec's (protocol, vendor)
// pair. Safe to call concurrently from different source goroutines as
// long as each (protocol, vendor) pair is only ever written by one
// goroutine at a time per spec.md §4.3 ("single writer per pair").
func (s *Sampler) Capture(stage Stage, rec *record.Record) {
	if rec == nil {
		return
	}
	key := pairKey{protocol: rec.ProtocolType, vendor: rec.VendorFormat}

	s.mu.RLock()
	perStage, ok := s.buckets[key]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		perStage, ok = s.buckets[key]
		if !ok {
			perStage = make(map[Stage]*ring, len(stages))
			for _, st := range stages {
				perStage[st] = newRing(s.capacity)
			}
			s.buckets[key] = perStage
		}
		s.mu.Unlock()
	}

	perStage[stage].push(rec)
}

// Snapshot returns a consistent, copy-on-read view of every (protocol,
// vendor) pair observed so far. Used by GET /api/diagnostics/pipeline.
func (s *Sampler) Snapshot() []PairSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PairSnapshot, 0, len(s.buckets))
	for key, perStage := range s.buckets {
		pair := PairSnapshot{Protocol: key.protocol, Vendor: key.vendor}
		for _, st := range stages {
			samples, count := perStage[st].snapshot()
			pair.Stages = append(pair.Stages, StageSample{Stage: st, Samples: samples, Count: count})
		}
		out = append(out, pair)
	}
	return out
}
