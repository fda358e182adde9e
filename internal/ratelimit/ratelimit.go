// Package ratelimit implements a two-dimensional token bucket that
// gates how fast the bridge hands records to the ingest stream
// (spec.md §4.5). Unlike the cluster-server's sliding-window counter
// (coreengine/kernel.RateLimiter), which buckets discrete requests into
// minute/hour/day windows, this limiter continuously refills two
// independent buckets — records and bytes — because spec.md requires
// smooth throughput shaping rather than discrete-window quotas.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
)

// Config configures both bucket dimensions. Burst defaults to twice the
// steady-state rate when left at zero.
type Config struct {
	RecordsPerSecond float64
	RecordsBurst     float64
	BytesPerSecond   float64
	BytesBurst       float64
}

// DefaultConfig matches spec.md §4.5's defaults: 500 records/s and
// 5 MiB/s, each with a burst of 2x the steady rate.
func DefaultConfig() Config {
	return Config{
		RecordsPerSecond: 500,
		RecordsBurst:     1000,
		BytesPerSecond:   5 * 1024 * 1024,
		BytesBurst:       10 * 1024 * 1024,
	}
}

func (c Config) withBurstDefaults() Config {
	if c.RecordsBurst <= 0 {
		c.RecordsBurst = c.RecordsPerSecond * 2
	}
	if c.BytesBurst <= 0 {
		c.BytesBurst = c.BytesPerSecond * 2
	}
	return c
}

// bucket is a single continuously-refilling token bucket.
type bucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

func newBucket(capacity, refillRate float64, now time.Time) *bucket {
	return &bucket{capacity: capacity, refillRate: refillRate, tokens: capacity, lastRefill: now}
}

// refillLocked advances the bucket to now, adding the tokens earned since
// the last refill up to capacity.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// waitLocked returns how long the caller must wait for n tokens to be
// available, assuming no other consumer drains the bucket meanwhile.
func (b *bucket) waitLocked(n float64) time.Duration {
	if b.tokens >= n {
		return 0
	}
	deficit := n - b.tokens
	secs := deficit / b.refillRate
	return time.Duration(secs * float64(time.Second))
}

// Limiter gates record/byte throughput with two independent buckets.
// Acquire blocks (respecting ctx) until both dimensions can admit the
// request, then debits both atomically.
type Limiter struct {
	clock   clockid.Clock
	mu      sync.Mutex
	records *bucket
	bytes   *bucket
}

// New builds a Limiter. clock is injectable so tests can advance time
// deterministically (see clockid.FakeClock).
func New(cfg Config, clock clockid.Clock) *Limiter {
	cfg = cfg.withBurstDefaults()
	now := clock.NowUTC()
	return &Limiter{
		clock:   clock,
		records: newBucket(cfg.RecordsBurst, cfg.RecordsPerSecond, now),
		bytes:   newBucket(cfg.BytesBurst, cfg.BytesPerSecond, now),
	}
}

// Acquire blocks until nRecords and nBytes of budget are both available,
// or ctx is done first. It never admits a partial debit: either both
// dimensions are charged or neither is.
func (l *Limiter) Acquire(ctx context.Context, nRecords, nBytes int) error {
	for {
		wait, ok := l.tryAcquire(float64(nRecords), float64(nBytes))
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Limiter) tryAcquire(nRecords, nBytes float64) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.NowUTC()
	l.records.refillLocked(now)
	l.bytes.refillLocked(now)

	recordsWait := l.records.waitLocked(nRecords)
	bytesWait := l.bytes.waitLocked(nBytes)

	if recordsWait == 0 && bytesWait == 0 {
		l.records.tokens -= nRecords
		l.bytes.tokens -= nBytes
		return 0, true
	}

	wait := recordsWait
	if bytesWait > wait {
		wait = bytesWait
	}
	// Never busy-loop on a zero or negative wait computed from a rate of 0.
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// Snapshot reports current token levels, for diagnostics endpoints.
type Snapshot struct {
	RecordTokens float64
	ByteTokens   float64
}

func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.NowUTC()
	l.records.refillLocked(now)
	l.bytes.refillLocked(now)
	return Snapshot{RecordTokens: l.records.tokens, ByteTokens: l.bytes.tokens}
}
