// Package clockid provides the clock and identity primitives shared by
// every other package: monotonic-wall time reads and short identifiers.
// Nothing in this package depends on anything else in the module.
package clockid

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so tests can inject a deterministic source.
// Production code uses SystemClock; tests use a FakeClock.
type Clock interface {
	NowUTC() time.Time
	NowUnixNano() int64
}

// SystemClock reads the real wall clock. time.Now() already carries a
// monotonic reading alongside the wall clock on every platform Go
// supports, so there is no separate monotonic API to wrap here.
type SystemClock struct{}

func (SystemClock) NowUTC() time.Time  { return time.Now().UTC() }
func (SystemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// FakeClock is a manually-advanced clock for deterministic tests.
type FakeClock struct {
	nanos atomic.Int64
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	c := &FakeClock{}
	c.nanos.Store(start.UnixNano())
	return c
}

func (c *FakeClock) NowUTC() time.Time  { return time.Unix(0, c.nanos.Load()).UTC() }
func (c *FakeClock) NowUnixNano() int64 { return c.nanos.Load() }

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

// BatchIDGenerator hands out monotonically increasing batch identifiers,
// unique per generator, starting at 1. Batch ids are used to correlate
// ingest acks (spec.md §4.7).
type BatchIDGenerator struct {
	counter atomic.Uint64
}

func NewBatchIDGenerator() *BatchIDGenerator {
	return &BatchIDGenerator{}
}

func (g *BatchIDGenerator) Next() uint64 {
	return g.counter.Add(1)
}

// NewSourceInstanceID returns a fresh UUID used to disambiguate a
// source's lifecycle instance across restarts (e.g. in sampler snapshot
// ids and log correlation).
func NewSourceInstanceID() string {
	return uuid.NewString()
}

// ShortProcessID returns a short, human-readable identifier for this
// process, combining hostname and pid, used in status payloads and log
// lines so operators can tell instances apart.
func ShortProcessID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
