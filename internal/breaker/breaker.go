// Package breaker implements the three-state circuit breaker guarding
// the ingest stream (spec.md §4.6). It is hand-rolled rather than built
// on sony/gobreaker (used elsewhere in the retrieval pack for HTTP
// client calls) because spec.md's policy — a doubling cool-down capped
// at a ceiling, with exactly one probe per half-open window — does not
// match gobreaker's rolling failure-ratio design; see DESIGN.md.
package breaker

import (
	"sync"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
)

// State is the breaker's current position in its state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls the thresholds from spec.md §4.6.
type Config struct {
	FailureThreshold int           // consecutive failures within Window before tripping
	Window           time.Duration // lookback window for counting failures
	CoolDown         time.Duration // initial open->half_open delay
	CoolDownMax      time.Duration // ceiling on doubling
}

// DefaultConfig matches spec.md §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		CoolDown:         10 * time.Second,
		CoolDownMax:      5 * time.Minute,
	}
}

// Breaker is safe for concurrent use. Exactly one goroutine is ever
// allowed to hold the half-open probe at a time, enforced by probeInFlight.
type Breaker struct {
	cfg   Config
	clock clockid.Clock

	mu              sync.Mutex
	state           State
	failures        []time.Time // failure timestamps within Window, oldest first
	openedAt        time.Time
	currentCoolDown time.Duration
	probeInFlight   bool
}

// New builds a Breaker starting Closed.
func New(cfg Config, clock clockid.Clock) *Breaker {
	return &Breaker{
		cfg:             cfg,
		clock:           clock,
		state:           StateClosed,
		currentCoolDown: cfg.CoolDown,
	}
}

// Allow reports whether a new call may proceed, and if so whether this
// call is the single half-open probe. Callers in Open state that are
// not yet eligible to transition must not send traffic.
func (b *Breaker) Allow() (allowed bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.NowUTC()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if now.Sub(b.openedAt) < b.currentCoolDown {
			return false, false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return true, true
	case StateHalfOpen:
		// Only one probe in flight at a time; concurrent callers are
		// rejected until the probe resolves.
		if !b.probeInFlight {
			b.probeInFlight = true
			return true, true
		}
		return false, false
	}
	return false, false
}

// RecordSuccess reports a successful call. From half_open this closes
// the breaker and resets the cool-down back to its configured base.
// From closed it clears the recorded failures, so only failures with no
// success between them count toward FailureThreshold.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = nil
		b.currentCoolDown = b.cfg.CoolDown
		b.probeInFlight = false
	case StateClosed:
		b.failures = nil
	}
}

// RecordFailure reports a failed call. From half_open this reopens the
// breaker and doubles the cool-down (capped at CoolDownMax). From
// closed, FailureThreshold failures within Window trips the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.NowUTC()

	switch b.state {
	case StateHalfOpen:
		b.tripLocked(now, true)
	case StateClosed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.tripLocked(now, false)
		}
	case StateOpen:
		// A late failure from a call issued before the breaker tripped;
		// no state change, it is already open.
	}
}

func (b *Breaker) tripLocked(now time.Time, doubling bool) {
	b.state = StateOpen
	b.openedAt = now
	b.probeInFlight = false
	b.failures = nil
	if doubling {
		next := b.currentCoolDown * 2
		if next > b.cfg.CoolDownMax {
			next = b.cfg.CoolDownMax
		}
		b.currentCoolDown = next
	} else {
		b.currentCoolDown = b.cfg.CoolDown
	}
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for ; i < len(b.failures); i++ {
		if b.failures[i].After(cutoff) {
			break
		}
	}
	b.failures = b.failures[i:]
}

// State returns the current state, for diagnostics/metrics.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
