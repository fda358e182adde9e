// Package supervisor runs the per-source pipeline task: connect,
// subscribe-or-poll, classify, normalize, sample, enqueue (spec.md
// §4.3). Grounded on coreengine/runtime.PipelineRunner's
// config-validate-then-build-then-run shape and
// coreengine/kernel/lifecycle.go's state-machine discipline, adapted
// from pipeline-stage scheduling to a single reconnecting I/O loop per
// source.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/classify"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/isa95"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/observability"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/protocolclient"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/queue"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/sampler"
)

// Status is the per-source diagnostics projection (spec.md §6,
// "per-source status").
type Status struct {
	Name            string
	LastConnectedAt time.Time
	LastError       string
	RecordsIn       int64
	BytesIn         int64
	Reconnects      int
	Connected       bool
}

// Source is one running protocol-source task.
type Source struct {
	name       string
	client     protocolclient.Client
	hints      isa95.Hints
	registry   isa95.ThingRegistry
	skewBound  time.Duration
	backoffMax time.Duration
	q          *queue.Queue
	sampler    *sampler.Sampler
	log        logging.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Config bundles a Source's fixed dependencies.
type Config struct {
	Name       string
	Client     protocolclient.Client
	Hints      isa95.Hints
	Registry   isa95.ThingRegistry // may be nil: semantic enrichment becomes a no-op
	SkewBound  time.Duration
	BackoffMax time.Duration
	Queue      *queue.Queue
	Sampler    *sampler.Sampler
	Log        logging.Logger
}

// New builds a Source task. Call Run to start it.
func New(cfg Config) *Source {
	return &Source{
		name:       cfg.Name,
		client:     cfg.Client,
		hints:      cfg.Hints,
		registry:   cfg.Registry,
		skewBound:  cfg.SkewBound,
		backoffMax: cfg.BackoffMax,
		q:          cfg.Queue,
		sampler:    cfg.Sampler,
		log:        cfg.Log,
		status:     Status{Name: cfg.Name},
	}
}

// Run drives the source's connect/ingest/reconnect loop until ctx is
// cancelled. It is meant to be run in its own goroutine; Stop cancels
// it from outside.
func (s *Source) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = s.backoffMax
	bo.MaxElapsedTime = 0

	for {
		if runCtx.Err() != nil {
			return
		}

		err := s.connectAndIngest(runCtx)
		if err == nil {
			return // clean cancellation
		}

		s.recordError(err)
		wait := bo.NextBackOff()
		if wait > s.backoffMax {
			wait = s.backoffMax
		}
		s.incrementReconnects()
		observability.RecordReconnect(s.name)
		s.log.Warn("source reconnecting", "source", s.name, "error", err, "wait", wait)

		select {
		case <-runCtx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Stop cancels the running task and waits for it to exit.
func (s *Source) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Source) connectAndIngest(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	defer s.client.Disconnect(context.Background())

	s.mu.Lock()
	s.status.LastConnectedAt = time.Now().UTC()
	s.status.Connected = true
	s.mu.Unlock()

	err := s.client.Subscribe(ctx, s.ingestOne)
	if err == protocolclient.ErrSubscribeUnsupported {
		return s.pollLoop(ctx)
	}
	if err != nil {
		return err
	}

	<-ctx.Done()
	s.mu.Lock()
	s.status.Connected = false
	s.mu.Unlock()
	return nil
}

func (s *Source) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.status.Connected = false
			s.mu.Unlock()
			return nil
		case <-ticker.C:
			recs, err := s.client.Poll(ctx)
			if err != nil {
				return err
			}
			for _, r := range recs {
				s.ingestOne(r)
			}
		}
	}
}

// ingestOne runs one record through classify -> normalize -> sample ->
// enqueue, the fixed pipeline order of spec.md §4.3.
func (s *Source) ingestOne(r *record.Record) {
	s.sampler.Capture(sampler.StageRawProtocol, r)

	r = classify.Classify(r)
	s.sampler.Capture(sampler.StageAfterVendorDetection, r)

	r = isa95.Normalize(r, s.hints, s.registry)
	if clamped, didClamp := r.ClampSkew(s.skewBound); didClamp {
		r = clamped
	}
	s.sampler.Capture(sampler.StageAfterNormalization, r)

	s.mu.Lock()
	s.status.RecordsIn++
	s.status.BytesIn += int64(r.EstimateBytes())
	s.mu.Unlock()

	observability.RecordIn(s.name, string(r.ProtocolType), string(r.VendorFormat))

	result, err := s.q.Offer(r)
	if err != nil {
		s.log.Error("queue offer failed", "source", s.name, "error", err)
		observability.RecordDropped("queue_error")
		return
	}
	switch result {
	case queue.Rejected:
		observability.RecordDropped("queue_full")
	case queue.Spilled:
		observability.RecordDropped("spilled") // still durable, but counted for visibility
	}
}

func (s *Source) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
	s.status.Connected = false
}

func (s *Source) incrementReconnects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Reconnects++
}

// Status returns a snapshot of the source's diagnostics.
func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
