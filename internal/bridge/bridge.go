// Package bridge composes the queue, rate limiter, circuit breaker,
// ingest manager and per-source supervisors under one writer-locked
// coordinator (spec.md §6, "Bridge Orchestrator"). Grounded on
// coreengine/kernel.Kernel's subsystem-composition-under-one-struct
// shape and coreengine/kernel's registry-with-reconciliation pattern
// in services.go, adapted from process/service dispatch to
// source-task lifecycle management.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/breaker"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/config"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/credential"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ingest"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ingestpb"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/isa95"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/observability"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/protocolclient"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/queue"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ratelimit"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/safety"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/sampler"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/supervisor"
)

// BridgeState is the top-level run state.
type BridgeState string

const (
	BridgeStopped BridgeState = "stopped"
	BridgeRunning BridgeState = "running"
)

// sourceEntry bundles a running (or stopped) Source with the config it
// was built from, so updates can diff for connection-material changes.
type sourceEntry struct {
	cfg     config.SourceConfig
	src     *supervisor.Source
	client  protocolclient.Client
	running bool
}

// Bridge is the single writer-locked coordinator for the whole
// pipeline: one queue, one rate limiter, one breaker, one ingest
// manager, N source supervisors.
type Bridge struct {
	mu sync.Mutex

	cfg     *config.Config
	clock   clockid.Clock
	log     logging.Logger
	creds   credential.Store
	sampler *sampler.Sampler

	q       *queue.Queue
	limiter *ratelimit.Limiter
	br      *breaker.Breaker
	ingestM *ingest.Manager

	sources map[string]*sourceEntry
	state   BridgeState

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Bridge from a validated Config. It does not start
// anything until Start is called.
func New(cfg *config.Config, clock clockid.Clock, log logging.Logger, creds credential.Store) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.ConfigInvalid, "invalid configuration", err)
	}

	b := &Bridge{
		cfg:     cfg,
		clock:   clock,
		log:     log,
		creds:   creds,
		sampler: sampler.New(20),
		sources: make(map[string]*sourceEntry),
		state:   BridgeStopped,
	}
	if err := b.rebuildPipelineLocked(); err != nil {
		return nil, err
	}
	for _, sc := range cfg.Sources {
		if err := b.addSourceLocked(sc); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// rebuildPipelineLocked (re)constructs the queue/limiter/breaker/ingest
// manager from the current config. Callers must hold b.mu.
func (b *Bridge) rebuildPipelineLocked() error {
	policies := queue.Policies{
		MaxInMemory:       b.cfg.Queue.MaxInMemory,
		HighWatermarkPct:  b.cfg.Queue.HighWatermarkPct,
		SpillEnabled:      b.cfg.Queue.SpillEnabled,
		SpillPath:         b.cfg.Queue.SpillPath,
		SpillMaxBytes:     b.cfg.Queue.SpillMaxBytes,
		SpillSegmentBytes: b.cfg.Queue.SpillSegmentBytes,
		DropPolicy:        queue.DropPolicy(b.cfg.Queue.DropPolicy),
	}
	q, err := queue.New(policies, ingestpb.Codec{})
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		RecordsPerSecond: b.cfg.RateLimit.RecordsPerSecond,
		RecordsBurst:     b.cfg.RateLimit.RecordsBurst,
		BytesPerSecond:   b.cfg.RateLimit.BytesPerSecond,
		BytesBurst:       b.cfg.RateLimit.BytesBurst,
	}, b.clock)

	br := breaker.New(breaker.Config{
		FailureThreshold: b.cfg.Breaker.FailureThreshold,
		Window:           b.cfg.Breaker.Window,
		CoolDown:         b.cfg.Breaker.CoolDown,
		CoolDownMax:      b.cfg.Breaker.CoolDownMax,
	}, b.clock)

	mgr := ingest.New(b.cfg.Zerobus, b.cfg.Batch, ingest.DefaultBackoffConfig(),
		b.cfg.Zerobus.WorkspaceHost != "", q, limiter, br, b.clock, b.log.With("component", "ingest"))

	b.q = q
	b.limiter = limiter
	b.br = br
	b.ingestM = mgr
	return nil
}

// Start starts the ingest manager and every configured source. Safe to
// call once; subsequent calls are no-ops while already running.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BridgeRunning {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.ctx = runCtx
	b.cancel = cancel

	b.ingestM.Start(runCtx)
	for name, entry := range b.sources {
		b.startSourceLocked(runCtx, name, entry)
	}
	b.state = BridgeRunning
	b.log.Info("bridge started", "sources", len(b.sources))
	return nil
}

// Stop stops every source and the ingest manager. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Bridge) stopLocked() {
	if b.state != BridgeRunning {
		return
	}
	var wg sync.WaitGroup
	for _, entry := range b.sources {
		if !entry.running {
			continue
		}
		entry := entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry.src.Stop()
		}()
		entry.running = false
	}
	wg.Wait()
	if b.cancel != nil {
		b.cancel()
	}
	b.ingestM.Stop()
	b.state = BridgeStopped
	b.log.Info("bridge stopped")
}

func (b *Bridge) startSourceLocked(ctx context.Context, name string, entry *sourceEntry) {
	if entry.running {
		return
	}
	entry.running = true
	safety.Go(b.log, "source:"+name, func() { entry.src.Run(ctx) })
	b.log.Info("source started", "source", name)
}

// StartSource starts one named source; no-op if already running.
func (b *Bridge) StartSource(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.sources[name]
	if !ok {
		return fmt.Errorf("bridge: unknown source %q", name)
	}
	if b.state != BridgeRunning {
		return fmt.Errorf("bridge: bridge is not running")
	}
	b.startSourceLocked(b.ctx, name, entry)
	return nil
}

// StopSource stops one named source; no-op if already stopped.
func (b *Bridge) StopSource(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.sources[name]
	if !ok {
		return fmt.Errorf("bridge: unknown source %q", name)
	}
	if !entry.running {
		return nil
	}
	entry.running = false
	entry.src.Stop()
	return nil
}

// addSourceLocked builds a protocol client and Source for sc and
// registers it, without starting it. Callers must hold b.mu.
func (b *Bridge) addSourceLocked(sc config.SourceConfig) error {
	if _, exists := b.sources[sc.Name]; exists {
		return fmt.Errorf("bridge: source %q already exists", sc.Name)
	}
	if err := sc.Validate(); err != nil {
		return bridgeerr.Wrap(bridgeerr.ConfigInvalid, "invalid source config", err)
	}

	client, err := protocolclient.New(sc.Protocol, protocolclient.Config{
		SourceName: sc.Name,
		Endpoint:   sc.Endpoint,
		Options:    sc.Options,
	}, b.clock)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.ConfigInvalid, "unsupported protocol", err)
	}

	src := supervisor.New(supervisor.Config{
		Name:   sc.Name,
		Client: client,
		Hints: isa95.Hints{
			Enterprise: sc.ISA95.Enterprise,
			Site:       sc.ISA95.Site,
			Area:       sc.ISA95.Area,
			Line:       sc.ISA95.Line,
			Equipment:  sc.ISA95.Equipment,
		},
		SkewBound:  b.cfg.SkewBound,
		BackoffMax: sc.BackoffMax,
		Queue:      b.q,
		Sampler:    b.sampler,
		Log:        b.log.With("source", sc.Name),
	})

	b.sources[sc.Name] = &sourceEntry{cfg: sc, src: src, client: client}
	return nil
}

// AddSource registers and, if the bridge is running, starts a new
// source. Returns an error if a source with the same name exists.
func (b *Bridge) AddSource(sc config.SourceConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.addSourceLocked(sc); err != nil {
		return err
	}
	b.cfg.Sources = append(b.cfg.Sources, sc)
	if b.state == BridgeRunning {
		b.startSourceLocked(b.ctx, sc.Name, b.sources[sc.Name])
	}
	return nil
}

// UpdateSource replaces an existing source's config. The protocol
// client and supervisor task are always rebuilt from scratch, since a
// running task captures its config by value at start; if the source
// was running, the replacement is started immediately so the change
// takes effect without a separate start call.
func (b *Bridge) UpdateSource(sc config.SourceConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.sources[sc.Name]
	if !ok {
		return fmt.Errorf("bridge: unknown source %q", sc.Name)
	}
	if err := sc.Validate(); err != nil {
		return bridgeerr.Wrap(bridgeerr.ConfigInvalid, "invalid source config", err)
	}

	wasRunning := old.running
	if wasRunning {
		old.running = false
		old.src.Stop()
	}
	delete(b.sources, sc.Name)

	if err := b.addSourceLocked(sc); err != nil {
		// best-effort: put the old entry back so the bridge isn't left sourceless
		b.sources[sc.Name] = old
		return err
	}
	b.replaceSourceConfigLocked(sc)

	if wasRunning {
		b.startSourceLocked(b.ctx, sc.Name, b.sources[sc.Name])
	}
	return nil
}

func (b *Bridge) replaceSourceConfigLocked(sc config.SourceConfig) {
	for i := range b.cfg.Sources {
		if b.cfg.Sources[i].Name == sc.Name {
			b.cfg.Sources[i] = sc
			return
		}
	}
	b.cfg.Sources = append(b.cfg.Sources, sc)
}

// DeleteSource stops (if running) and removes a source.
func (b *Bridge) DeleteSource(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.sources[name]
	if !ok {
		return fmt.Errorf("bridge: unknown source %q", name)
	}
	if entry.running {
		entry.src.Stop()
	}
	delete(b.sources, name)
	for i := range b.cfg.Sources {
		if b.cfg.Sources[i].Name == name {
			b.cfg.Sources = append(b.cfg.Sources[:i], b.cfg.Sources[i+1:]...)
			break
		}
	}
	return nil
}

// SetZerobusConfig hot-swaps the Zerobus target. If any connection
// material changed (host, endpoint, credentials, target table), the
// ingest manager is stopped and rebuilt; a purely cosmetic change (e.g.
// table name identical) still rebuilds, since the manager holds no
// other mutable state worth preserving across a swap.
func (b *Bridge) SetZerobusConfig(zc config.ZerobusConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := zc.Validate(); err != nil {
		return bridgeerr.Wrap(bridgeerr.ConfigInvalid, "invalid zerobus config", err)
	}

	wasRunning := b.state == BridgeRunning
	if wasRunning {
		b.ingestM.Stop()
	}
	b.cfg.Zerobus = zc
	b.ingestM = ingest.New(b.cfg.Zerobus, b.cfg.Batch, ingest.DefaultBackoffConfig(),
		b.cfg.Zerobus.WorkspaceHost != "", b.q, b.limiter, b.br, b.clock, b.log.With("component", "ingest"))
	if wasRunning {
		b.ingestM.Start(b.ctx)
	}
	return nil
}

// SourceStatus is the per-source diagnostics projection returned by
// Status.
type SourceStatus struct {
	Name            string
	Protocol        string
	Running         bool
	LastConnectedAt time.Time
	LastError       string
	RecordsIn       int64
	BytesIn         int64
	Reconnects      int
	Connected       bool
}

// Status is the whole-bridge diagnostics snapshot (spec.md §6,
// GET /api/status).
type Status struct {
	State   BridgeState
	Ingest  ingest.Status
	Queue   queue.Stats
	Breaker string
	Sources []SourceStatus
}

// Status returns a point-in-time snapshot across every subsystem.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	queueStats := b.q.Stats()
	observability.SetQueueDepth(queueStats.InMemoryDepth)
	observability.SetSpoolBytes(queueStats.SpoolBytes)
	observability.SetSpoolCorruptFrames(queueStats.SpoolCorruptFrames)

	out := Status{
		State:   b.state,
		Ingest:  b.ingestM.Status(),
		Queue:   queueStats,
		Breaker: string(b.br.State()),
	}
	for name, entry := range b.sources {
		st := entry.src.Status()
		out.Sources = append(out.Sources, SourceStatus{
			Name:            name,
			Protocol:        entry.cfg.Protocol,
			Running:         entry.running,
			LastConnectedAt: st.LastConnectedAt,
			LastError:       st.LastError,
			RecordsIn:       st.RecordsIn,
			BytesIn:         st.BytesIn,
			Reconnects:      st.Reconnects,
			Connected:       st.Connected,
		})
	}
	return out
}

// Diagnostics returns the pipeline sample snapshot for spec.md §6's
// GET /api/diagnostics/pipeline (raw/classified/normalized/batched
// samples per protocol+vendor pair).
func (b *Bridge) Diagnostics() []sampler.PairSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampler.Snapshot()
}

// ZerobusDiagnostics runs the ingest manager's connectivity self-check
// (spec.md §4.7, GET /api/zerobus/diagnostics?deep=) without disturbing
// the manager's own stream.
func (b *Bridge) ZerobusDiagnostics(ctx context.Context, deep bool) ingest.Diagnostics {
	b.mu.Lock()
	mgr := b.ingestM
	b.mu.Unlock()
	return mgr.Diagnostics(ctx, deep)
}

// Sources lists the current source configs.
func (b *Bridge) Sources() []config.SourceConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]config.SourceConfig, len(b.cfg.Sources))
	copy(out, b.cfg.Sources)
	return out
}

// ZerobusConfig returns the current Zerobus target config.
func (b *Bridge) ZerobusConfig() config.ZerobusConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Zerobus
}

// DiscoveredServer is one candidate endpoint surfaced by a discovery
// scan (spec.md §6, POST /api/discovery/scan, GET /api/discovery/servers).
type DiscoveredServer struct {
	Protocol string
	Endpoint string
	Source   string // name of the configured source it came from, if any
}

// Scan returns one discoverable candidate per currently configured
// source — there is no live network broadcast/mDNS probe in this
// simulated edge deployment, so "discovery" surfaces only what is
// already configured; protocol types with no configured source are not
// listed.
func (b *Bridge) Scan() []DiscoveredServer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DiscoveredServer, 0, len(b.cfg.Sources))
	for _, sc := range b.cfg.Sources {
		out = append(out, DiscoveredServer{Protocol: sc.Protocol, Endpoint: sc.Endpoint, Source: sc.Name})
	}
	return out
}

// Servers is an alias for Scan kept for GET /api/discovery/servers,
// which reads the last-known set without re-probing.
func (b *Bridge) Servers() []DiscoveredServer {
	return b.Scan()
}

// TestConnection exercises a named source's TestConnection without
// affecting its running state.
func (b *Bridge) TestConnection(ctx context.Context, name string) error {
	b.mu.Lock()
	entry, ok := b.sources[name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("bridge: unknown source %q", name)
	}
	return entry.client.TestConnection(ctx)
}

// Shutdown stops the bridge and releases held resources (spool file
// handles, credential store). Intended for process exit.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.stopLocked()
	q := b.q
	creds := b.creds
	b.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return q.Close() })
	if creds != nil {
		g.Go(func() error { return creds.Close() })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	observability.SetBreakerState("closed")
	return nil
}
