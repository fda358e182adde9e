// Package ingest implements the Ingest Stream Manager (spec.md §4.7):
// the component that drains the bounded queue, batches records, and
// drives a gRPC bidirectional stream to the Zerobus ingest endpoint
// with OAuth2 client-credentials auth, ack tracking, and reconnect.
//
// Grounded on coreengine/grpc.EngineServer's RWMutex-guarded swappable
// runtime for the connection lifecycle, and on
// databricks-zerobus-sdk-go's TableProperties/CreateStream/Flush/Close
// naming for what a Zerobus-facing client looks like from the caller's
// side.
package ingest

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/breaker"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/config"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ingestpb"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/observability"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/queue"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ratelimit"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/safety"
)

// State is the manager's position in its connection lifecycle
// (spec.md §4.7): idle -> connecting -> streaming -> (reconnecting ->
// connecting -> streaming)* -> stopping -> idle.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateStopping     State = "stopping"
)

// BackoffConfig controls reconnect pacing.
type BackoffConfig struct {
	Min time.Duration
	Max time.Duration
	Cap time.Duration
}

// DefaultBackoffConfig matches spec.md §4.7's stated defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Min: 500 * time.Millisecond, Max: 30 * time.Second, Cap: 5 * time.Minute}
}

// Manager owns one gRPC stream to the ingest endpoint and batches
// records pulled from q onto it.
type Manager struct {
	zerobus config.ZerobusConfig
	batch   config.BatchConfig
	backoff BackoffConfig
	useTLS  bool

	q       *queue.Queue
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	clock   clockid.Clock
	batchID *clockid.BatchIDGenerator
	log     logging.Logger

	mu          sync.RWMutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	lastError   error
	reconnects  int
	pendingAcks map[uint64]pendingBatch

	// testTokenSource, when set, bypasses the real OAuth2
	// client-credentials flow; only ever set from within this package's
	// tests, which dial a fake ack server with no real token endpoint.
	testTokenSource oauth2.TokenSource
}

type pendingBatch struct {
	batch     *ingestpb.Batch
	submitted time.Time
}

// New builds a Manager. It does not connect until Start is called.
func New(
	zerobus config.ZerobusConfig,
	batchCfg config.BatchConfig,
	backoffCfg BackoffConfig,
	useTLS bool,
	q *queue.Queue,
	limiter *ratelimit.Limiter,
	br *breaker.Breaker,
	clock clockid.Clock,
	log logging.Logger,
) *Manager {
	return &Manager{
		zerobus:     zerobus,
		batch:       batchCfg,
		backoff:     backoffCfg,
		useTLS:      useTLS,
		q:           q,
		limiter:     limiter,
		breaker:     br,
		clock:       clock,
		batchID:     clockid.NewBatchIDGenerator(),
		log:         log,
		state:       StateIdle,
		pendingAcks: make(map[uint64]pendingBatch),
	}
}

// Start begins the connect/batch/stream loop in the background.
// Returns immediately; use Stop to tear it down.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	safety.Go(m.log, "ingest:run_loop", func() {
		defer close(m.done)
		m.runLoop(runCtx)
	})
}

// Stop cancels the run loop and waits for it to exit, re-queuing
// responsibility for any unacked batches to whatever the queue had
// already spooled (the manager itself holds no durable state beyond
// the in-flight pendingAcks map, which spec.md accepts as
// best-effort-lost on an unclean stop; spec.md §4.7, "Unclean shutdown
// may lose in-flight, unacked batches").
func (m *Manager) Stop() {
	m.mu.Lock()
	m.setStateLocked(StateStopping)
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
}

func (m *Manager) runLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.backoff.Min
	bo.MaxInterval = m.backoff.Max
	bo.MaxElapsedTime = 0 // retry indefinitely; the breaker governs admission

	for {
		if ctx.Err() != nil {
			return
		}

		allowed, isProbe := m.breaker.Allow()
		if !allowed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.backoff.Min):
			}
			continue
		}

		m.setState(StateConnecting)
		err := m.connectAndStream(ctx)
		if err == nil {
			// connectAndStream only returns nil on clean ctx cancellation.
			return
		}

		m.setLastError(err)
		m.requeuePending()
		m.breaker.RecordFailure()
		m.log.Warn("ingest stream failed, reconnecting", "error", err, "was_probe", isProbe)
		observability.RecordReconnect("ingest")

		wait := bo.NextBackOff()
		if m.backoff.Cap > 0 && wait > m.backoff.Cap {
			wait = m.backoff.Cap
		}
		m.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// dialOptions builds the gRPC dial options shared by connectAndStream and
// the deep-diagnostics probe, so both dial the ingest endpoint the same
// way (stats handler, per-RPC token, transport credentials).
func (m *Manager) dialOptions(tokenSource oauth2.TokenSource) []grpc.DialOption {
	dialOpts := []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithPerRPCCredentials(perRPCToken{source: tokenSource, requireTLS: m.useTLS}),
	}
	if m.useTLS {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return dialOpts
}

// connectAndStream acquires a token, dials, opens the stream, and runs
// the send/receive loop until an error or clean cancellation.
func (m *Manager) connectAndStream(ctx context.Context) error {
	tokenSource := m.tokenSource(ctx)

	conn, err := grpc.NewClient(m.zerobus.IngestEndpoint, m.dialOptions(tokenSource)...)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.NetworkUnreachable, "dial ingest endpoint", err)
	}
	defer conn.Close()

	client := ingestpb.NewClient(conn)
	stream, err := client.Stream(ctx)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.NetworkUnreachable, "open ingest stream", err)
	}

	m.breaker.RecordSuccess()
	m.setState(StateStreaming)
	m.log.Info("ingest stream established", "endpoint", m.zerobus.IngestEndpoint, "target", m.zerobus.TargetIdentifier())

	errCh := make(chan error, 2)
	safety.Go(m.log, "ingest:recv_acks", func() { m.recvAcks(stream, errCh) })
	safety.Go(m.log, "ingest:send_batches", func() { m.sendBatches(ctx, stream, errCh) })

	select {
	case <-ctx.Done():
		stream.CloseSend()
		return nil
	case err := <-errCh:
		return err
	}
}

func (m *Manager) sendBatches(ctx context.Context, stream ingestpb.IngestService_StreamClient, errCh chan<- error) {
	for {
		if ctx.Err() != nil {
			return
		}

		recs, err := m.q.Poll(ctx, m.batch.MaxRecords, m.batch.MaxBytes, m.batch.MaxAge)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if len(recs) == 0 {
			continue
		}

		totalBytes := 0
		for _, r := range recs {
			totalBytes += r.EstimateBytes()
		}
		if err := m.limiter.Acquire(ctx, len(recs), totalBytes); err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		id := m.batchID.Next()
		batch := &ingestpb.Batch{BatchID: id, Records: recs}

		m.mu.Lock()
		m.pendingAcks[id] = pendingBatch{batch: batch, submitted: m.clock.NowUTC()}
		m.mu.Unlock()

		if err := m.Submit(stream, batch); err != nil {
			errCh <- err
			return
		}
		observability.AddBytesOut(totalBytes)
	}
}

// Submit hands one batch to the open stream (spec.md §4.7, "submit(records[])
// ... returns when the batch has been handed to the stream"). It never
// blocks longer than batch.SubmitMaxWait regardless of how long the
// underlying stream.Send call takes, bounding backpressure from a stalled
// connection; a timed-out send still leaves the batch in pendingAcks, so
// it is re-queued like any other unacked batch once the stream errors out.
func (m *Manager) Submit(stream ingestpb.IngestService_StreamClient, batch *ingestpb.Batch) error {
	wait := m.batch.SubmitMaxWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	errCh := make(chan error, 1)
	go func() { errCh <- stream.Send(batch) }()

	select {
	case err := <-errCh:
		if err != nil {
			return bridgeerr.Wrap(bridgeerr.NetworkUnreachable, "send batch", err)
		}
		return nil
	case <-time.After(wait):
		return bridgeerr.New(bridgeerr.Internal, "submit exceeded submit_max_wait")
	}
}

func (m *Manager) recvAcks(stream ingestpb.IngestService_StreamClient, errCh chan<- error) {
	for {
		ack, err := stream.Recv()
		if err != nil {
			errCh <- bridgeerr.Wrap(bridgeerr.NetworkUnreachable, "recv ack", err)
			return
		}

		m.mu.Lock()
		pending, ok := m.pendingAcks[ack.BatchID]
		delete(m.pendingAcks, ack.BatchID)
		m.mu.Unlock()

		if ack.Status == "accepted" {
			if ok {
				observability.RecordOut(vendorFromBatch(pending.batch), len(pending.batch.Records))
				observability.ObserveIngestLatency(float64(m.clock.NowUTC().Sub(pending.submitted).Milliseconds()))
			}
			observability.RecordBatchSent()
		} else {
			observability.RecordBatchFailed()
			m.log.Warn("batch rejected by ingest", "batch_id", ack.BatchID, "status", ack.Status, "message", ack.Message)
		}
	}
}

func vendorFromBatch(b *ingestpb.Batch) string {
	if len(b.Records) == 0 {
		return "unknown"
	}
	return string(b.Records[0].VendorFormat)
}

func (m *Manager) tokenSource(ctx context.Context) oauth2.TokenSource {
	if m.testTokenSource != nil {
		return m.testTokenSource
	}
	cc := &clientcredentials.Config{
		ClientID:     m.zerobus.ClientID,
		ClientSecret: m.zerobus.ClientSecret,
		TokenURL:     fmt.Sprintf("https://%s/oidc/v1/token", m.zerobus.WorkspaceHost),
	}
	return cc.TokenSource(ctx)
}

// requeuePending drains every unacked batch back onto the front of the
// queue, in original submission order, and clears them from tracking.
// Called when the stream errors out from under sendBatches/recvAcks
// (spec.md §4.7, "all unacked batches are re-queued at the front of the
// memory queue (preserving order)"; §5's reconnect ordering guarantee).
func (m *Manager) requeuePending() {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.pendingAcks))
	for id := range m.pendingAcks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var recs []*record.Record
	for _, id := range ids {
		recs = append(recs, m.pendingAcks[id].batch.Records...)
		delete(m.pendingAcks, id)
	}
	m.mu.Unlock()

	if len(recs) == 0 {
		return
	}
	m.q.Requeue(recs)
	m.log.Warn("requeued unacked batches after stream error", "batches", len(ids), "records", len(recs))
}

// perRPCToken attaches an OAuth2 bearer token to every RPC.
type perRPCToken struct {
	source     oauth2.TokenSource
	requireTLS bool
}

func (c perRPCToken) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.AuthFailed, "acquire oauth2 token", err)
	}
	return map[string]string{"authorization": "Bearer " + tok.AccessToken}, nil
}

func (c perRPCToken) RequireTransportSecurity() bool { return c.requireTLS }

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	if s == StateReconnecting {
		m.reconnects++
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = err
}

// Status is the diagnostics projection of the manager's state.
type Status struct {
	State       State
	Reconnects  int
	PendingAcks int
	LastError   string
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{State: m.state, Reconnects: m.reconnects, PendingAcks: len(m.pendingAcks)}
	if m.lastError != nil {
		st.LastError = m.lastError.Error()
	}
	return st
}

// Diagnostics is the result of a connectivity self-check (spec.md §4.7,
// "diagnostics(deep?) ... connectivity facts (token ok, endpoint
// reachable, schema validated) and -- if deep -- a probe stream create +
// close").
type Diagnostics struct {
	TokenOK           bool   `json:"token_ok"`
	SchemaValidated   bool   `json:"schema_validated"`
	EndpointReachable bool   `json:"endpoint_reachable"`
	ProbeOK           bool   `json:"probe_ok"`
	Deep              bool   `json:"deep"`
	Error             string `json:"error,omitempty"`
}

// Diagnostics reports connectivity facts without disturbing the
// manager's own stream: it always checks token acquisition and schema
// validation, and when deep is true also dials the ingest endpoint and
// opens and immediately closes a probe stream.
func (m *Manager) Diagnostics(ctx context.Context, deep bool) Diagnostics {
	out := Diagnostics{Deep: deep}

	if err := m.zerobus.Validate(); err != nil {
		out.Error = err.Error()
		return out
	}
	out.SchemaValidated = true

	tokenSource := m.tokenSource(ctx)
	if _, err := tokenSource.Token(); err != nil {
		out.Error = fmt.Sprintf("token acquisition failed: %v", err)
		return out
	}
	out.TokenOK = true

	if !deep {
		return out
	}

	conn, err := grpc.NewClient(m.zerobus.IngestEndpoint, m.dialOptions(tokenSource)...)
	if err != nil {
		out.Error = fmt.Sprintf("dial ingest endpoint: %v", err)
		return out
	}
	defer conn.Close()
	out.EndpointReachable = true

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := ingestpb.NewClient(conn)
	stream, err := client.Stream(probeCtx)
	if err != nil {
		out.Error = fmt.Sprintf("open probe stream: %v", err)
		return out
	}
	if err := stream.CloseSend(); err != nil {
		out.Error = fmt.Sprintf("close probe stream: %v", err)
		return out
	}
	out.ProbeOK = true
	return out
}
