package ingest

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/breaker"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/config"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ingestpb"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/queue"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ratelimit"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	q, err := queue.New(queue.DefaultPolicies(), ingestpb.Codec{})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	limiter := ratelimit.New(ratelimit.DefaultConfig(), clock)
	br := breaker.New(breaker.DefaultConfig(), clock)

	zerobus := config.ZerobusConfig{
		WorkspaceHost:  "example.cloud.databricks.com",
		IngestEndpoint: "127.0.0.1:0",
		ClientID:       "id",
		ClientSecret:   "secret",
		Catalog:        "main",
		Schema:         "plant",
		Table:          "telemetry",
	}

	return New(zerobus, config.BatchConfig{MaxRecords: 50, MaxBytes: 512 * 1024, MaxAge: 200 * time.Millisecond},
		DefaultBackoffConfig(), false, q, limiter, br, clock, logging.NewNop())
}

func TestNewManagerStartsIdle(t *testing.T) {
	m := newTestManager(t)
	if got := m.Status(); got.State != StateIdle {
		t.Fatalf("expected idle state, got %v", got.State)
	}
}

func TestStopBeforeStartIsSafe(t *testing.T) {
	m := newTestManager(t)
	m.Stop()
	if got := m.Status(); got.State != StateIdle {
		t.Fatalf("expected idle state after no-op stop, got %v", got.State)
	}
}

func testIngestRecord(topic string) *record.Record {
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

// fakeAckServer implements ingestpb.IngestServiceServer. Its first
// connection attempt acks exactly one batch and then fails the stream,
// simulating an outage; every later attempt acks everything it receives
// until the client closes the stream, simulating recovery.
type fakeAckServer struct {
	attempt int32

	mu    sync.Mutex
	acked []uint64
}

func (s *fakeAckServer) Stream(stream ingestpb.IngestService_StreamServer) error {
	n := atomic.AddInt32(&s.attempt, 1)
	if n == 1 {
		batch, err := stream.Recv()
		if err != nil {
			return err
		}
		s.recordAck(batch.BatchID)
		if err := stream.Send(&ingestpb.Ack{BatchID: batch.BatchID, Status: "accepted"}); err != nil {
			return err
		}
		return status.Error(codes.Unavailable, "simulated outage")
	}

	for {
		batch, err := stream.Recv()
		if err != nil {
			return nil
		}
		s.recordAck(batch.BatchID)
		if err := stream.Send(&ingestpb.Ack{BatchID: batch.BatchID, Status: "accepted"}); err != nil {
			return err
		}
	}
}

func (s *fakeAckServer) recordAck(id uint64) {
	s.mu.Lock()
	s.acked = append(s.acked, id)
	s.mu.Unlock()
}

func (s *fakeAckServer) ackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acked)
}

// TestManagerRequeuesAndRecoversAfterStreamError drives a real gRPC
// stream against fakeAckServer's outage-then-recovery behavior and
// asserts every submitted record is eventually acked despite the
// mid-stream failure (spec.md §4.7's re-queue-at-front guarantee;
// testable scenario 4).
func TestManagerRequeuesAndRecoversAfterStreamError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()

	fake := &fakeAckServer{}
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ingestpb.ServiceDesc, fake)
	go grpcServer.Serve(lis)
	defer grpcServer.Stop()

	clock := clockid.NewFakeClock(time.Unix(0, 0))
	q, err := queue.New(queue.DefaultPolicies(), ingestpb.Codec{})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	defer q.Close()
	limiter := ratelimit.New(ratelimit.DefaultConfig(), clock)
	br := breaker.New(breaker.DefaultConfig(), clock)

	zerobus := config.ZerobusConfig{
		WorkspaceHost:  "example.cloud.databricks.com",
		IngestEndpoint: lis.Addr().String(),
		ClientID:       "id",
		ClientSecret:   "secret",
		Catalog:        "main",
		Schema:         "plant",
		Table:          "telemetry",
	}
	batchCfg := config.BatchConfig{MaxRecords: 1, MaxBytes: 1 << 20, MaxAge: 10 * time.Millisecond, SubmitMaxWait: time.Second}
	backoffCfg := BackoffConfig{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Cap: 50 * time.Millisecond}

	m := New(zerobus, batchCfg, backoffCfg, false, q, limiter, br, clock, logging.NewNop())
	m.testTokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test"})

	for _, topic := range []string{"r1", "r2", "r3"} {
		if _, err := q.Offer(testIngestRecord(topic)); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	deadline := time.After(3 * time.Second)
	for fake.ackedCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all batches to be acked, got %d", fake.ackedCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if attempt := atomic.LoadInt32(&fake.attempt); attempt < 2 {
		t.Fatalf("expected at least 2 connection attempts (outage + recovery), got %d", attempt)
	}
}
