package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/ingestpb"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/isa95"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/protocolclient"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/queue"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/sampler"
)

// fakeClient is a minimal protocolclient.Client used to drive the
// supervisor's loop deterministically without a real protocol adapter.
type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	connects     int
	subscribeErr error
	onRecord     func(*record.Record)
	state        protocolclient.ConnectionState
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = protocolclient.StateConnected
	return nil
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = protocolclient.StateDisconnected
	return nil
}

func (f *fakeClient) TestConnection(ctx context.Context) error { return nil }

func (f *fakeClient) Subscribe(ctx context.Context, onRecord func(*record.Record)) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.mu.Lock()
	f.onRecord = onRecord
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Poll(ctx context.Context) ([]*record.Record, error) { return nil, nil }

func (f *fakeClient) ProtocolType() record.ProtocolType { return record.ProtocolMQTT }

func (f *fakeClient) State() protocolclient.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) push(r *record.Record) {
	f.mu.Lock()
	cb := f.onRecord
	f.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

func newTestSource(t *testing.T, client *fakeClient) *Source {
	t.Helper()
	q, err := queue.New(queue.Policies{MaxInMemory: 16, HighWatermarkPct: 80, DropPolicy: queue.DropNewest}, ingestpb.Codec{})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	return New(Config{
		Name:       "test-source",
		Client:     client,
		Hints:      isa95.Hints{Enterprise: "acme"},
		SkewBound:  time.Hour,
		BackoffMax: 50 * time.Millisecond,
		Queue:      q,
		Sampler:    sampler.New(4),
		Log:        logging.NewNop(),
	})
}

func testRecord() *record.Record {
	return &record.Record{
		SourceName:   "test-source",
		ProtocolType: record.ProtocolMQTT,
		TopicOrPath:  "line1/temp",
		Value:        record.I64Value(42),
		Status:       record.StatusGood,
		VendorFormat: record.VendorGeneric,
		Metadata:     map[string]string{},
	}
}

func TestRunConnectsAndIngestsPushedRecords(t *testing.T) {
	client := &fakeClient{}
	src := newTestSource(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	go src.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for src.Status().Connected == false && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !src.Status().Connected {
		t.Fatal("expected source to report connected")
	}

	client.push(testRecord())

	deadline = time.Now().Add(time.Second)
	for src.Status().RecordsIn == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	status := src.Status()
	if status.RecordsIn != 1 {
		t.Fatalf("RecordsIn = %d, want 1", status.RecordsIn)
	}
	if status.BytesIn == 0 {
		t.Fatal("expected BytesIn to be recorded")
	}

	cancel()
	src.Stop()
}

func TestRunRetriesOnConnectError(t *testing.T) {
	client := &fakeClient{connectErr: bridgeerr.New(bridgeerr.NetworkUnreachable, "refused")}
	src := newTestSource(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	go src.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for src.Status().Reconnects == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	src.Stop()

	status := src.Status()
	if status.Reconnects == 0 {
		t.Fatal("expected at least one reconnect attempt recorded")
	}
	if status.LastError == "" {
		t.Fatal("expected LastError to be set")
	}
	if status.Connected {
		t.Fatal("expected Connected to be false after a connect failure")
	}
}

func TestStopIsIdempotentBeforeRun(t *testing.T) {
	client := &fakeClient{}
	src := newTestSource(t, client)
	src.Stop() // must not block or panic when Run was never called
}
