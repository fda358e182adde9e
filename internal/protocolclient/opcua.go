package protocolclient

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// OPCUASimulator generates a synthetic analog tag reading on every Poll
// call, in place of a real OPC-UA binary session (out of scope per
// spec.md Non-goals).
type OPCUASimulator struct {
	cfg   Config
	clock clockid.Clock

	mu    sync.Mutex
	state ConnectionState
	tick  atomic.Int64
}

// NewOPCUASimulator builds a synthetic OPC-UA source.
func NewOPCUASimulator(cfg Config, clock clockid.Clock) *OPCUASimulator {
	return &OPCUASimulator{cfg: cfg, clock: clock, state: StateDisconnected}
}

func (s *OPCUASimulator) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	return nil
}

func (s *OPCUASimulator) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	return nil
}

func (s *OPCUASimulator) TestConnection(ctx context.Context) error {
	return nil
}

func (s *OPCUASimulator) Subscribe(ctx context.Context, onRecord func(*record.Record)) error {
	return ErrSubscribeUnsupported
}

func (s *OPCUASimulator) Poll(ctx context.Context) ([]*record.Record, error) {
	n := s.tick.Add(1)
	value := 20 + 5*math.Sin(float64(n)/10.0) // synthetic temperature curve
	now := s.clock.NowUnixNano()

	browsePath := fmt.Sprintf("Boiler.%s.Temperature", s.cfg.Options["unit"])
	rec := &record.Record{
		EventTimeNS:  now,
		IngestTimeNS: now,
		SourceName:   s.cfg.SourceName,
		Endpoint:     s.cfg.Endpoint,
		ProtocolType: record.ProtocolOPCUA,
		TopicOrPath:  fmt.Sprintf("ns=2;s=%s", browsePath),
		Value:        record.F64Value(value),
		ValueType:    "Double",
		Status:       record.StatusGood,
		Metadata:     map[string]string{"opcua.browse_path": browsePath},
	}
	return []*record.Record{rec}, nil
}

func (s *OPCUASimulator) ProtocolType() record.ProtocolType { return record.ProtocolOPCUA }

func (s *OPCUASimulator) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
