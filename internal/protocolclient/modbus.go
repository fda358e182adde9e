package protocolclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// ModbusSimulator generates a synthetic holding-register reading on
// every Poll call, in place of a real Modbus TCP/RTU session (out of
// scope per spec.md Non-goals). Modbus has no broker-side push model,
// so Subscribe always returns ErrSubscribeUnsupported and callers must
// drive Poll directly.
type ModbusSimulator struct {
	cfg   Config
	clock clockid.Clock

	mu    sync.Mutex
	state ConnectionState
	tick  atomic.Int64
}

// NewModbusSimulator builds a synthetic Modbus source.
func NewModbusSimulator(cfg Config, clock clockid.Clock) *ModbusSimulator {
	return &ModbusSimulator{cfg: cfg, clock: clock, state: StateDisconnected}
}

func (s *ModbusSimulator) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	return nil
}

func (s *ModbusSimulator) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	return nil
}

func (s *ModbusSimulator) TestConnection(ctx context.Context) error {
	return nil
}

func (s *ModbusSimulator) Subscribe(ctx context.Context, onRecord func(*record.Record)) error {
	return ErrSubscribeUnsupported
}

func (s *ModbusSimulator) Poll(ctx context.Context) ([]*record.Record, error) {
	n := s.tick.Add(1)
	now := s.clock.NowUnixNano()

	register := s.cfg.Options["register"]
	if register == "" {
		register = "40001"
	}

	rec := &record.Record{
		EventTimeNS:  now,
		IngestTimeNS: now,
		SourceName:   s.cfg.SourceName,
		Endpoint:     s.cfg.Endpoint,
		ProtocolType: record.ProtocolModbus,
		TopicOrPath:  fmt.Sprintf("holding:%s", register),
		Value:        record.I64Value(int64(1000 + n%50)),
		ValueType:    "Int16",
		Status:       record.StatusGood,
		Metadata:     map[string]string{},
	}
	return []*record.Record{rec}, nil
}

func (s *ModbusSimulator) ProtocolType() record.ProtocolType { return record.ProtocolModbus }

func (s *ModbusSimulator) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
