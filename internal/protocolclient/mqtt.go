package protocolclient

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// MQTTSimulator generates Sparkplug B style telemetry on a topic of the
// form spBv1.0/<group>/<msgType>/<node>/<device>, in place of a real
// MQTT broker connection (out of scope per spec.md Non-goals). Every
// record carries the protocol-native sparkplug.seq/sparkplug.bdseq
// metadata (spec.md §3's data model): seq resets to 0 on a birth and
// increments (mod 256) on every DDATA after it; bdSeq increments once
// per connection session, the way a real edge node's birth/death
// certificate pair would.
type MQTTSimulator struct {
	cfg   Config
	clock clockid.Clock

	mu       sync.Mutex
	state    ConnectionState
	onRecord func(*record.Record)
	stopPush chan struct{}
	tick     atomic.Int64
	seq      atomic.Uint32
	bdSeq    atomic.Uint32
}

// NewMQTTSimulator builds a synthetic Sparkplug B MQTT source.
func NewMQTTSimulator(cfg Config, clock clockid.Clock) *MQTTSimulator {
	return &MQTTSimulator{cfg: cfg, clock: clock, state: StateDisconnected}
}

func (s *MQTTSimulator) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	s.tick.Store(0)
	s.seq.Store(0)
	s.bdSeq.Add(1)
	return nil
}

func (s *MQTTSimulator) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPush != nil {
		close(s.stopPush)
		s.stopPush = nil
	}
	s.state = StateDisconnected
	return nil
}

func (s *MQTTSimulator) TestConnection(ctx context.Context) error {
	return nil
}

// Subscribe starts a background generator that pushes one record at a
// time to onRecord until ctx is cancelled or Disconnect is called.
func (s *MQTTSimulator) Subscribe(ctx context.Context, onRecord func(*record.Record)) error {
	s.mu.Lock()
	s.onRecord = onRecord
	stop := make(chan struct{})
	s.stopPush = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				onRecord(s.nextRecord())
			}
		}
	}()
	return nil
}

// Poll is also available for callers that prefer a pull loop over push
// callbacks; it returns at most one synthetic record per call.
func (s *MQTTSimulator) Poll(ctx context.Context) ([]*record.Record, error) {
	return []*record.Record{s.nextRecord()}, nil
}

func (s *MQTTSimulator) nextRecord() *record.Record {
	n := s.tick.Add(1)
	now := s.clock.NowUnixNano()

	group := s.cfg.Options["group"]
	if group == "" {
		group = "plant1"
	}
	node := s.cfg.Options["node"]
	if node == "" {
		node = "line3"
	}
	device := s.cfg.Options["device"]
	if device == "" {
		device = "boiler-a"
	}

	msgType := "DDATA"
	if n == 1 {
		msgType = "DBIRTH" // first message on a fresh connection is a birth
	}

	topic := fmt.Sprintf("spBv1.0/%s/%s/%s/%s", group, msgType, node, device)
	value := 50 + rand.Float64()*10

	var seq uint32
	if msgType == "DBIRTH" {
		s.seq.Store(0)
	} else {
		seq = s.seq.Add(1) % 256
		s.seq.Store(seq)
	}

	return &record.Record{
		EventTimeNS:  now,
		IngestTimeNS: now,
		SourceName:   s.cfg.SourceName,
		Endpoint:     s.cfg.Endpoint,
		ProtocolType: record.ProtocolMQTT,
		TopicOrPath:  topic,
		Value:        record.F64Value(value),
		ValueType:    "Double",
		Status:       record.StatusGood,
		Metadata: map[string]string{
			"sparkplug.seq":   strconv.FormatUint(uint64(seq), 10),
			"sparkplug.bdseq": strconv.FormatUint(uint64(s.bdSeq.Load()), 10),
		},
	}
}

// Subscribers lists the current set of tracked subscriber identities
// for this topic. Sparkplug/MQTT brokers in the retrieval pack's scope
// expose no subscriber-enumeration API to a publishing client, so this
// always returns an empty slice; spec.md directs exposing an empty list
// with a note rather than fabricating data.
func (s *MQTTSimulator) Subscribers() []string {
	return []string{}
}

func (s *MQTTSimulator) ProtocolType() record.ProtocolType { return record.ProtocolMQTT }

func (s *MQTTSimulator) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
