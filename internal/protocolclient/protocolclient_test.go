package protocolclient

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

func TestFactoryBuildsEachProtocol(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	for _, p := range []string{"opcua", "mqtt", "modbus"} {
		c, err := New(p, Config{SourceName: "s", Endpoint: "e"}, clock)
		if err != nil {
			t.Fatalf("New(%s): %v", p, err)
		}
		if string(c.ProtocolType()) != p {
			t.Fatalf("ProtocolType mismatch: want %s got %s", p, c.ProtocolType())
		}
	}
	if _, err := New("bogus", Config{}, clock); err == nil {
		t.Fatalf("expected error for unsupported protocol")
	}
}

func TestOPCUASimulatorPollProducesGoodRecords(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	c := NewOPCUASimulator(Config{SourceName: "s", Endpoint: "e", Options: map[string]string{"unit": "A"}}, clock)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	recs, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != record.StatusGood {
		t.Fatalf("unexpected poll result: %+v", recs)
	}
	if err := c.Subscribe(ctx, func(*record.Record) {}); err != ErrSubscribeUnsupported {
		t.Fatalf("expected ErrSubscribeUnsupported, got %v", err)
	}
}

func TestModbusSimulatorSubscribeUnsupported(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	c := NewModbusSimulator(Config{SourceName: "s", Endpoint: "e"}, clock)
	if err := c.Subscribe(context.Background(), func(*record.Record) {}); err != ErrSubscribeUnsupported {
		t.Fatalf("expected ErrSubscribeUnsupported, got %v", err)
	}
}

func TestMQTTSimulatorSubscribersAlwaysEmpty(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	c := NewMQTTSimulator(Config{SourceName: "s", Endpoint: "e"}, clock)
	if subs := c.Subscribers(); len(subs) != 0 {
		t.Fatalf("expected empty subscriber list, got %v", subs)
	}
}

func TestMQTTSimulatorFirstMessageIsBirth(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	c := NewMQTTSimulator(Config{SourceName: "s", Endpoint: "e"}, clock)
	recs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Metadata["sparkplug.seq"] != "0" {
		t.Fatalf("birth message should carry sparkplug.seq=0, got %+v", recs[0].Metadata)
	}
}

func TestMQTTSimulatorSeqIncreasesAcrossDDATA(t *testing.T) {
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	c := NewMQTTSimulator(Config{SourceName: "s", Endpoint: "e"}, clock)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var prevSeq int
	var bdSeq string
	for i := 0; i < 5; i++ {
		recs, err := c.Poll(context.Background())
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
		md := recs[0].Metadata
		if bdSeq == "" {
			bdSeq = md["sparkplug.bdseq"]
		} else if md["sparkplug.bdseq"] != bdSeq {
			t.Fatalf("bdseq should stay fixed for the session, got %q then %q", bdSeq, md["sparkplug.bdseq"])
		}

		if i == 0 {
			// First poll after Connect is the birth message, seq resets to 0.
			if md["sparkplug.seq"] != "0" {
				t.Fatalf("expected birth seq=0, got %+v", md)
			}
			continue
		}

		seq, err := strconv.Atoi(md["sparkplug.seq"])
		if err != nil {
			t.Fatalf("seq metadata not an integer: %+v", md)
		}
		if seq <= prevSeq {
			t.Fatalf("expected seq to strictly increase across DDATA, got %d after %d", seq, prevSeq)
		}
		prevSeq = seq
	}
}
