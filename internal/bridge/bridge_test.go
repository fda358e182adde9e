package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/config"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/credential"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Zerobus = config.ZerobusConfig{
		WorkspaceHost:  "example.cloud.databricks.com",
		IngestEndpoint: "127.0.0.1:0",
		ClientID:       "id",
		ClientSecret:   "secret",
		Catalog:        "main",
		Schema:         "plant",
		Table:          "telemetry",
	}
	cfg.Sources = []config.SourceConfig{
		{Name: "line1", Protocol: "opcua", Endpoint: "opc.tcp://127.0.0.1:4840", PollInterval: time.Second, BackoffMax: 30 * time.Second},
	}
	return cfg
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	clock := clockid.NewFakeClock(time.Unix(0, 0))
	b, err := New(testConfig(), clock, logging.NewNop(), credential.NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNewRegistersConfiguredSources(t *testing.T) {
	b := newTestBridge(t)
	if got := b.Sources(); len(got) != 1 || got[0].Name != "line1" {
		t.Fatalf("unexpected sources: %+v", got)
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := b.Status().State; got != BridgeRunning {
		t.Fatalf("expected running, got %v", got)
	}
	b.Stop()
	b.Stop()
	if got := b.Status().State; got != BridgeStopped {
		t.Fatalf("expected stopped, got %v", got)
	}
}

func TestAddUpdateDeleteSource(t *testing.T) {
	b := newTestBridge(t)

	if err := b.AddSource(config.SourceConfig{Name: "line1", Protocol: "opcua", Endpoint: "x"}); err == nil {
		t.Fatalf("expected duplicate-name error")
	}

	newSC := config.SourceConfig{Name: "line2", Protocol: "mqtt", Endpoint: "tcp://broker:1883", BackoffMax: 10 * time.Second}
	if err := b.AddSource(newSC); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if got := b.Sources(); len(got) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(got))
	}

	newSC.Endpoint = "tcp://broker2:1883"
	if err := b.UpdateSource(newSC); err != nil {
		t.Fatalf("UpdateSource: %v", err)
	}

	if err := b.DeleteSource("line2"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if err := b.DeleteSource("line2"); err == nil {
		t.Fatalf("expected error deleting already-deleted source")
	}
}

func TestSetZerobusConfigValidatesBeforeSwap(t *testing.T) {
	b := newTestBridge(t)
	bad := config.ZerobusConfig{}
	if err := b.SetZerobusConfig(bad); err == nil {
		t.Fatalf("expected validation error")
	}
	good := b.ZerobusConfig()
	good.Table = "retelemetry"
	if err := b.SetZerobusConfig(good); err != nil {
		t.Fatalf("SetZerobusConfig: %v", err)
	}
	if b.ZerobusConfig().Table != "retelemetry" {
		t.Fatalf("zerobus config did not swap")
	}
}

func TestShutdownReleasesResources(t *testing.T) {
	b := newTestBridge(t)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
