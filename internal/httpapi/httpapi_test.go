package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridge"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/config"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/credential"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Zerobus = config.ZerobusConfig{
		WorkspaceHost: "example.cloud.databricks.com", IngestEndpoint: "127.0.0.1:0",
		ClientID: "id", ClientSecret: "secret", Catalog: "main", Schema: "plant", Table: "telemetry",
	}
	b, err := bridge.New(cfg, clockid.NewFakeClock(time.Unix(0, 0)), logging.NewNop(), credential.NewMemoryStore())
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	return NewRouter(b, logging.NewNop(), nil)
}

func TestHealthzOK(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSourceCRUDFlow(t *testing.T) {
	r := testRouter(t)

	body := `{"name":"line1","protocol":"opcua","endpoint":"opc.tcp://127.0.0.1:4840"}`
	req := httptest.NewRequest(http.MethodPost, "/api/sources/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sources/", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var sources []config.SourceConfig
	if err := json.NewDecoder(rec.Body).Decode(&sources); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/sources/line1", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestStatusAndMetricsEndpoints(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestZerobusConfigNeverEchoesSecret(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/zerobus/config", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("client secret leaked in response: %s", rec.Body.String())
	}
}
