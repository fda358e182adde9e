package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
zerobus:
  workspace_host: "adb-123.cloud.databricks.com"
  ingest_endpoint: "adb-123.cloud.databricks.com:443"
  client_id: "id"
  client_secret: "secret"
  catalog: "main"
  schema: "plant"
  table: "telemetry"
sources:
  - name: line3-opcua
    protocol: opcua
    endpoint: "opc.tcp://10.0.0.5:4840"
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxInMemory != 10000 {
		t.Fatalf("expected default queue size, got %d", cfg.Queue.MaxInMemory)
	}
	if cfg.Zerobus.TargetIdentifier() != "main.plant.telemetry" {
		t.Fatalf("unexpected target identifier: %s", cfg.Zerobus.TargetIdentifier())
	}
}

func TestLoadRejectsMissingZerobusFields(t *testing.T) {
	path := writeTempConfig(t, "zerobus:\n  workspace_host: \"\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing zerobus fields")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	t.Setenv("CLIENT_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Zerobus.ClientSecret != "env-secret" {
		t.Fatalf("expected env override, got %q", cfg.Zerobus.ClientSecret)
	}
}

func TestDuplicateSourceNamesRejected(t *testing.T) {
	body := validYAML + "  - name: line3-opcua\n    protocol: mqtt\n    endpoint: \"tcp://broker:1883\"\n"
	path := writeTempConfig(t, body)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate source name to be rejected")
	}
}
