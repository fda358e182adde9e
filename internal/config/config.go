// Package config defines the bridge's YAML configuration (spec.md §6,
// "Configuration"), in the plain-struct + Validate() + Default*()
// style of coreengine/config (core_config.go, pipeline.go), with env
// var layering and fsnotify-driven hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ZerobusConfig targets a Databricks Zerobus ingest endpoint.
type ZerobusConfig struct {
	WorkspaceHost  string `yaml:"workspace_host"`
	IngestEndpoint string `yaml:"ingest_endpoint"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	Catalog        string `yaml:"catalog"`
	Schema         string `yaml:"schema"`
	Table          string `yaml:"table"`
	HTTPProxy      string `yaml:"http_proxy"`
	HTTPSProxy     string `yaml:"https_proxy"`
	NoProxy        string `yaml:"no_proxy"`
}

func (z *ZerobusConfig) Validate() error {
	if z.WorkspaceHost == "" {
		return fmt.Errorf("zerobus.workspace_host is required")
	}
	if z.IngestEndpoint == "" {
		return fmt.Errorf("zerobus.ingest_endpoint is required")
	}
	if z.Catalog == "" || z.Schema == "" || z.Table == "" {
		return fmt.Errorf("zerobus.catalog/schema/table are all required")
	}
	return nil
}

// TargetIdentifier returns the catalog.schema.table three-part name.
func (z *ZerobusConfig) TargetIdentifier() string {
	return fmt.Sprintf("%s.%s.%s", z.Catalog, z.Schema, z.Table)
}

// ISA95Hints are per-source manufacturing-hierarchy overrides (spec.md
// §4.2); any field left empty falls through to structural inference.
type ISA95Hints struct {
	Enterprise string `yaml:"enterprise"`
	Site       string `yaml:"site"`
	Area       string `yaml:"area"`
	Line       string `yaml:"line"`
	Equipment  string `yaml:"equipment"`
}

// SourceConfig describes one protocol source.
type SourceConfig struct {
	Name         string            `yaml:"name"`
	Protocol     string            `yaml:"protocol"` // opcua | mqtt | modbus
	Endpoint     string            `yaml:"endpoint"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	ISA95        ISA95Hints        `yaml:"isa95"`
	Options      map[string]string `yaml:"options"`
	BackoffMax   time.Duration     `yaml:"backoff_max"`
}

func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source.name is required")
	}
	switch s.Protocol {
	case "opcua", "mqtt", "modbus":
	default:
		return fmt.Errorf("source '%s': unsupported protocol '%s'", s.Name, s.Protocol)
	}
	if s.Endpoint == "" {
		return fmt.Errorf("source '%s': endpoint is required", s.Name)
	}
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	if s.BackoffMax <= 0 {
		s.BackoffMax = 60 * time.Second
	}
	return nil
}

// QueueConfig mirrors queue.Policies for YAML round-tripping.
type QueueConfig struct {
	MaxInMemory       int    `yaml:"max_in_memory"`
	HighWatermarkPct  int    `yaml:"high_watermark_pct"`
	SpillEnabled      bool   `yaml:"spill_enabled"`
	SpillPath         string `yaml:"spill_path"`
	SpillMaxBytes     int64  `yaml:"spill_max_bytes"`
	SpillSegmentBytes int64  `yaml:"spill_segment_bytes"`
	DropPolicy        string `yaml:"drop_policy"`
}

// RateLimitConfig mirrors ratelimit.Config for YAML round-tripping.
type RateLimitConfig struct {
	RecordsPerSecond float64 `yaml:"records_per_second"`
	RecordsBurst     float64 `yaml:"records_burst"`
	BytesPerSecond   float64 `yaml:"bytes_per_second"`
	BytesBurst       float64 `yaml:"bytes_burst"`
}

// BreakerConfig mirrors breaker.Config for YAML round-tripping.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Window           time.Duration `yaml:"window"`
	CoolDown         time.Duration `yaml:"cool_down"`
	CoolDownMax      time.Duration `yaml:"cool_down_max"`
}

// BatchConfig controls the ingest stream manager's batching.
type BatchConfig struct {
	MaxRecords    int           `yaml:"max_records"`
	MaxBytes      int           `yaml:"max_bytes"`
	MaxAge        time.Duration `yaml:"max_age"`
	SubmitMaxWait time.Duration `yaml:"submit_max_wait"`
}

// HTTPConfig controls the status/control API server.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level bridge configuration.
type Config struct {
	SkewBound time.Duration   `yaml:"skew_bound"`
	Zerobus   ZerobusConfig   `yaml:"zerobus"`
	Sources   []SourceConfig  `yaml:"sources"`
	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Batch     BatchConfig     `yaml:"batch"`
	HTTP      HTTPConfig      `yaml:"http"`
	LogLevel  string          `yaml:"log_level"`
}

// Default returns a Config populated with spec.md's stated defaults.
func Default() *Config {
	return &Config{
		SkewBound: 5 * time.Minute,
		Queue: QueueConfig{
			MaxInMemory:       10000,
			HighWatermarkPct:  80,
			SpillMaxBytes:     1 << 30,
			SpillSegmentBytes: 64 << 20,
			DropPolicy:        "drop_newest",
		},
		RateLimit: RateLimitConfig{
			RecordsPerSecond: 500,
			RecordsBurst:     1000,
			BytesPerSecond:   5 * 1024 * 1024,
			BytesBurst:       10 * 1024 * 1024,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           60 * time.Second,
			CoolDown:         10 * time.Second,
			CoolDownMax:      5 * time.Minute,
		},
		Batch: BatchConfig{
			MaxRecords:    50,
			MaxBytes:      512 * 1024,
			MaxAge:        200 * time.Millisecond,
			SubmitMaxWait: 2 * time.Second,
		},
		HTTP:     HTTPConfig{ListenAddr: ":8080"},
		LogLevel: "INFO",
	}
}

// Load reads and parses a YAML config file, applies env var overrides,
// then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers WORKSPACE_HOST / INGEST_ENDPOINT / CLIENT_ID /
// CLIENT_SECRET / *_PROXY over whatever the YAML file set, matching
// spec.md §6's stated precedence (env wins over file).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WORKSPACE_HOST"); v != "" {
		c.Zerobus.WorkspaceHost = v
	}
	if v := os.Getenv("INGEST_ENDPOINT"); v != "" {
		c.Zerobus.IngestEndpoint = v
	}
	if v := os.Getenv("CLIENT_ID"); v != "" {
		c.Zerobus.ClientID = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		c.Zerobus.ClientSecret = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		c.Zerobus.HTTPProxy = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Zerobus.HTTPSProxy = v
	}
	if v := os.Getenv("NO_PROXY"); v != "" {
		c.Zerobus.NoProxy = v
	}
}

// Validate checks the whole config tree, including every source.
func (c *Config) Validate() error {
	if err := c.Zerobus.Validate(); err != nil {
		return err
	}
	names := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return err
		}
		if names[c.Sources[i].Name] {
			return fmt.Errorf("duplicate source name: %s", c.Sources[i].Name)
		}
		names[c.Sources[i].Name] = true
	}
	if c.Queue.MaxInMemory <= 0 {
		return fmt.Errorf("queue.max_in_memory must be positive")
	}
	switch c.Queue.DropPolicy {
	case "drop_newest", "drop_oldest":
	default:
		return fmt.Errorf("queue.drop_policy must be drop_newest or drop_oldest")
	}
	return nil
}
