package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// CaptureConfig selects and configures the packet source.
type CaptureConfig struct {
	Source      string `yaml:"source" toml:"source"` // "live", "pcap" or "nats"
	Interface   string `yaml:"interface" toml:"interface"`
	PcapFile    string `yaml:"pcap_file" toml:"pcap_file"`
	SnapshotLen int32  `yaml:"snapshot_len" toml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous" toml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter" toml:"bpf_filter"`

	// RecordDir, when set, keeps a copy of live traffic on disk.
	RecordDir      string `yaml:"record_dir" toml:"record_dir"`
	RecordEncoding string `yaml:"record_encoding" toml:"record_encoding"` // "pcap" or "text"
}

// QueueConfig holds the handoff queue settings.
type QueueConfig struct {
	Capacity     int    `yaml:"capacity" toml:"capacity"`
	Policy       string `yaml:"policy" toml:"policy"` // "drop" or "block"
	PollInterval string `yaml:"poll_interval" toml:"poll_interval"`
	DrainGrace   string `yaml:"drain_grace" toml:"drain_grace"`
}

// FlowConfig holds the flow table settings.
type FlowConfig struct {
	NumShards     uint32 `yaml:"num_shards" toml:"num_shards"`
	MaxFlows      int    `yaml:"max_flows" toml:"max_flows"`
	IdleTimeout   string `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepInterval string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// RegoRuleDef is a signature rule written in rego.
type RegoRuleDef struct {
	ID          string `yaml:"id" toml:"id"`
	Description string `yaml:"description" toml:"description"`
	Severity    string `yaml:"severity" toml:"severity"`
	Module      string `yaml:"module" toml:"module"` // path to a .rego file
	Query       string `yaml:"query" toml:"query"`
}

// SignatureConfig configures the signature matcher.
type SignatureConfig struct {
	DisableBuiltin bool          `yaml:"disable_builtin" toml:"disable_builtin"`
	RulesFile      string        `yaml:"rules_file" toml:"rules_file"`
	RegoRules      []RegoRuleDef `yaml:"rego_rules" toml:"rego_rules"`
}

// AnomalyConfig configures the anomaly scorer.
type AnomalyConfig struct {
	Model        string  `yaml:"model" toml:"model"` // "zscore" or "iforest"
	Threshold    float64 `yaml:"threshold" toml:"threshold"`
	Trees        int     `yaml:"trees" toml:"trees"`
	SampleSize   int     `yaml:"sample_size" toml:"sample_size"`
	Seed         int64   `yaml:"seed" toml:"seed"`
	TrainingFile string  `yaml:"training_file" toml:"training_file"`
	ModelPath    string  `yaml:"model_path" toml:"model_path"`
}

// DetectionConfig holds the detection engine settings.
type DetectionConfig struct {
	// Strict surfaces an untrained anomaly model as an error instead of skipping it.
	Strict    bool            `yaml:"strict" toml:"strict"`
	Signature SignatureConfig `yaml:"signature" toml:"signature"`
	Anomaly   AnomalyConfig   `yaml:"anomaly" toml:"anomaly"`
}

// DispatcherDef enables one alert delivery channel.
type DispatcherDef struct {
	Type    string `yaml:"type" toml:"type"` // "log", "nats", "email", "clickhouse"
	Enabled bool   `yaml:"enabled" toml:"enabled"`
}

// AlertConfig holds the alert dispatch settings.
type AlertConfig struct {
	Dispatchers   []DispatcherDef `yaml:"dispatchers" toml:"dispatchers"`
	Async         bool            `yaml:"async" toml:"async"`
	AsyncCapacity int             `yaml:"async_capacity" toml:"async_capacity"`
	Cooldown      string          `yaml:"cooldown" toml:"cooldown"`
	NATSSubject   string          `yaml:"nats_subject" toml:"nats_subject"`
}

// SnapshotWriterDef defines one flow snapshot writer.
type SnapshotWriterDef struct {
	Type             string `yaml:"type" toml:"type"` // "gob" or "clickhouse"
	Enabled          bool   `yaml:"enabled" toml:"enabled"`
	SnapshotInterval string `yaml:"snapshot_interval" toml:"snapshot_interval"`
	RootPath         string `yaml:"root_path" toml:"root_path"`
}

// SnapshotConfig holds the flow snapshot writers.
type SnapshotConfig struct {
	Writers []SnapshotWriterDef `yaml:"writers" toml:"writers"`
}

// ProbeConfig holds the NATS connection used between probe and sentinel.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url" toml:"nats_url"`
	Subject string `yaml:"subject" toml:"subject"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Database string `yaml:"database" toml:"database"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	From     string `yaml:"from" toml:"from"`
	To       string `yaml:"to" toml:"to"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
}

// HealthConfig holds the gRPC health service settings.
type HealthConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture    CaptureConfig    `yaml:"capture" toml:"capture"`
	Queue      QueueConfig      `yaml:"queue" toml:"queue"`
	Flow       FlowConfig       `yaml:"flow" toml:"flow"`
	Detection  DetectionConfig  `yaml:"detection" toml:"detection"`
	Alert      AlertConfig      `yaml:"alert" toml:"alert"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" toml:"snapshot"`
	Probe      ProbeConfig      `yaml:"probe" toml:"probe"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" toml:"clickhouse"`
	SMTP       SMTPConfig       `yaml:"smtp" toml:"smtp"`
	API        APIConfig        `yaml:"api" toml:"api"`
	Health     HealthConfig     `yaml:"health" toml:"health"`
}

// LoadConfig reads the configuration from a YAML or TOML file and returns a Config struct.
// The format is chosen by the file extension; anything other than .toml is read as YAML.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(filePath), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Capture.Source == "" {
		c.Capture.Source = "live"
	}
	if c.Capture.SnapshotLen <= 0 {
		c.Capture.SnapshotLen = 1600
	}
	if c.Capture.RecordEncoding == "" {
		c.Capture.RecordEncoding = "pcap"
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 4096
	}
	if c.Queue.Policy == "" {
		c.Queue.Policy = "drop"
	}
	if c.Queue.PollInterval == "" {
		c.Queue.PollInterval = "1s"
	}
	if c.Queue.DrainGrace == "" {
		c.Queue.DrainGrace = "2s"
	}
	if c.Flow.NumShards == 0 {
		c.Flow.NumShards = 256
	}
	if c.Flow.IdleTimeout == "" {
		c.Flow.IdleTimeout = "5m"
	}
	if c.Flow.SweepInterval == "" {
		c.Flow.SweepInterval = "30s"
	}
	if c.Detection.Anomaly.Model == "" {
		c.Detection.Anomaly.Model = "zscore"
	}
	if len(c.Alert.Dispatchers) == 0 {
		c.Alert.Dispatchers = []DispatcherDef{{Type: "log", Enabled: true}}
	}
	if c.Alert.AsyncCapacity <= 0 {
		c.Alert.AsyncCapacity = 1024
	}
	if c.Alert.NATSSubject == "" {
		c.Alert.NATSSubject = "sentinel.alerts"
	}
	if c.Probe.NATSURL == "" {
		c.Probe.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Probe.Subject == "" {
		c.Probe.Subject = "sentinel.packets.raw"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.Health.ListenAddr == "" {
		c.Health.ListenAddr = ":50051"
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Capture.Source {
	case "live", "pcap", "nats":
	default:
		return fmt.Errorf("unknown capture source: '%s'", c.Capture.Source)
	}
	switch c.Queue.Policy {
	case "drop", "block":
	default:
		return fmt.Errorf("unknown queue policy: '%s'", c.Queue.Policy)
	}
	switch c.Detection.Anomaly.Model {
	case "zscore", "iforest":
	default:
		return fmt.Errorf("unknown anomaly model: '%s'", c.Detection.Anomaly.Model)
	}

	durations := map[string]string{
		"queue.poll_interval": c.Queue.PollInterval,
		"queue.drain_grace":   c.Queue.DrainGrace,
		"flow.idle_timeout":   c.Flow.IdleTimeout,
		"flow.sweep_interval": c.Flow.SweepInterval,
	}
	if c.Alert.Cooldown != "" {
		durations["alert.cooldown"] = c.Alert.Cooldown
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	return nil
}

// MustDuration parses a duration that Validate has already checked.
func MustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", s, err))
	}
	return d
}
