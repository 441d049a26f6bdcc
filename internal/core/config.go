package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire procwarden configuration.
type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	Detection  DetectionConfig  `yaml:"detection"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Mitigation MitigationConfig `yaml:"mitigation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	URL          string `yaml:"url"`
	Embedded     bool   `yaml:"embedded"`
	DataDir      string `yaml:"data_dir"`
	Port         int    `yaml:"port"`
	FetchBatch   int    `yaml:"fetch_batch"`
	FetchWaitSec int    `yaml:"fetch_wait_seconds"`
}

// DetectionConfig holds the tunables of the detection engine proper: fusion
// thresholds, sweep cadence, buffer sizing, and the rule data consumed by the
// heuristic indicator engine.
type DetectionConfig struct {
	DetectionThreshold     float64  `yaml:"detection_threshold"`
	HardHeuristicCeiling   int      `yaml:"hard_heuristic_ceiling"`
	MLSoftFloor            float64  `yaml:"ml_soft_floor"`
	HeuristicSoftFloor     int      `yaml:"heuristic_soft_floor"`
	SweepIntervalSec       int      `yaml:"sweep_interval_seconds"`
	MaintenanceIntervalSec int      `yaml:"maintenance_interval_seconds"`
	MinEvidence            int      `yaml:"min_evidence"`
	BufferCap              int      `yaml:"buffer_cap"`
	TrimKeep               int      `yaml:"trim_keep"`
	StaleAfterSec          int      `yaml:"stale_after_seconds"`
	EvictGraceSec          int      `yaml:"evict_grace_seconds"`
	Whitelist              []string `yaml:"whitelist"`
	CriticalProcesses      []string `yaml:"critical_processes"`
	AIKeywords             []string `yaml:"ai_keywords"`
	SuspiciousExtensions   []string `yaml:"suspicious_extensions"`
	SuspiciousDirs         []string `yaml:"suspicious_dirs"`
}

// ClassifierConfig selects and configures the classification backend.
// Mode "http" talks to a scoring service hosting the trained pipeline;
// mode "static" returns a fixed label/confidence pair (dry runs, tests).
type ClassifierConfig struct {
	Mode             string  `yaml:"mode"`
	URL              string  `yaml:"url"`
	TimeoutSec       int     `yaml:"timeout_seconds"`
	StaticLabel      string  `yaml:"static_label"`
	StaticConfidence float64 `yaml:"static_confidence"`
}

// MitigationConfig holds response settings.
type MitigationConfig struct {
	QuarantineEnabled   bool   `yaml:"quarantine_enabled"`
	SaveEvidence        bool   `yaml:"save_evidence"`
	EvidenceDir         string `yaml:"evidence_dir"`
	ArchiveEnabled      bool   `yaml:"archive_enabled"`
	ArchiveDir          string `yaml:"archive_dir"`
	WebhookURL          string `yaml:"webhook_url"`
	WebhookTimeoutSec   int    `yaml:"webhook_timeout_seconds"`
	TerminateTimeoutSec int    `yaml:"terminate_timeout_seconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults — zero-config works out
// of the box with an embedded bus and a static classifier.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			URL:          "nats://127.0.0.1:4222",
			Embedded:     true,
			DataDir:      "./data/nats",
			Port:         4222,
			FetchBatch:   64,
			FetchWaitSec: 2,
		},
		Detection: DetectionConfig{
			DetectionThreshold:     0.5,
			HardHeuristicCeiling:   70,
			MLSoftFloor:            0.4,
			HeuristicSoftFloor:     50,
			SweepIntervalSec:       10,
			MaintenanceIntervalSec: 60,
			MinEvidence:            5,
			BufferCap:              200,
			TrimKeep:               20,
			StaleAfterSec:          600,
			EvictGraceSec:          30,
			Whitelist: []string{
				"svchost.exe", "System", "smss.exe", "csrss.exe",
				"wininit.exe", "services.exe",
			},
			CriticalProcesses: []string{
				"lsass.exe", "winlogon.exe", "csrss.exe",
			},
			AIKeywords: []string{
				"openai", "anthropic", "api.telegram", "generativelanguage",
				"huggingface", "replicate.com", "together.ai",
			},
			SuspiciousExtensions: []string{
				".exe", ".dll", ".scr", ".bat", ".ps1", ".vbs",
			},
			SuspiciousDirs: []string{
				`\temp\`, `\tmp\`, `\appdata\local\temp\`, `\users\public\`,
				`\programdata\`, `\windows\tasks\`,
			},
		},
		Classifier: ClassifierConfig{
			Mode:             "static",
			URL:              "http://127.0.0.1:8391/classify",
			TimeoutSec:       5,
			StaticLabel:      "Benign",
			StaticConfidence: 0.0,
		},
		Mitigation: MitigationConfig{
			QuarantineEnabled:   true,
			SaveEvidence:        true,
			EvidenceDir:         "./evidence",
			ArchiveEnabled:      true,
			ArchiveDir:          "./evidence/archive",
			WebhookTimeoutSec:   5,
			TerminateTimeoutSec: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
// A missing file is not an error; a malformed one is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	// Webhook endpoints often carry tokens; allow supplying via environment
	// instead of the config file.
	if cfg.Mitigation.WebhookURL == "" {
		if envURL := os.Getenv("PROCWARDEN_WEBHOOK_URL"); envURL != "" {
			cfg.Mitigation.WebhookURL = envURL
		}
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// LogLevel returns the configured log level, defaulting to "info".
func (c *Config) LogLevel() string {
	if c.Logging.Level == "" {
		return "info"
	}
	return c.Logging.Level
}

// SweepInterval returns the sweep cadence as a duration.
func (c *DetectionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// MaintenanceInterval returns the maintenance cadence as a duration.
func (c *DetectionConfig) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalSec) * time.Second
}

// StaleAfter returns the staleness window as a duration.
func (c *DetectionConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSec) * time.Second
}

// EvictGrace returns the post-mitigation eviction grace period.
func (c *DetectionConfig) EvictGrace() time.Duration {
	return time.Duration(c.EvictGraceSec) * time.Second
}

// Timeout returns the per-prediction call timeout.
func (c *ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// WebhookTimeout returns the alert delivery timeout.
func (c *MitigationConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSec) * time.Second
}

// TerminateTimeout returns the graceful-exit wait before forced kill.
func (c *MitigationConfig) TerminateTimeout() time.Duration {
	return time.Duration(c.TerminateTimeoutSec) * time.Second
}
