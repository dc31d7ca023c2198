// Package config provides configuration loading and management for membench.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evermem/membench/dispatch"
	"github.com/evermem/membench/report"
)

// Config represents the complete membench configuration.
type Config struct {
	// Model is the registry endpoint name of the subject model under test.
	Model string `yaml:"model"`
	// JudgeModel is the registry endpoint name used to grade judge-based
	// tiers (empty = resolve via the judge capability chain)
	JudgeModel string `yaml:"judge_model"`
	// MaxContextTokens bounds the rendered conversation history per question
	MaxContextTokens int `yaml:"max_context_tokens"`
	// MaxRetries bounds transient-failure retries per question
	MaxRetries int `yaml:"max_retries"`
	// TimeoutSeconds is the run-global deadline in seconds (0 = no deadline)
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Concurrency bounds the dispatch and scoring worker pools
	Concurrency int `yaml:"concurrency"`
	// ContextPolicy is "truncate" or "full"
	ContextPolicy string `yaml:"context_policy"`

	Dataset DatasetConfig `yaml:"dataset"`

	// OutputDir receives response logs, score logs, reports, and run manifests
	OutputDir string `yaml:"output_dir"`
	// RegistryPath points at a model registry JSON file (empty = built-in registry)
	RegistryPath string `yaml:"registry_path"`

	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`

	// LengthBuckets sets the conversation-length boundaries used by
	// report aggregation
	LengthBuckets report.Buckets `yaml:"length_buckets"`

	// LogLevel is debug, info, warn, or error
	LogLevel string `yaml:"log_level"`
}

// DatasetConfig locates the benchmark input files
type DatasetConfig struct {
	// Personas is a glob matching persona JSONL files
	Personas string `yaml:"personas"`
	// Conversations is a glob matching conversation-turn JSONL files
	Conversations string `yaml:"conversations"`
	// Questions is a glob matching question JSONL files
	Questions string `yaml:"questions"`
}

// StorageConfig selects where run state is kept
type StorageConfig struct {
	// Backend is "file" (JSONL logs under output_dir) or "nats" (JetStream KV)
	Backend string `yaml:"backend"`
	// NATSURL is the server URL for the nats backend
	NATSURL string `yaml:"nats_url"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Enabled starts an HTTP listener serving /metrics during runs
	Enabled bool `yaml:"enabled"`
	// Listen is the metrics listen address (default :9090)
	Listen string `yaml:"listen"`
}

// Storage backend names accepted by Validate.
const (
	StorageFile = "file"
	StorageNATS = "nats"
)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model:            "gpt-4o",
		JudgeModel:       "", // Capability chain
		MaxContextTokens: 8192,
		MaxRetries:       3,
		TimeoutSeconds:   600,
		Concurrency:      4,
		ContextPolicy:    string(dispatch.PolicyTruncate),
		Dataset: DatasetConfig{
			Personas:      "data/personas/*.jsonl",
			Conversations: "data/conversations/*.jsonl",
			Questions:     "data/questions/*.jsonl",
		},
		OutputDir:    "runs",
		RegistryPath: "", // Built-in registry
		Storage: StorageConfig{
			Backend: StorageFile,
			NATSURL: "nats://localhost:4222",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		LengthBuckets: report.DefaultBuckets(),
		LogLevel:      "info",
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	// Zero is a real budget: dispatch marks every question a data
	// integrity error when no history fits. Only negatives are invalid.
	if c.MaxContextTokens < 0 {
		return fmt.Errorf("max_context_tokens must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if _, err := dispatch.ParsePolicy(c.ContextPolicy); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case StorageFile, StorageNATS:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == StorageNATS && c.Storage.NATSURL == "" {
		return fmt.Errorf("nats_url is required for the nats backend")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	if err := c.LengthBuckets.Validate(); err != nil {
		return err
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadOverlay decodes a YAML file into a zero-value Config. Merge then
// applies only the fields the file actually sets, unlike LoadFromFile
// which fills unset fields from the defaults.
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Model != "" {
		c.Model = other.Model
	}
	if other.JudgeModel != "" {
		c.JudgeModel = other.JudgeModel
	}
	if other.MaxContextTokens != 0 {
		c.MaxContextTokens = other.MaxContextTokens
	}
	if other.MaxRetries != 0 {
		c.MaxRetries = other.MaxRetries
	}
	if other.TimeoutSeconds != 0 {
		c.TimeoutSeconds = other.TimeoutSeconds
	}
	if other.Concurrency != 0 {
		c.Concurrency = other.Concurrency
	}
	if other.ContextPolicy != "" {
		c.ContextPolicy = other.ContextPolicy
	}

	if other.Dataset.Personas != "" {
		c.Dataset.Personas = other.Dataset.Personas
	}
	if other.Dataset.Conversations != "" {
		c.Dataset.Conversations = other.Dataset.Conversations
	}
	if other.Dataset.Questions != "" {
		c.Dataset.Questions = other.Dataset.Questions
	}

	if other.OutputDir != "" {
		c.OutputDir = other.OutputDir
	}
	if other.RegistryPath != "" {
		c.RegistryPath = other.RegistryPath
	}

	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.NATSURL != "" {
		c.Storage.NATSURL = other.Storage.NATSURL
	}

	if other.Metrics.Enabled {
		c.Metrics.Enabled = true
	}
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}

	if other.LengthBuckets.MediumAt != 0 {
		c.LengthBuckets.MediumAt = other.LengthBuckets.MediumAt
	}
	if other.LengthBuckets.LongAt != 0 {
		c.LengthBuckets.LongAt = other.LengthBuckets.LongAt
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// Timeout returns the run deadline as a duration (0 = no deadline).
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SlogLevel maps the configured log level onto slog's scale.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
