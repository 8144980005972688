package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type ProviderConfig struct {
	Name                     string  `toml:"name"`
	BaseURL                  string  `toml:"base_url"`
	APIKey                   string  `toml:"api_key"`
	Model                    string  `toml:"model"`
	MaxScreenshotsPerRequest int     `toml:"max_screenshots_per_request"`
	ChunkDelayMs             int     `toml:"chunk_delay_ms"`
	StreamIdleTimeoutMs      int     `toml:"stream_idle_timeout_ms"`
	TimeoutMs                int     `toml:"timeout_ms"`
	MaxAttempts              int     `toml:"max_attempts"`
	RetryBaseDelayMs         int     `toml:"retry_base_delay_ms"`
	Stream                   bool    `toml:"stream"`
	MaxTokens                int     `toml:"max_tokens"`
	Temperature              float64 `toml:"temperature"`
}

type BatchingConfig struct {
	Mode                    string  `toml:"mode"`
	CaptureIntervalSeconds  float64 `toml:"capture_interval_seconds"`
	TargetDurationMinutes   int     `toml:"target_duration_minutes"`
	MinBatchDurationMinutes int     `toml:"min_batch_duration_minutes"`
	MaxEventSpanMinutes     int     `toml:"max_event_span_minutes"`
	EventLookbackMinutes    int     `toml:"event_lookback_minutes"`
	EventLimit              int     `toml:"event_limit"`
}

type ChunkingConfig struct {
	Adaptive             bool    `toml:"adaptive"`
	StaticSize           int     `toml:"static_size"`
	InitialSize          int     `toml:"initial_size"`
	MinSize              int     `toml:"min_size"`
	MaxSize              int     `toml:"max_size"`
	SlowThresholdSeconds float64 `toml:"slow_threshold_seconds"`
	FastThresholdSeconds float64 `toml:"fast_threshold_seconds"`
	HysteresisCount      int     `toml:"hysteresis_count"`
	CooldownTicks        int     `toml:"cooldown_ticks"`
}

type PipelineConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	FetchLimit      int `toml:"fetch_limit"`
	LookbackHours   int `toml:"lookback_hours"`
	MetricsCapacity int `toml:"metrics_capacity"`
}

type DebugConfig struct {
	LogRequests  bool   `toml:"log_requests"`
	LogResponses bool   `toml:"log_responses"`
	LogDirectory string `toml:"log_directory"`
	LogLevel     string `toml:"log_level"`
}

type Config struct {
	Bind       string         `toml:"bind"`
	DataDir    string         `toml:"data_dir"`
	Database   string         `toml:"database"`
	PromptPath string         `toml:"prompt_path"`
	Provider   ProviderConfig `toml:"provider"`
	Batching   BatchingConfig `toml:"batching"`
	Chunking   ChunkingConfig `toml:"chunking"`
	Pipeline   PipelineConfig `toml:"pipeline"`
	Debug      DebugConfig    `toml:"debug"`
}

func Default() Config {
	defaultDataDir := defaultDataDir()
	return Config{
		Bind:    "127.0.0.1:50061",
		DataDir: defaultDataDir,
		Provider: ProviderConfig{
			Name:                     "openai",
			BaseURL:                  "https://api.openai.com",
			Model:                    "gpt-4o-mini",
			MaxScreenshotsPerRequest: 15,
			ChunkDelayMs:             1000,
			StreamIdleTimeoutMs:      30000,
			TimeoutMs:                120000,
			MaxAttempts:              3,
			RetryBaseDelayMs:         1000,
			Stream:                   false,
			MaxTokens:                4096,
			Temperature:              0.2,
		},
		Batching: BatchingConfig{
			Mode:                    "time",
			CaptureIntervalSeconds:  10,
			TargetDurationMinutes:   15,
			MinBatchDurationMinutes: 5,
			MaxEventSpanMinutes:     15,
			EventLookbackMinutes:    15,
			EventLimit:              5000,
		},
		Chunking: ChunkingConfig{
			Adaptive:             false,
			StaticSize:           15,
			InitialSize:          15,
			MinSize:              3,
			MaxSize:              30,
			SlowThresholdSeconds: 8,
			FastThresholdSeconds: 3,
			HysteresisCount:      3,
			CooldownTicks:        2,
		},
		Pipeline: PipelineConfig{
			IntervalSeconds: 60,
			FetchLimit:      500,
			LookbackHours:   24,
			MetricsCapacity: 100,
		},
		Debug: DebugConfig{
			LogRequests:  false,
			LogResponses: false,
			LogDirectory: filepath.Join(defaultDataDir, "debug"),
			LogLevel:     "info",
		},
	}
}

func LoadOrCreate(path string) (Config, error) {
	config := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return config, err
			}

			configData, err := toml.Marshal(config)
			if err != nil {
				return config, err
			}

			if err := os.WriteFile(path, configData, 0o600); err != nil {
				return config, err
			}

			return config, nil
		}

		return config, err
	}

	configData, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := toml.Unmarshal(configData, &config); err != nil {
		return config, fmt.Errorf("parse %s: %w", path, err)
	}

	config.DataDir = expandPath(config.DataDir)
	config.Database = expandPath(config.Database)
	config.PromptPath = expandPath(config.PromptPath)
	config.Debug.LogDirectory = expandPath(config.Debug.LogDirectory)
	config.Bind = strings.TrimSpace(config.Bind)
	config.Provider.BaseURL = strings.TrimSpace(config.Provider.BaseURL)

	if config.Bind == "" {
		config.Bind = "127.0.0.1:50061"
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Provider.Name) {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("provider.name must be openai or gemini, got %q", c.Provider.Name))
	}
	if strings.TrimSpace(c.Provider.Model) == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	switch strings.ToLower(c.Batching.Mode) {
	case "time", "event":
	default:
		errs = append(errs, fmt.Errorf("batching.mode must be time or event, got %q", c.Batching.Mode))
	}
	if c.Chunking.MinSize > c.Chunking.MaxSize {
		errs = append(errs, fmt.Errorf("chunking.min_size (%d) exceeds chunking.max_size (%d)", c.Chunking.MinSize, c.Chunking.MaxSize))
	}
	if c.Chunking.FastThresholdSeconds > c.Chunking.SlowThresholdSeconds {
		errs = append(errs, errors.New("chunking.fast_threshold_seconds must not exceed chunking.slow_threshold_seconds"))
	}
	for _, field := range []struct {
		name  string
		value int
	}{
		{"batching.target_duration_minutes", c.Batching.TargetDurationMinutes},
		{"batching.min_batch_duration_minutes", c.Batching.MinBatchDurationMinutes},
		{"batching.max_event_span_minutes", c.Batching.MaxEventSpanMinutes},
		{"pipeline.interval_seconds", c.Pipeline.IntervalSeconds},
		{"pipeline.fetch_limit", c.Pipeline.FetchLimit},
	} {
		if field.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", field.name, field.value))
		}
	}

	return errors.Join(errs...)
}

// DatabasePath is the SQLite file, data_dir/glance.db unless database is set.
func (c Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.DataDir, "glance.db")
}

// PromptFile is the observation prompt, data_dir/prompts/observe.md unless prompt_path is set.
func (c Config) PromptFile() string {
	if c.PromptPath != "" {
		return c.PromptPath
	}
	return filepath.Join(c.DataDir, "prompts", "observe.md")
}

func (c Config) PIDPath() string {
	return filepath.Join(c.DataDir, "glanced.pid")
}

// StatusPath is where the daemon publishes its latest tick report and throughput state.
func (c Config) StatusPath() string {
	return filepath.Join(c.DataDir, "status.json")
}

func defaultDataDir() string {
	homeDir, _ := os.UserHomeDir()

	if homeDir == "" {
		return ".glance"
	}

	return filepath.Join(homeDir, ".glance")
}

func DefaultConfigPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()

		if homeDir != "" {
			trimmed := strings.TrimPrefix(path, "~")
			trimmed = strings.TrimPrefix(trimmed, string(os.PathSeparator))

			return filepath.Join(homeDir, trimmed)
		}
	}

	return path
}
