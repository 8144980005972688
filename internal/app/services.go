package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/erg0nix/glance/internal/batching"
	"github.com/erg0nix/glance/internal/chunking"
	"github.com/erg0nix/glance/internal/config"
	"github.com/erg0nix/glance/internal/metrics"
	"github.com/erg0nix/glance/internal/pipeline"
	"github.com/erg0nix/glance/internal/provider"
	"github.com/erg0nix/glance/internal/store"
)

// Services is the wired pipeline shared by the daemon and the one-shot CLI commands.
type Services struct {
	Store        *store.Store
	Metrics      *metrics.Collector
	Controller   *chunking.Controller
	Client       *provider.Client
	Orchestrator *pipeline.Orchestrator
}

func NewServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	providerCfg, err := providerConfig(cfg)
	if err != nil {
		return nil, err
	}

	prompt, err := config.LoadPrompt(cfg.PromptFile())
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(cfg.Pipeline.MetricsCapacity)
	controller := chunking.NewController(chunkingConfig(cfg), collector, logger)

	client := provider.NewClient(providerCfg, collector, logger)
	if cfg.Debug.LogRequests || cfg.Debug.LogResponses {
		client.WithRequestLogger(provider.NewRequestLogger(debugLogDir(cfg), cfg.Debug.LogRequests, cfg.Debug.LogResponses, logger))
	}

	orchestrator := pipeline.New(pipelineConfig(cfg, providerCfg, prompt), pipeline.Deps{
		Screenshots: db,
		Events:      db,
		Settings:    db,
		Sink:        db,
		Generator:   client,
		Controller:  controller,
	}, logger)

	return &Services{
		Store:        db,
		Metrics:      collector,
		Controller:   controller,
		Client:       client,
		Orchestrator: orchestrator,
	}, nil
}

func (s *Services) Close() error {
	return s.Store.Close()
}

func providerConfig(cfg config.Config) (provider.Config, error) {
	p := cfg.Provider

	name, err := provider.ParseName(p.Name)
	if err != nil {
		return provider.Config{}, fmt.Errorf("provider config: %w", err)
	}

	baseURL := strings.TrimSpace(p.BaseURL)
	// The default file carries the OpenAI URL; switching only the name should still work.
	if name != provider.NameOpenAI && baseURL == provider.DefaultBaseURL(provider.NameOpenAI) {
		baseURL = ""
	}

	return provider.Config{
		Name:                     name,
		BaseURL:                  baseURL,
		APIKey:                   p.APIKey,
		Model:                    p.Model,
		MaxScreenshotsPerRequest: p.MaxScreenshotsPerRequest,
		ChunkDelay:               millis(p.ChunkDelayMs),
		StreamIdleTimeout:        millis(p.StreamIdleTimeoutMs),
		Timeout:                  millis(p.TimeoutMs),
		MaxAttempts:              p.MaxAttempts,
		RetryBaseDelay:           millis(p.RetryBaseDelayMs),
		Stream:                   p.Stream,
		MaxTokens:                p.MaxTokens,
		Temperature:              p.Temperature,
	}, nil
}

func batchingConfig(cfg config.Config) batching.Config {
	b := cfg.Batching

	return batching.Config{
		Mode:             batching.ParseMode(strings.ToLower(b.Mode)),
		CaptureInterval:  time.Duration(b.CaptureIntervalSeconds * float64(time.Second)),
		TargetDuration:   minutes(b.TargetDurationMinutes),
		MinBatchDuration: minutes(b.MinBatchDurationMinutes),
		MaxEventSpan:     minutes(b.MaxEventSpanMinutes),
		EventLookback:    minutes(b.EventLookbackMinutes),
		EventLimit:       b.EventLimit,
	}
}

func chunkingConfig(cfg config.Config) chunking.Config {
	c := cfg.Chunking

	return chunking.Config{
		Enabled:         c.Adaptive,
		StaticSize:      c.StaticSize,
		InitialSize:     c.InitialSize,
		MinSize:         c.MinSize,
		MaxSize:         c.MaxSize,
		SlowThreshold:   c.SlowThresholdSeconds,
		FastThreshold:   c.FastThresholdSeconds,
		HysteresisCount: c.HysteresisCount,
		CooldownTicks:   c.CooldownTicks,
	}
}

func pipelineConfig(cfg config.Config, providerCfg provider.Config, prompt string) pipeline.Config {
	return pipeline.Config{
		Batching:                 batchingConfig(cfg),
		FetchLimit:               cfg.Pipeline.FetchLimit,
		Lookback:                 time.Duration(cfg.Pipeline.LookbackHours) * time.Hour,
		ChunkDelay:               providerCfg.ChunkDelay,
		MaxScreenshotsPerRequest: providerCfg.MaxScreenshotsPerRequest,
		Stream:                   providerCfg.Stream,
		Prompt:                   prompt,
		ModelLabel:               string(providerCfg.Name) + ":" + providerCfg.Model,
	}
}

func tickInterval(cfg config.Config) time.Duration {
	if cfg.Pipeline.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.Pipeline.IntervalSeconds) * time.Second
}

func debugLogDir(cfg config.Config) string {
	if cfg.Debug.LogDirectory != "" {
		return cfg.Debug.LogDirectory
	}
	return filepath.Join(cfg.DataDir, "debug")
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func minutes(m int) time.Duration {
	return time.Duration(m) * time.Minute
}
