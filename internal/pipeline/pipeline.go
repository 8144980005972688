// Package pipeline runs the periodic pass that turns unprocessed screenshots into stored
// observations: segment, chunk, submit, aggregate.
package pipeline

import (
	"context"
	"time"

	"github.com/erg0nix/glance/internal/batching"
	"github.com/erg0nix/glance/internal/chunking"
	"github.com/erg0nix/glance/internal/core"
	"github.com/erg0nix/glance/internal/provider"
)

const (
	SettingCaptureInterval  = "capture_interval_seconds"
	SettingBatchingMode     = "batching_mode"
	SettingAdaptiveChunking = "adaptive_chunking"
)

type ScreenshotSource interface {
	FetchUnprocessedScreenshots(ctx context.Context, sinceTs int64, limit int) ([]core.Screenshot, error)
}

type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

type BatchSink interface {
	SaveBatchWithScreenshots(ctx context.Context, startTs, endTs int64, screenshotIDs []int64) (int64, error)
	UpdateBatchStatus(ctx context.Context, batchID int64, status core.BatchStatus, errMsg string) error
	SaveObservation(ctx context.Context, obs core.Observation) (int64, error)
}

type Generator interface {
	GenerateContent(ctx context.Context, req provider.Request) (provider.Response, error)
	GenerateContentStream(ctx context.Context, req provider.Request, onFragment func(string)) (provider.Response, error)
}

// ImageLoader reads the image bytes behind a screenshot.
type ImageLoader func(shot core.Screenshot) (provider.Image, error)

type Config struct {
	Batching                 batching.Config
	FetchLimit               int
	Lookback                 time.Duration
	ChunkDelay               time.Duration
	MaxScreenshotsPerRequest int
	Stream                   bool
	Prompt                   string
	ModelLabel               string
}

func DefaultConfig() Config {
	return Config{
		Batching:                 batching.DefaultConfig(),
		FetchLimit:               500,
		Lookback:                 24 * time.Hour,
		ChunkDelay:               time.Second,
		MaxScreenshotsPerRequest: 15,
	}
}

// Deps are the collaborators an Orchestrator drives. Events and Settings may be nil.
type Deps struct {
	Screenshots ScreenshotSource
	Events      batching.EventSource
	Settings    Settings
	Sink        BatchSink
	Generator   Generator
	Controller  *chunking.Controller
	LoadImage   ImageLoader
}

// Report summarizes one tick.
type Report struct {
	TickID        core.TickID    `json:"tick_id,omitempty"`
	Skipped       bool           `json:"skipped"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Screenshots   int            `json:"screenshots"`
	Pending       int            `json:"pending"`
	Batches       int            `json:"batches"`
	FailedBatches int            `json:"failed_batches"`
	Chunks        int            `json:"chunks"`
	FailedChunks  int            `json:"failed_chunks"`
	Observations  int            `json:"observations"`
	ChunkSize     int            `json:"chunk_size"`
	Strategy      batching.Mode  `json:"strategy,omitempty"`
	Controller    chunking.State `json:"controller"`
}
