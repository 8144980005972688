// Package batching segments a time-ordered stream of screenshots into closed activity batches.
package batching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/erg0nix/glance/internal/core"
)

type Mode string

const (
	ModeTime  Mode = "time"
	ModeEvent Mode = "event"
)

// ParseMode maps a setting value to a Mode, defaulting to time-based batching.
func ParseMode(value string) Mode {
	if Mode(value) == ModeEvent {
		return ModeEvent
	}
	return ModeTime
}

const minMaxGapSeconds = 120

// MaxGap returns the largest gap in seconds between consecutive screenshots of one batch.
// It grows with the capture interval so a slow capture rate does not split every screenshot
// into its own batch.
func MaxGap(captureIntervalSeconds float64) int64 {
	scaled := int64(math.Ceil(captureIntervalSeconds * 3))
	return max(minMaxGapSeconds, scaled)
}

type Config struct {
	Mode             Mode
	CaptureInterval  time.Duration
	TargetDuration   time.Duration
	MinBatchDuration time.Duration
	MaxEventSpan     time.Duration
	EventLookback    time.Duration
	EventLimit       int
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModeTime,
		CaptureInterval:  10 * time.Second,
		TargetDuration:   15 * time.Minute,
		MinBatchDuration: 5 * time.Minute,
		MaxEventSpan:     15 * time.Minute,
		EventLookback:    15 * time.Minute,
		EventLimit:       5000,
	}
}

// normalizeConfig replaces non-positive durations and limits with their defaults.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = defaults.TargetDuration
	}
	if cfg.MinBatchDuration <= 0 {
		cfg.MinBatchDuration = defaults.MinBatchDuration
	}
	if cfg.MaxEventSpan <= 0 {
		cfg.MaxEventSpan = defaults.MaxEventSpan
	}
	if cfg.EventLookback < 0 {
		cfg.EventLookback = 0
	}
	if cfg.EventLimit <= 0 {
		cfg.EventLimit = defaults.EventLimit
	}

	return cfg
}

type EventSource interface {
	WindowSwitchEvents(ctx context.Context, startTs, endTs int64, limit int) ([]core.WindowEvent, error)
}

// Result holds the closed batches of one segmentation pass. Pending is the trailing bucket that
// was left open because the session may still be in progress.
type Result struct {
	Batches  []core.Batch
	Pending  []core.Screenshot
	Strategy Mode
}

type Engine struct {
	cfg    Config
	events EventSource
	now    func() time.Time
	logger *slog.Logger
}

func NewEngine(cfg Config, events EventSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    normalizeConfig(cfg),
		events: events,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the wall clock used for the trailing-bucket flush rule.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Segment(ctx context.Context, screenshots []core.Screenshot) (Result, error) {
	if len(screenshots) == 0 {
		return Result{Strategy: e.cfg.Mode}, nil
	}

	sorted := core.SortScreenshots(screenshots)
	opts := e.options()

	if e.cfg.Mode != ModeEvent || e.events == nil {
		return segmentByTime(sorted, opts), nil
	}

	startTs := sorted[0].CapturedAt - int64(e.cfg.EventLookback.Seconds())
	endTs := sorted[len(sorted)-1].CapturedAt

	events, err := e.events.WindowSwitchEvents(ctx, startTs, endTs, e.cfg.EventLimit)
	if err != nil {
		return Result{}, fmt.Errorf("load window switch events: %w", err)
	}

	if len(events) == 0 {
		e.logger.Debug("no window switch events, falling back to time-based batching",
			"start_ts", startTs, "end_ts", endTs)
		return segmentByTime(sorted, opts), nil
	}

	return segmentByEvents(sorted, buildTimeline(events), opts), nil
}

type options struct {
	maxGap       int64
	targetSpan   int64
	minSpan      int64
	maxEventSpan int64
	nowTs        int64
}

func (e *Engine) options() options {
	return options{
		maxGap:       MaxGap(e.cfg.CaptureInterval.Seconds()),
		targetSpan:   int64(e.cfg.TargetDuration.Seconds()),
		minSpan:      int64(e.cfg.MinBatchDuration.Seconds()),
		maxEventSpan: int64(e.cfg.MaxEventSpan.Seconds()),
		nowTs:        e.now().Unix(),
	}
}

// shouldFlushTrailing keeps an in-progress session open until it is long enough or the user has
// clearly moved on.
func shouldFlushTrailing(bucket []core.Screenshot, opts options) bool {
	first := bucket[0].CapturedAt
	last := bucket[len(bucket)-1].CapturedAt

	return last-first >= opts.minSpan || opts.nowTs-last > opts.maxGap
}

func closeBucket(batches []core.Batch, bucket []core.Screenshot, activity *core.ActivityContext) []core.Batch {
	batch, err := core.NewBatch(bucket, activity)
	if err != nil {
		return batches
	}
	return append(batches, batch)
}
