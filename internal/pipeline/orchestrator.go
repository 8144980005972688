package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erg0nix/glance/internal/batching"
	"github.com/erg0nix/glance/internal/chunking"
	"github.com/erg0nix/glance/internal/core"
	"github.com/erg0nix/glance/internal/observation"
	"github.com/erg0nix/glance/internal/provider"
)

var errNoImages = errors.New("no readable screenshots in chunk")

// Orchestrator runs ticks. At most one tick is in flight; an overlapping call returns immediately
// with a skipped report.
type Orchestrator struct {
	cfg        Config
	deps       Deps
	controller *chunking.Controller
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	onReport   func(Report)

	running atomic.Bool
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.LoadImage == nil {
		deps.LoadImage = LoadImageFile
	}

	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultConfig().FetchLimit
	}

	controller := deps.Controller
	if controller == nil {
		controller = chunking.NewController(chunking.DefaultConfig(), nil, logger)
	}

	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		controller: controller,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithClock replaces the wall clock used for the fetch window and batch flushing.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithSleep replaces the pause between chunk submissions.
func (o *Orchestrator) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Orchestrator {
	o.sleep = sleep
	return o
}

// OnReport registers a callback invoked with the report of every completed tick.
func (o *Orchestrator) OnReport(fn func(Report)) *Orchestrator {
	o.onReport = fn
	return o
}

// Run ticks immediately and then every interval until ctx is done. Each tick runs in its own
// goroutine so a slow tick makes later fires hit the single-flight guard and be dropped. Run
// returns after the in-flight tick finishes.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Tick(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("tick failed", "error", err)
			}
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			launch()
		}
	}
}

func (o *Orchestrator) Tick(ctx context.Context) (Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug("tick already in flight, skipping")
		return Report{Skipped: true}, nil
	}
	defer o.running.Store(false)

	report := Report{TickID: core.NewTickID(), StartedAt: o.now()}
	logger := o.logger.With("tick_id", report.TickID)

	batchCfg := o.resolveSettings(ctx, logger)

	var sinceTs int64
	if o.cfg.Lookback > 0 {
		sinceTs = report.StartedAt.Add(-o.cfg.Lookback).Unix()
	}

	shots, err := o.deps.Screenshots.FetchUnprocessedScreenshots(ctx, sinceTs, o.cfg.FetchLimit)
	if err != nil {
		return report, fmt.Errorf("fetch unprocessed screenshots: %w", err)
	}
	report.Screenshots = len(shots)

	engine := batching.NewEngine(batchCfg, o.deps.Events, logger).WithClock(o.now)
	result, err := engine.Segment(ctx, shots)
	if err != nil {
		return report, fmt.Errorf("segment screenshots: %w", err)
	}
	report.Pending = len(result.Pending)
	report.Strategy = result.Strategy

	report.Controller = o.controller.Evaluate()
	report.ChunkSize = o.chunkSize()

	for _, batch := range result.Batches {
		if ctx.Err() != nil {
			break
		}

		outcome := o.processBatch(ctx, logger, batch, report.ChunkSize)
		report.Batches++
		report.Chunks += outcome.chunks
		report.FailedChunks += outcome.failedChunks
		report.Observations += outcome.observations
		if outcome.failed {
			report.FailedBatches++
		}
	}

	report.Duration = o.now().Sub(report.StartedAt)

	if report.Screenshots > 0 {
		logger.Info("tick complete",
			"screenshots", report.Screenshots,
			"batches", report.Batches,
			"pending", report.Pending,
			"chunks", report.Chunks,
			"failed_chunks", report.FailedChunks,
			"observations", report.Observations,
			"chunk_size", report.ChunkSize,
			"strategy", report.Strategy)
	}

	if o.onReport != nil {
		o.onReport(report)
	}

	return report, ctx.Err()
}

func (o *Orchestrator) chunkSize() int {
	size := o.controller.ChunkSize()
	if limit := o.cfg.MaxScreenshotsPerRequest; limit > 0 && size > limit {
		size = limit
	}
	return max(1, size)
}

// resolveSettings overlays stored settings on the configured batching defaults and applies the
// adaptive chunking toggle. Unreadable or invalid settings are logged and ignored.
func (o *Orchestrator) resolveSettings(ctx context.Context, logger *slog.Logger) batching.Config {
	cfg := o.cfg.Batching
	if o.deps.Settings == nil {
		return cfg
	}

	lookup := func(key string) (string, bool) {
		value, ok, err := o.deps.Settings.GetSetting(ctx, key)
		if err != nil {
			logger.Warn("failed to read setting", "key", key, "error", err)
			return "", false
		}
		return strings.TrimSpace(value), ok
	}

	if v, ok := lookup(SettingCaptureInterval); ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			cfg.CaptureInterval = time.Duration(secs * float64(time.Second))
		} else {
			logger.Warn("ignoring invalid setting", "key", SettingCaptureInterval, "value", v)
		}
	}

	if v, ok := lookup(SettingBatchingMode); ok {
		cfg.Mode = batching.ParseMode(strings.ToLower(v))
	}

	if v, ok := lookup(SettingAdaptiveChunking); ok {
		if enabled, err := strconv.ParseBool(v); err == nil {
			o.controller.SetEnabled(enabled)
		} else {
			logger.Warn("ignoring invalid setting", "key", SettingAdaptiveChunking, "value", v)
		}
	}

	return cfg
}

type batchOutcome struct {
	chunks       int
	failedChunks int
	observations int
	failed       bool
}

// processBatch stores the batch, submits its chunks one after another and records the terminal
// status once every chunk was attempted. Chunk failures do not stop the remaining chunks.
func (o *Orchestrator) processBatch(ctx context.Context, logger *slog.Logger, batch core.Batch, chunkSize int) batchOutcome {
	var outcome batchOutcome

	batchID, err := o.deps.Sink.SaveBatchWithScreenshots(ctx, batch.StartTs, batch.EndTs, batch.IDs())
	if err != nil {
		logger.Warn("failed to save batch", "start_ts", batch.StartTs, "end_ts", batch.EndTs, "error", err)
		outcome.failed = true
		return outcome
	}

	logger = logger.With("batch_id", batchID)

	// Status writes must land even when shutdown cancels ctx mid-batch.
	statusCtx := context.WithoutCancel(ctx)

	if err := o.deps.Sink.UpdateBatchStatus(statusCtx, batchID, core.BatchProcessing, ""); err != nil {
		logger.Warn("failed to mark batch processing", "error", err)
	}

	chunks := SplitChunks(batch.Screenshots, chunkSize)
	outcome.chunks = len(chunks)

	var lastErr error
	for i, chunk := range chunks {
		if i > 0 && o.cfg.ChunkDelay > 0 {
			if err := o.sleep(ctx, o.cfg.ChunkDelay); err != nil {
				lastErr = fmt.Errorf("interrupted before chunk %d/%d: %w", i+1, len(chunks), err)
				outcome.failedChunks += len(chunks) - i
				break
			}
		}

		observations, err := o.runChunk(ctx, batch, chunk, i+1, len(chunks))
		if err != nil {
			lastErr = err
			outcome.failedChunks++
			logger.Warn("chunk failed",
				"chunk", i+1,
				"chunks", len(chunks),
				"screenshots", len(chunk),
				"error", err)
			continue
		}

		for _, obs := range observations {
			obs.BatchID = batchID
			if _, err := o.deps.Sink.SaveObservation(statusCtx, obs); err != nil {
				lastErr = fmt.Errorf("save observation: %w", err)
				logger.Warn("failed to save observation", "error", err)
				continue
			}
			outcome.observations++
		}
	}

	status, errMsg := core.BatchAnalyzed, ""
	if outcome.observations == 0 {
		status = core.BatchFailed
		outcome.failed = true
		errMsg = "no observations produced"
		if lastErr != nil {
			errMsg = lastErr.Error()
		}
	}

	if err := o.deps.Sink.UpdateBatchStatus(statusCtx, batchID, status, errMsg); err != nil {
		logger.Warn("failed to update batch status", "status", status, "error", err)
	}

	logger.Debug("batch processed",
		"status", status,
		"chunks", outcome.chunks,
		"failed_chunks", outcome.failedChunks,
		"observations", outcome.observations)

	return outcome
}

func (o *Orchestrator) runChunk(ctx context.Context, batch core.Batch, chunk []core.Screenshot, index, total int) ([]core.Observation, error) {
	images := make([]provider.Image, 0, len(chunk))
	for _, shot := range chunk {
		img, err := o.deps.LoadImage(shot)
		if err != nil {
			o.logger.Warn("failed to load screenshot", "screenshot_id", shot.ID, "error", err)
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, errNoImages
	}

	startTs, endTs := chunk[0].CapturedAt, chunk[len(chunk)-1].CapturedAt

	req := provider.Request{
		Prompt: renderPrompt(o.cfg.Prompt, promptVars{
			count:      len(images),
			startTs:    startTs,
			endTs:      endTs,
			chunkIndex: index,
			chunkTotal: total,
			activity:   batch.Context,
		}),
		Images:     images,
		ChunkIndex: index,
		ChunkTotal: total,
	}

	var resp provider.Response
	var err error
	if o.cfg.Stream {
		resp, err = o.deps.Generator.GenerateContentStream(ctx, req, nil)
	} else {
		resp, err = o.deps.Generator.GenerateContent(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	parsed, err := observation.Parse(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", resp.RequestID, err)
	}

	bounded := parsed.WithBounds(startTs, endTs)

	out := make([]core.Observation, 0, len(bounded.Observations))
	for _, obs := range bounded.Observations {
		contextType := obs.ContextType
		if contextType == "" && batch.Context != nil {
			contextType = string(batch.Context.ActivityType)
		}

		out = append(out, core.Observation{
			StartTs:      obs.StartTs,
			EndTs:        obs.EndTs,
			Text:         obs.Text,
			ModelLabel:   o.cfg.ModelLabel,
			ContextType:  contextType,
			EntitiesJSON: string(obs.Entities),
		})
	}

	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
