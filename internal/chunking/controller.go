// Package chunking adapts the number of screenshots sent per LLM request to observed latency.
package chunking

import (
	"log/slog"
	"sync"

	"github.com/erg0nix/glance/internal/metrics"
)

type Reason string

const (
	ReasonInitial         Reason = "initial"
	ReasonSlowPerformance Reason = "slow_performance"
	ReasonFastPerformance Reason = "fast_performance"
	ReasonTimeoutShrink   Reason = "timeout_shrink"
)

const (
	shrinkStep = 2
	growStep   = 1

	emergencyWindow    = 5
	emergencyTimeouts  = 2
	performanceSamples = 10
)

type State struct {
	AdjustedSize      int    `json:"adjusted_size"`
	Reason            Reason `json:"reason"`
	ConsecutiveSlow   int    `json:"consecutive_slow"`
	ConsecutiveFast   int    `json:"consecutive_fast"`
	CooldownRemaining int    `json:"cooldown_remaining"`
}

type Config struct {
	Enabled         bool
	StaticSize      int
	InitialSize     int
	MinSize         int
	MaxSize         int
	SlowThreshold   float64
	FastThreshold   float64
	HysteresisCount int
	CooldownTicks   int
}

func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		StaticSize:      15,
		InitialSize:     15,
		MinSize:         3,
		MaxSize:         30,
		SlowThreshold:   8,
		FastThreshold:   3,
		HysteresisCount: 3,
		CooldownTicks:   2,
	}
}

type MetricsSource interface {
	Recent(n int) []metrics.RequestMetric
	RecentSuccessfulChunked(n int) []metrics.RequestMetric
}

// recordCounter is implemented by sources that count every recorded request, such as
// *metrics.Collector. The controller only re-evaluates once that count moves.
type recordCounter interface {
	Total() int
}

// Controller is a hysteresis and cooldown state machine over the chunk size. It is safe for concurrent use.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	metrics MetricsSource
	state   State
	logger  *slog.Logger

	lastTotal int
}

func NewController(cfg Config, source MetricsSource, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	cfg = normalizeConfig(cfg)

	return &Controller{
		cfg:     cfg,
		metrics: source,
		state:     initialState(cfg),
		logger:    logger,
		lastTotal: -1,
	}
}

func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	if cfg.StaticSize <= 0 {
		cfg.StaticSize = defaults.StaticSize
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 1
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = cfg.StaticSize
	}
	if cfg.HysteresisCount <= 0 {
		cfg.HysteresisCount = 1
	}
	if cfg.CooldownTicks < 0 {
		cfg.CooldownTicks = 0
	}

	return cfg
}

func initialState(cfg Config) State {
	return State{
		AdjustedSize: clamp(cfg.InitialSize, cfg.MinSize, cfg.MaxSize),
		Reason:       ReasonInitial,
	}
}

// Evaluate runs one step of the controller and returns the resulting state. It does nothing when
// adaptive chunking is disabled, and outside a cooldown it does nothing until new requests were
// recorded since the previous step.
func (c *Controller) Evaluate() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled || c.metrics == nil {
		return c.state
	}

	if c.state.CooldownRemaining > 0 {
		c.state.CooldownRemaining--
		return c.state
	}

	if counter, ok := c.metrics.(recordCounter); ok {
		total := counter.Total()
		if total == c.lastTotal {
			return c.state
		}
		c.lastTotal = total
	}

	if c.timeoutBurst() {
		before := c.state.AdjustedSize
		c.applyChange(max(c.cfg.MinSize, before-shrinkStep), ReasonTimeoutShrink)
		c.logger.Warn("repeated timeouts, shrinking chunk size",
			"from", before, "to", c.state.AdjustedSize)
		return c.state
	}

	secsPerShot, ok := c.secondsPerScreenshot()
	if !ok {
		return c.state
	}

	switch {
	case secsPerShot > c.cfg.SlowThreshold:
		c.state.ConsecutiveSlow++
		c.state.ConsecutiveFast = 0
	case secsPerShot < c.cfg.FastThreshold:
		c.state.ConsecutiveFast++
		c.state.ConsecutiveSlow = 0
	default:
		c.state.ConsecutiveSlow = 0
		c.state.ConsecutiveFast = 0
	}

	before := c.state.AdjustedSize
	switch {
	case c.state.ConsecutiveSlow >= c.cfg.HysteresisCount:
		c.applyChange(max(c.cfg.MinSize, before-shrinkStep), ReasonSlowPerformance)
	case c.state.ConsecutiveFast >= c.cfg.HysteresisCount:
		c.applyChange(min(c.cfg.MaxSize, before+growStep), ReasonFastPerformance)
	default:
		return c.state
	}

	c.logger.Info("adjusted chunk size",
		"from", before,
		"to", c.state.AdjustedSize,
		"reason", c.state.Reason,
		"secs_per_screenshot", secsPerShot)

	return c.state
}

func (c *Controller) applyChange(size int, reason Reason) {
	c.state.AdjustedSize = size
	c.state.Reason = reason
	c.state.CooldownRemaining = c.cfg.CooldownTicks
	c.state.ConsecutiveSlow = 0
	c.state.ConsecutiveFast = 0
}

func (c *Controller) timeoutBurst() bool {
	timeouts := 0
	for _, m := range c.metrics.Recent(emergencyWindow) {
		if !m.Success && m.ErrorCategory == metrics.CategoryTimeout {
			timeouts++
		}
	}
	return timeouts >= emergencyTimeouts
}

func (c *Controller) secondsPerScreenshot() (float64, bool) {
	samples := c.metrics.RecentSuccessfulChunked(performanceSamples)
	if len(samples) == 0 || c.state.AdjustedSize <= 0 {
		return 0, false
	}

	total := 0.0
	for _, m := range samples {
		total += m.Duration.Seconds()
	}

	return total / float64(len(samples)*c.state.AdjustedSize), true
}

// ChunkSize is the adjusted size when adaptive chunking is enabled and the static size otherwise.
func (c *Controller) ChunkSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		return c.cfg.StaticSize
	}
	return c.state.AdjustedSize
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg.Enabled
}

// SetEnabled toggles adaptive mode at runtime, e.g. from a stored setting. State is kept.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Enabled = enabled
}

func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = initialState(c.cfg)
	c.lastTotal = -1
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
