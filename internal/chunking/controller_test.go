package chunking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erg0nix/glance/internal/metrics"
)

type fakeMetrics struct {
	recent  []metrics.RequestMetric
	chunked []metrics.RequestMetric
}

func (f *fakeMetrics) Recent(n int) []metrics.RequestMetric {
	if n > 0 && len(f.recent) > n {
		return f.recent[len(f.recent)-n:]
	}
	return f.recent
}

func (f *fakeMetrics) RecentSuccessfulChunked(n int) []metrics.RequestMetric {
	if n > 0 && len(f.chunked) > n {
		return f.chunked[len(f.chunked)-n:]
	}
	return f.chunked
}

// withSecsPerShot makes the controller observe the given seconds per screenshot at size.
func (f *fakeMetrics) withSecsPerShot(secs float64, size int) {
	d := time.Duration(secs * float64(size) * float64(time.Second))
	f.chunked = []metrics.RequestMetric{{Duration: d, Success: true, ChunkIndex: 1, ChunkTotal: 1}}
	f.recent = f.chunked
}

func testConfig() Config {
	return Config{
		Enabled:         true,
		StaticSize:      15,
		InitialSize:     10,
		MinSize:         3,
		MaxSize:         12,
		SlowThreshold:   8,
		FastThreshold:   3,
		HysteresisCount: 3,
		CooldownTicks:   2,
	}
}

func TestInitialState(t *testing.T) {
	c := NewController(testConfig(), &fakeMetrics{}, nil)

	assert.Equal(t, State{AdjustedSize: 10, Reason: ReasonInitial}, c.State())
	assert.Equal(t, 10, c.ChunkSize())
}

func TestInitialSizeClamped(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSize = 50

	assert.Equal(t, 12, NewController(cfg, &fakeMetrics{}, nil).State().AdjustedSize)
}

func TestDisabledControllerIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	source := &fakeMetrics{}
	source.withSecsPerShot(20, 10)
	c := NewController(cfg, source, nil)

	for i := 0; i < 5; i++ {
		c.Evaluate()
	}

	assert.Equal(t, State{AdjustedSize: 10, Reason: ReasonInitial}, c.State())
	assert.Equal(t, 15, c.ChunkSize())

	c.SetEnabled(true)
	assert.True(t, c.Enabled())
	assert.Equal(t, 10, c.ChunkSize())
}

func TestSlowSamplesShrinkAfterHysteresis(t *testing.T) {
	source := &fakeMetrics{}
	source.withSecsPerShot(10, 10)
	c := NewController(testConfig(), source, nil)

	state := c.Evaluate()
	assert.Equal(t, 10, state.AdjustedSize)
	assert.Equal(t, 1, state.ConsecutiveSlow)

	state = c.Evaluate()
	assert.Equal(t, 10, state.AdjustedSize)
	assert.Equal(t, 2, state.ConsecutiveSlow)

	state = c.Evaluate()
	assert.Equal(t, 8, state.AdjustedSize)
	assert.Equal(t, ReasonSlowPerformance, state.Reason)
	assert.Equal(t, 2, state.CooldownRemaining)
	assert.Zero(t, state.ConsecutiveSlow)
}

func TestFastSamplesGrowAfterHysteresis(t *testing.T) {
	source := &fakeMetrics{}
	source.withSecsPerShot(1, 10)
	c := NewController(testConfig(), source, nil)

	var state State
	for i := 0; i < 3; i++ {
		state = c.Evaluate()
	}

	assert.Equal(t, 11, state.AdjustedSize)
	assert.Equal(t, ReasonFastPerformance, state.Reason)
	assert.Zero(t, state.ConsecutiveFast)
}

func TestSizeBounds(t *testing.T) {
	t.Run("shrink floors at min size", func(t *testing.T) {
		cfg := testConfig()
		cfg.InitialSize = 4
		cfg.CooldownTicks = 0
		source := &fakeMetrics{}
		source.withSecsPerShot(20, 4)
		c := NewController(cfg, source, nil)

		for i := 0; i < 9; i++ {
			c.Evaluate()
		}

		assert.Equal(t, 3, c.State().AdjustedSize)
	})

	t.Run("grow caps at max size", func(t *testing.T) {
		cfg := testConfig()
		cfg.InitialSize = 12
		cfg.CooldownTicks = 0
		source := &fakeMetrics{}
		source.withSecsPerShot(0.5, 12)
		c := NewController(cfg, source, nil)

		for i := 0; i < 9; i++ {
			c.Evaluate()
		}

		assert.Equal(t, 12, c.State().AdjustedSize)
	})
}

func TestDeadZoneResetsCounters(t *testing.T) {
	source := &fakeMetrics{}
	source.withSecsPerShot(10, 10)
	c := NewController(testConfig(), source, nil)

	c.Evaluate()
	c.Evaluate()
	require.Equal(t, 2, c.State().ConsecutiveSlow)

	source.withSecsPerShot(5, 10)
	state := c.Evaluate()

	assert.Zero(t, state.ConsecutiveSlow)
	assert.Zero(t, state.ConsecutiveFast)
	assert.Equal(t, 10, state.AdjustedSize)
	assert.Equal(t, ReasonInitial, state.Reason)
}

func TestOppositeSampleResetsTrend(t *testing.T) {
	source := &fakeMetrics{}
	source.withSecsPerShot(10, 10)
	c := NewController(testConfig(), source, nil)

	c.Evaluate()
	c.Evaluate()

	source.withSecsPerShot(1, 10)
	state := c.Evaluate()

	assert.Zero(t, state.ConsecutiveSlow)
	assert.Equal(t, 1, state.ConsecutiveFast)
	assert.Equal(t, 10, state.AdjustedSize)
}

func TestEmergencyShrinkOnTimeouts(t *testing.T) {
	source := &fakeMetrics{}
	source.withSecsPerShot(10, 10)
	c := NewController(testConfig(), source, nil)

	c.Evaluate()
	c.Evaluate()
	require.Equal(t, 2, c.State().ConsecutiveSlow)

	source.recent = []metrics.RequestMetric{
		{Success: true},
		{Success: false, ErrorCategory: metrics.CategoryTimeout},
		{Success: false, ErrorCategory: metrics.CategoryRateLimit},
		{Success: true},
		{Success: false, ErrorCategory: metrics.CategoryTimeout},
	}

	state := c.Evaluate()
	assert.Equal(t, 8, state.AdjustedSize)
	assert.Equal(t, ReasonTimeoutShrink, state.Reason)
	assert.Zero(t, state.ConsecutiveSlow)
	assert.Zero(t, state.ConsecutiveFast)
	assert.Equal(t, 2, state.CooldownRemaining)
}

func TestEmergencyShrinkIgnoresOlderTimeouts(t *testing.T) {
	source := &fakeMetrics{}
	source.recent = []metrics.RequestMetric{
		{Success: false, ErrorCategory: metrics.CategoryTimeout},
		{Success: true},
		{Success: true},
		{Success: true},
		{Success: true},
		{Success: false, ErrorCategory: metrics.CategoryTimeout},
	}
	c := NewController(testConfig(), source, nil)

	state := c.Evaluate()
	assert.Equal(t, 10, state.AdjustedSize)
	assert.Equal(t, ReasonInitial, state.Reason)
}

func TestCooldownSuppressesAdjustments(t *testing.T) {
	source := &fakeMetrics{}
	source.recent = []metrics.RequestMetric{
		{Success: false, ErrorCategory: metrics.CategoryTimeout},
		{Success: false, ErrorCategory: metrics.CategoryTimeout},
	}
	c := NewController(testConfig(), source, nil)

	state := c.Evaluate()
	require.Equal(t, 8, state.AdjustedSize)

	state = c.Evaluate()
	assert.Equal(t, 8, state.AdjustedSize)
	assert.Equal(t, 1, state.CooldownRemaining)

	state = c.Evaluate()
	assert.Equal(t, 8, state.AdjustedSize)
	assert.Zero(t, state.CooldownRemaining)

	state = c.Evaluate()
	assert.Equal(t, 6, state.AdjustedSize, "timeouts still dominate once the cooldown expired")
}

func TestNoDataLeavesStateUntouched(t *testing.T) {
	c := NewController(testConfig(), &fakeMetrics{}, nil)

	assert.Equal(t, State{AdjustedSize: 10, Reason: ReasonInitial}, c.Evaluate())
}

func TestControllerWithCollector(t *testing.T) {
	collector := metrics.NewCollector(metrics.DefaultCapacity)
	c := NewController(testConfig(), collector, nil)

	for i := 0; i < 3; i++ {
		collector.RecordRequest(metrics.RequestMetric{
			Duration: 120 * time.Second, Success: true, ChunkIndex: 1, ChunkTotal: 2,
		})
		c.Evaluate()
	}

	assert.Equal(t, 8, c.State().AdjustedSize)

	c.Reset()
	assert.Equal(t, State{AdjustedSize: 10, Reason: ReasonInitial}, c.State())
}

func TestIdleTicksDoNotReuseOldEvidence(t *testing.T) {
	collector := metrics.NewCollector(metrics.DefaultCapacity)
	collector.RecordRequest(metrics.RequestMetric{Success: false, ErrorCategory: metrics.CategoryTimeout})
	collector.RecordRequest(metrics.RequestMetric{Success: false, ErrorCategory: metrics.CategoryTimeout})
	c := NewController(testConfig(), collector, nil)

	require.Equal(t, 8, c.Evaluate().AdjustedSize)
	c.Evaluate()
	c.Evaluate()
	require.Zero(t, c.State().CooldownRemaining)

	for i := 0; i < 5; i++ {
		state := c.Evaluate()
		assert.Equal(t, 8, state.AdjustedSize, "no new requests were recorded")
		assert.Equal(t, ReasonTimeoutShrink, state.Reason)
	}

	collector.RecordRequest(metrics.RequestMetric{Success: false, ErrorCategory: metrics.CategoryTimeout})
	assert.Equal(t, 6, c.Evaluate().AdjustedSize)
}
