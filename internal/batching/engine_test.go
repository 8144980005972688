package batching

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erg0nix/glance/internal/core"
)

type fakeEvents struct {
	events []core.WindowEvent
	err    error
	calls  int
}

func (f *fakeEvents) WindowSwitchEvents(_ context.Context, startTs, endTs int64, _ int) ([]core.WindowEvent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	var out []core.WindowEvent
	for _, ev := range f.events {
		if ev.Timestamp >= startTs && ev.Timestamp <= endTs {
			out = append(out, ev)
		}
	}
	return out, nil
}

func shotsEvery(start, end, step int64) []core.Screenshot {
	var shots []core.Screenshot
	id := int64(1)
	for ts := start; ts <= end; ts += step {
		shots = append(shots, core.Screenshot{ID: id, CapturedAt: ts})
		id++
	}
	return shots
}

func newTestEngine(cfg Config, events EventSource, nowTs int64) *Engine {
	return NewEngine(cfg, events, nil).WithClock(func() time.Time { return time.Unix(nowTs, 0) })
}

func batchBounds(batches []core.Batch) [][2]int64 {
	out := make([][2]int64, 0, len(batches))
	for _, b := range batches {
		out = append(out, [2]int64{b.StartTs, b.EndTs})
	}
	return out
}

func TestMaxGap(t *testing.T) {
	assert.Equal(t, int64(120), MaxGap(10))
	assert.Equal(t, int64(120), MaxGap(40))
	assert.Equal(t, int64(180), MaxGap(60))
	assert.Equal(t, int64(152), MaxGap(50.5))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeEvent, ParseMode("event"))
	assert.Equal(t, ModeTime, ParseMode("time"))
	assert.Equal(t, ModeTime, ParseMode(""))
}

func TestSegmentEmptyInput(t *testing.T) {
	for _, mode := range []Mode{ModeTime, ModeEvent} {
		cfg := DefaultConfig()
		cfg.Mode = mode
		events := &fakeEvents{}

		result, err := newTestEngine(cfg, events, 0).Segment(context.Background(), nil)
		require.NoError(t, err)

		assert.Empty(t, result.Batches)
		assert.Empty(t, result.Pending)
		assert.Zero(t, events.calls)
	}
}

func TestSegmentByTime(t *testing.T) {
	tests := []struct {
		name        string
		shots       []core.Screenshot
		nowTs       int64
		wantBatches [][2]int64
		wantPending int
	}{
		{
			name: "gap larger than max gap forces boundary",
			shots: []core.Screenshot{
				{ID: 1, CapturedAt: 0}, {ID: 2, CapturedAt: 60}, {ID: 3, CapturedAt: 120},
				{ID: 4, CapturedAt: 301}, {ID: 5, CapturedAt: 400},
			},
			nowTs:       10_000,
			wantBatches: [][2]int64{{0, 120}, {301, 400}},
		},
		{
			name: "gap equal to max gap does not split",
			shots: []core.Screenshot{
				{ID: 1, CapturedAt: 0}, {ID: 2, CapturedAt: 120}, {ID: 3, CapturedAt: 240},
			},
			nowTs:       10_000,
			wantBatches: [][2]int64{{0, 240}},
		},
		{
			name:        "span over target duration closes the batch and leaves a short tail pending",
			shots:       shotsEvery(0, 1200, 60),
			nowTs:       1210,
			wantBatches: [][2]int64{{0, 900}},
			wantPending: 5,
		},
		{
			name:        "short in-progress session stays pending",
			shots:       shotsEvery(0, 120, 10),
			nowTs:       130,
			wantPending: 13,
		},
		{
			name:        "short session flushed once the user moved on",
			shots:       shotsEvery(0, 120, 10),
			nowTs:       121 + 120,
			wantBatches: [][2]int64{{0, 120}},
		},
		{
			name:        "trailing bucket reaching min duration is flushed",
			shots:       shotsEvery(0, 300, 10),
			nowTs:       305,
			wantBatches: [][2]int64{{0, 300}},
		},
		{
			name: "out of order and duplicate input",
			shots: []core.Screenshot{
				{ID: 3, CapturedAt: 600}, {ID: 1, CapturedAt: 0}, {ID: 2, CapturedAt: 300},
				{ID: 2, CapturedAt: 300}, {ID: 4, CapturedAt: 600},
			},
			nowTs:       10_000,
			wantBatches: [][2]int64{{0, 0}, {300, 300}, {600, 600}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestEngine(DefaultConfig(), nil, tt.nowTs).Segment(context.Background(), tt.shots)
			require.NoError(t, err)

			assert.Equal(t, ModeTime, result.Strategy)
			if len(tt.wantBatches) == 0 {
				assert.Empty(t, result.Batches)
			} else {
				assert.Equal(t, tt.wantBatches, batchBounds(result.Batches))
			}
			assert.Len(t, result.Pending, tt.wantPending)
		})
	}
}

func TestSegmentByTimeScalesWithCaptureInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CaptureInterval = 90 * time.Second
	shots := shotsEvery(0, 900, 180)

	result, err := newTestEngine(cfg, nil, 10_000).Segment(context.Background(), shots)
	require.NoError(t, err)

	require.Len(t, result.Batches, 1)
	assert.Len(t, result.Batches[0].Screenshots, len(shots))
}

func TestNonPositiveDurationsFallBackToDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetDuration = 0
	cfg.MinBatchDuration = 0
	cfg.MaxEventSpan = -time.Minute
	cfg.EventLimit = 0
	shots := shotsEvery(0, 3600, 10)

	got, err := newTestEngine(cfg, nil, 10_000).Segment(context.Background(), shots)
	require.NoError(t, err)
	want, err := newTestEngine(DefaultConfig(), nil, 10_000).Segment(context.Background(), shots)
	require.NoError(t, err)

	assert.Equal(t, batchBounds(want.Batches), batchBounds(got.Batches))
	assert.Greater(t, len(got.Batches[0].Screenshots), 1, "a zero target must not close a batch per screenshot")
}

func TestSegmentPartitionsInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		var shots []core.Screenshot
		ts := int64(0)
		count := 1 + rng.Intn(80)
		for i := 0; i < count; i++ {
			ts += int64(rng.Intn(400))
			shots = append(shots, core.Screenshot{ID: int64(i + 1), CapturedAt: ts})
		}
		rng.Shuffle(len(shots), func(i, j int) { shots[i], shots[j] = shots[j], shots[i] })

		result, err := newTestEngine(DefaultConfig(), nil, ts+10).Segment(context.Background(), shots)
		require.NoError(t, err)

		seen := make(map[int64]int)
		for _, b := range result.Batches {
			require.NotEmpty(t, b.Screenshots)
			assert.LessOrEqual(t, b.StartTs, b.EndTs)
			for i, s := range b.Screenshots {
				seen[s.ID]++
				assert.GreaterOrEqual(t, s.CapturedAt, b.StartTs)
				assert.LessOrEqual(t, s.CapturedAt, b.EndTs)
				if i > 0 {
					gap := s.CapturedAt - b.Screenshots[i-1].CapturedAt
					assert.LessOrEqual(t, gap, MaxGap(10), "no batch may span a gap above max gap")
				}
			}
		}
		for _, s := range result.Pending {
			seen[s.ID]++
		}

		require.Len(t, seen, len(shots))
		for id, count := range seen {
			assert.Equal(t, 1, count, "screenshot %d assigned %d times", id, count)
		}
	}
}

func TestSegmentByEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeEvent

	t.Run("splits on context change", func(t *testing.T) {
		events := &fakeEvents{events: []core.WindowEvent{
			{Timestamp: -10, ToApp: "Code", ToTitle: "main.go - glance - Visual Studio Code"},
			{Timestamp: 290, ToApp: "Slack", ToTitle: "#general"},
		}}

		result, err := newTestEngine(cfg, events, 10_000).Segment(context.Background(), shotsEvery(0, 600, 60))
		require.NoError(t, err)

		assert.Equal(t, ModeEvent, result.Strategy)
		require.Equal(t, [][2]int64{{0, 240}, {300, 600}}, batchBounds(result.Batches))
		require.NotNil(t, result.Batches[0].Context)
		assert.Equal(t, "glance", result.Batches[0].Context.Project)
		require.NotNil(t, result.Batches[1].Context)
		assert.Equal(t, core.ActivityCommunication, result.Batches[1].Context.ActivityType)
	})

	t.Run("same project in another file does not split", func(t *testing.T) {
		events := &fakeEvents{events: []core.WindowEvent{
			{Timestamp: 0, ToApp: "Code", ToTitle: "a.go - glance - Visual Studio Code"},
			{Timestamp: 100, ToApp: "Code", ToTitle: "b.go - glance - Visual Studio Code"},
		}}

		result, err := newTestEngine(cfg, events, 10_000).Segment(context.Background(), shotsEvery(0, 300, 30))
		require.NoError(t, err)

		assert.Equal(t, [][2]int64{{0, 300}}, batchBounds(result.Batches))
	})

	t.Run("hard span cap", func(t *testing.T) {
		events := &fakeEvents{events: []core.WindowEvent{
			{Timestamp: 0, ToApp: "Code", ToTitle: "a.go - glance - Visual Studio Code"},
		}}

		result, err := newTestEngine(cfg, events, 1210).Segment(context.Background(), shotsEvery(0, 1200, 60))
		require.NoError(t, err)

		assert.Equal(t, [][2]int64{{0, 900}}, batchBounds(result.Batches))
		assert.Len(t, result.Pending, 5)
	})

	t.Run("gap splits even without context change", func(t *testing.T) {
		events := &fakeEvents{events: []core.WindowEvent{
			{Timestamp: 0, ToApp: "Notion", ToTitle: "Plan"},
		}}
		shots := []core.Screenshot{{ID: 1, CapturedAt: 10}, {ID: 2, CapturedAt: 20}, {ID: 3, CapturedAt: 500}}

		result, err := newTestEngine(cfg, events, 10_000).Segment(context.Background(), shots)
		require.NoError(t, err)

		assert.Equal(t, [][2]int64{{10, 20}, {500, 500}}, batchBounds(result.Batches))
	})

	t.Run("falls back to time-based without events", func(t *testing.T) {
		events := &fakeEvents{}

		result, err := newTestEngine(cfg, events, 10_000).Segment(context.Background(), shotsEvery(0, 600, 60))
		require.NoError(t, err)

		assert.Equal(t, 1, events.calls)
		assert.Equal(t, ModeTime, result.Strategy)
		assert.Equal(t, [][2]int64{{0, 600}}, batchBounds(result.Batches))
	})

	t.Run("event source error", func(t *testing.T) {
		events := &fakeEvents{err: errors.New("db closed")}

		_, err := newTestEngine(cfg, events, 10_000).Segment(context.Background(), shotsEvery(0, 60, 60))
		assert.ErrorContains(t, err, "db closed")
	})
}
