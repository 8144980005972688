package batching

import (
	"sort"

	"github.com/erg0nix/glance/internal/activity"
	"github.com/erg0nix/glance/internal/core"
)

type timelineEntry struct {
	timestamp int64
	context   core.ActivityContext
}

func buildTimeline(events []core.WindowEvent) []timelineEntry {
	timeline := make([]timelineEntry, 0, len(events))
	for _, ev := range events {
		timeline = append(timeline, timelineEntry{
			timestamp: ev.Timestamp,
			context:   activity.Classify(ev.ToApp, ev.ToTitle),
		})
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].timestamp < timeline[j].timestamp
	})

	return timeline
}

// segmentByEvents splits on semantic context changes. The timeline pointer only moves forward,
// so the whole pass is linear in screenshots plus events.
func segmentByEvents(sorted []core.Screenshot, timeline []timelineEntry, opts options) Result {
	result := Result{Strategy: ModeEvent}

	var (
		bucket    []core.Screenshot
		bucketCtx *core.ActivityContext
		prevCtx   *core.ActivityContext
	)

	pointer := -1
	for _, s := range sorted {
		for pointer+1 < len(timeline) && timeline[pointer+1].timestamp <= s.CapturedAt {
			pointer++
		}

		var cur *core.ActivityContext
		if pointer >= 0 {
			entry := timeline[pointer].context
			cur = &entry
		}

		if len(bucket) > 0 {
			gap := s.CapturedAt - bucket[len(bucket)-1].CapturedAt
			span := s.CapturedAt - bucket[0].CapturedAt
			changed := cur != nil && activity.IsContextChange(prevCtx, *cur)

			if changed || span > opts.maxEventSpan || gap > opts.maxGap {
				result.Batches = closeBucket(result.Batches, bucket, bucketCtx)
				bucket = nil
				bucketCtx = nil
			}
		}

		if bucketCtx == nil {
			bucketCtx = cur
		}

		bucket = append(bucket, s)
		prevCtx = cur
	}

	if len(bucket) == 0 {
		return result
	}

	if shouldFlushTrailing(bucket, opts) {
		result.Batches = closeBucket(result.Batches, bucket, bucketCtx)
	} else {
		result.Pending = bucket
	}

	return result
}
