package batching

import "github.com/erg0nix/glance/internal/core"

// segmentByTime expects screenshots sorted by capture time.
func segmentByTime(sorted []core.Screenshot, opts options) Result {
	result := Result{Strategy: ModeTime}

	var bucket []core.Screenshot
	for _, s := range sorted {
		if len(bucket) > 0 {
			gap := s.CapturedAt - bucket[len(bucket)-1].CapturedAt
			span := s.CapturedAt - bucket[0].CapturedAt

			if gap > opts.maxGap || span > opts.targetSpan {
				result.Batches = closeBucket(result.Batches, bucket, nil)
				bucket = nil
			}
		}

		bucket = append(bucket, s)
	}

	if len(bucket) == 0 {
		return result
	}

	if shouldFlushTrailing(bucket, opts) {
		result.Batches = closeBucket(result.Batches, bucket, nil)
	} else {
		result.Pending = bucket
	}

	return result
}
