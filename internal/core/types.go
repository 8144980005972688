package core

import (
	"errors"
	"sort"
)

type Screenshot struct {
	ID            int64  `json:"id"`
	CapturedAt    int64  `json:"captured_at"`
	FilePath      string `json:"file_path"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	AppName       string `json:"app_name,omitempty"`
	WindowTitle   string `json:"window_title,omitempty"`
}

type WindowEvent struct {
	Timestamp int64  `json:"timestamp"`
	ToApp     string `json:"to_app"`
	ToTitle   string `json:"to_title"`
}

type ActivityType string

const (
	ActivityCoding        ActivityType = "coding"
	ActivityResearch      ActivityType = "research"
	ActivityCommunication ActivityType = "communication"
	ActivityMedia         ActivityType = "media"
	ActivityProductivity  ActivityType = "productivity"
	ActivityOther         ActivityType = "other"
)

type ActivityContext struct {
	App          string       `json:"app"`
	Project      string       `json:"project,omitempty"`
	File         string       `json:"file,omitempty"`
	Domain       string       `json:"domain,omitempty"`
	ActivityType ActivityType `json:"activity_type"`
}

// Batch is a contiguous, time-ordered group of screenshots analyzed as one unit.
type Batch struct {
	Screenshots []Screenshot     `json:"screenshots"`
	StartTs     int64            `json:"start_ts"`
	EndTs       int64            `json:"end_ts"`
	Context     *ActivityContext `json:"context,omitempty"`
}

var ErrEmptyBatch = errors.New("batch has no screenshots")

// NewBatch sorts the screenshots and derives the batch bounds from the first and last capture.
func NewBatch(screenshots []Screenshot, activity *ActivityContext) (Batch, error) {
	if len(screenshots) == 0 {
		return Batch{}, ErrEmptyBatch
	}

	sorted := SortScreenshots(screenshots)

	return Batch{
		Screenshots: sorted,
		StartTs:     sorted[0].CapturedAt,
		EndTs:       sorted[len(sorted)-1].CapturedAt,
		Context:     activity,
	}, nil
}

func (b Batch) IDs() []int64 {
	ids := make([]int64, 0, len(b.Screenshots))
	for _, s := range b.Screenshots {
		ids = append(ids, s.ID)
	}
	return ids
}

func (b Batch) Duration() int64 {
	return b.EndTs - b.StartTs
}

// SortScreenshots returns a copy ordered by capture time (ties by ID) with repeated IDs removed.
func SortScreenshots(screenshots []Screenshot) []Screenshot {
	sorted := make([]Screenshot, 0, len(screenshots))
	seen := make(map[int64]bool, len(screenshots))

	for _, s := range screenshots {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		sorted = append(sorted, s)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CapturedAt != sorted[j].CapturedAt {
			return sorted[i].CapturedAt < sorted[j].CapturedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	return sorted
}

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchAnalyzed   BatchStatus = "analyzed"
	BatchFailed     BatchStatus = "failed"
)

// BatchRecord is a persisted batch as listed back from storage.
type BatchRecord struct {
	ID              int64       `json:"id"`
	StartTs         int64       `json:"start_ts"`
	EndTs           int64       `json:"end_ts"`
	Status          BatchStatus `json:"status"`
	Error           string      `json:"error,omitempty"`
	ScreenshotCount int         `json:"screenshot_count"`
	CreatedAt       int64       `json:"created_at"`
}

// Observation is one stored description of what happened during [StartTs, EndTs] of a batch.
type Observation struct {
	ID           int64  `json:"id"`
	BatchID      int64  `json:"batch_id"`
	StartTs      int64  `json:"start_ts"`
	EndTs        int64  `json:"end_ts"`
	Text         string `json:"text"`
	ModelLabel   string `json:"model_label,omitempty"`
	ContextType  string `json:"context_type,omitempty"`
	EntitiesJSON string `json:"entities_json,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}
