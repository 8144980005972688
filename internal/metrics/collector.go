// Package metrics keeps a bounded ledger of LLM request outcomes and derives latency statistics from it.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	DefaultCapacity = 100

	tokenRateWindow = 10
)

// RequestMetric is the outcome of one logical provider call. It is never mutated after it is recorded.
type RequestMetric struct {
	Timestamp        time.Time     `json:"timestamp"`
	Duration         time.Duration `json:"duration"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Success          bool          `json:"success"`
	ErrorCategory    ErrorCategory `json:"error_category,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	ChunkIndex       int           `json:"chunk_index,omitempty"`
	ChunkTotal       int           `json:"chunk_total,omitempty"`
}

// Chunked reports whether the request carried one chunk of a larger batch.
func (m RequestMetric) Chunked() bool {
	return m.ChunkTotal > 0
}

type Summary struct {
	TotalRequests         int                   `json:"total_requests"`
	SuccessfulRequests    int                   `json:"successful_requests"`
	FailedRequests        int                   `json:"failed_requests"`
	WindowSize            int                   `json:"window_size"`
	ErrorsByCategory      map[ErrorCategory]int `json:"errors_by_category"`
	AvgDurationMs         float64               `json:"avg_duration_ms"`
	P50DurationMs         float64               `json:"p50_duration_ms"`
	P95DurationMs         float64               `json:"p95_duration_ms"`
	P99DurationMs         float64               `json:"p99_duration_ms"`
	TotalPromptTokens     int                   `json:"total_prompt_tokens"`
	TotalCompletionTokens int                   `json:"total_completion_tokens"`
	TokensPerSecond       float64               `json:"tokens_per_second"`
}

// Collector is a fixed-capacity ring buffer of request metrics. It is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	entries  []RequestMetric
	next     int
	count    int
	total    int
	success  int
	errors   map[ErrorCategory]int
	prompt   int
	complete int
}

func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Collector{
		entries: make([]RequestMetric, capacity),
		errors:  make(map[ErrorCategory]int),
	}
}

func (c *Collector) RecordRequest(metric RequestMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}
	if !metric.Success && metric.ErrorCategory == "" {
		metric.ErrorCategory = CategoryUnknown
	}

	c.entries[c.next] = metric
	c.next = (c.next + 1) % len(c.entries)
	if c.count < len(c.entries) {
		c.count++
	}

	c.total++
	if metric.Success {
		c.success++
	} else {
		c.errors[metric.ErrorCategory]++
	}

	c.prompt += metric.PromptTokens
	c.complete += metric.CompletionTokens
}

// Total is the number of requests recorded since creation or the last Reset, including evicted ones.
func (c *Collector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.total
}

// Recent returns up to n of the newest metrics, oldest first. n <= 0 returns the whole window.
func (c *Collector) Recent(n int) []RequestMetric {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.recentLocked(n)
}

// RecentSuccessfulChunked returns up to n of the newest successful chunked requests, oldest first.
func (c *Collector) RecentSuccessfulChunked(n int) []RequestMetric {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.filterNewest(n, func(m RequestMetric) bool {
		return m.Success && m.Chunked()
	})
}

func (c *Collector) recentLocked(n int) []RequestMetric {
	if n <= 0 || n > c.count {
		n = c.count
	}

	out := make([]RequestMetric, 0, n)
	start := c.next - n
	if start < 0 {
		start += len(c.entries)
	}
	for i := 0; i < n; i++ {
		out = append(out, c.entries[(start+i)%len(c.entries)])
	}
	return out
}

func (c *Collector) filterNewest(n int, keep func(RequestMetric) bool) []RequestMetric {
	window := c.recentLocked(0)

	var picked []RequestMetric
	for i := len(window) - 1; i >= 0 && len(picked) < n; i-- {
		if keep(window[i]) {
			picked = append(picked, window[i])
		}
	}

	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := Summary{
		TotalRequests:         c.total,
		SuccessfulRequests:    c.success,
		FailedRequests:        c.total - c.success,
		WindowSize:            c.count,
		ErrorsByCategory:      make(map[ErrorCategory]int, len(c.errors)),
		TotalPromptTokens:     c.prompt,
		TotalCompletionTokens: c.complete,
	}

	for category, n := range c.errors {
		summary.ErrorsByCategory[category] = n
	}

	window := c.recentLocked(0)
	if len(window) == 0 {
		return summary
	}

	durations := make([]float64, 0, len(window))
	sum := 0.0
	for _, m := range window {
		ms := float64(m.Duration) / float64(time.Millisecond)
		durations = append(durations, ms)
		sum += ms
	}
	sort.Float64s(durations)

	summary.AvgDurationMs = sum / float64(len(durations))
	summary.P50DurationMs = Percentile(durations, 50)
	summary.P95DurationMs = Percentile(durations, 95)
	summary.P99DurationMs = Percentile(durations, 99)

	rated := c.filterNewest(tokenRateWindow, func(m RequestMetric) bool {
		return m.Success && m.CompletionTokens > 0
	})
	tokens, seconds := 0, 0.0
	for _, m := range rated {
		tokens += m.CompletionTokens
		seconds += m.Duration.Seconds()
	}
	if seconds > 0 {
		summary.TokensPerSecond = float64(tokens) / seconds
	}

	return summary
}

// Percentile returns the element at index ceil(p/100*n)-1 of an ascending slice, clamped to the slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// Reset drops every recorded metric and counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	c.next = 0
	c.count = 0
	c.total = 0
	c.success = 0
	c.errors = make(map[ErrorCategory]int)
	c.prompt = 0
	c.complete = 0
}
