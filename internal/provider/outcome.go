package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Outcome is what one HTTP attempt produced: either a response (status, headers, body) or a
// transport error.
type Outcome struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Err        error
}

type action int

const (
	actionSuccess action = iota
	actionTerminal
	actionRetry
	actionDisableJSONMode
)

func (a action) String() string {
	switch a {
	case actionSuccess:
		return "success"
	case actionTerminal:
		return "terminal"
	case actionRetry:
		return "retry"
	case actionDisableJSONMode:
		return "disable_json_mode"
	default:
		return "unknown"
	}
}

type decision struct {
	action action
	// wait is the server-requested delay before the next attempt; zero means use backoff.
	wait time.Duration
	err  error
}

var now = time.Now

// classify decides what to do with one attempt's outcome.
func classify(o Outcome, jsonMode bool) decision {
	if o.Err != nil {
		return classifyTransport(o.Err)
	}

	if o.StatusCode >= 200 && o.StatusCode < 300 {
		return decision{action: actionSuccess}
	}

	apiErr := &APIError{StatusCode: o.StatusCode, Status: o.Status, Body: string(o.Body)}

	switch {
	case o.StatusCode == http.StatusBadRequest && jsonMode && rejectsJSONMode(o.Body):
		return decision{action: actionDisableJSONMode, err: apiErr}
	case o.StatusCode == http.StatusTooManyRequests:
		return decision{action: actionRetry, wait: retryAfter(o.Header, o.Body), err: apiErr}
	case o.StatusCode >= 500:
		return decision{action: actionRetry, err: apiErr}
	default:
		return decision{action: actionTerminal, err: apiErr}
	}
}

func classifyTransport(err error) decision {
	if errors.Is(err, context.Canceled) {
		return decision{action: actionTerminal, err: fmt.Errorf("request aborted: %w", err)}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return decision{action: actionRetry, err: fmt.Errorf("request timeout: %w", err)}
	}

	return decision{action: actionRetry, err: fmt.Errorf("network error: %w", err)}
}

var jsonModeHints = []string{"response_format", "responsemimetype", "response_mime_type", "json mode", "json_object"}

func rejectsJSONMode(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, hint := range jsonModeHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

var retryDelayPattern = regexp.MustCompile(`"retryDelay"\s*:\s*"?([0-9]+(?:\.[0-9]+)?)s?"?`)

// retryAfter extracts a server-requested wait from a Retry-After header (seconds or HTTP date) or a
// retryDelay field in the body. It returns zero when neither is present.
func retryAfter(header http.Header, body []byte) time.Duration {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return secondsToWait(secs)
		}
		if at, err := http.ParseTime(v); err == nil {
			return max(0, at.Sub(now()).Round(time.Millisecond))
		}
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err == nil {
		if secs, ok := findRetryDelay(payload); ok {
			return secondsToWait(secs)
		}
	}

	if m := retryDelayPattern.FindSubmatch(body); m != nil {
		if secs, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
			return secondsToWait(secs)
		}
	}

	return 0
}

func findRetryDelay(v any) (float64, bool) {
	switch node := v.(type) {
	case map[string]any:
		if raw, ok := node["retryDelay"]; ok {
			switch d := raw.(type) {
			case string:
				if secs, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(d), "s"), 64); err == nil {
					return secs, true
				}
			case float64:
				return d, true
			}
		}
		for _, child := range node {
			if secs, ok := findRetryDelay(child); ok {
				return secs, true
			}
		}
	case []any:
		for _, child := range node {
			if secs, ok := findRetryDelay(child); ok {
				return secs, true
			}
		}
	}
	return 0, false
}

func secondsToWait(secs float64) time.Duration {
	return time.Duration(math.Ceil(secs*1000)) * time.Millisecond
}
