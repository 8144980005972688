// Package provider talks to OpenAI-compatible and Gemini endpoints with retry, rate-limit handling
// and idle-guarded streaming.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/erg0nix/glance/internal/core"
	"github.com/erg0nix/glance/internal/metrics"
)

type Image struct {
	Data     []byte
	MIMEType string
}

func (i Image) mimeType() string {
	if i.MIMEType == "" {
		return "image/jpeg"
	}
	return i.MIMEType
}

// Request is one logical generation call. ChunkIndex and ChunkTotal are 1-based and zero when the
// call is not part of a chunked batch.
type Request struct {
	Prompt     string
	Images     []Image
	ChunkIndex int
	ChunkTotal int
}

type Response struct {
	Text      string
	Usage     *Usage
	RequestID core.RequestID
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Recorder receives one metric per logical call.
type Recorder interface {
	RecordRequest(metrics.RequestMetric)
}

type Client struct {
	cfg           Config
	http          *http.Client
	streamHTTP    *http.Client
	recorder      Recorder
	requestLogger *RequestLogger
	logger        *slog.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, recorder Recorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	cfg = normalizeConfig(cfg)

	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.Timeout},
		streamHTTP: &http.Client{},
		recorder:   recorder,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// WithRequestLogger enables JSONL request/response logging.
func (c *Client) WithRequestLogger(l *RequestLogger) *Client {
	c.requestLogger = l
	return c
}

// WithSleep replaces the function used to wait between attempts.
func (c *Client) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

// GenerateContent runs one logical call with retry and returns the full response text.
func (c *Client) GenerateContent(ctx context.Context, req Request) (Response, error) {
	requestID := core.NewRequestID()
	start := time.Now()

	resp, err := c.generate(ctx, requestID, req)
	c.record(req, start, resp, err)

	return resp, err
}

func (c *Client) generate(ctx context.Context, requestID core.RequestID, req Request) (Response, error) {
	jsonMode := true
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; {
		payload := c.buildPayload(req, jsonMode, false)
		if c.requestLogger != nil {
			c.requestLogger.LogRequest(requestID, c.cfg, req, attempt, jsonMode)
		}

		started := time.Now()
		outcome := c.do(ctx, c.http, payload, false)
		d := classify(outcome, jsonMode)

		if d.action != actionSuccess && c.requestLogger != nil {
			c.requestLogger.LogError(requestID, outcome.StatusCode, d.err)
		}

		switch d.action {
		case actionSuccess:
			resp, err := c.decode(outcome.Body)
			if err != nil {
				return Response{}, fmt.Errorf("provider response parse failed (request_id=%s): %w", requestID, err)
			}
			resp.RequestID = requestID
			if c.requestLogger != nil {
				c.requestLogger.LogResponse(requestID, resp, time.Since(started))
			}
			return resp, nil

		case actionDisableJSONMode:
			c.logger.Info("provider rejected json mode, retrying without it",
				"request_id", requestID, "provider", c.cfg.Name)
			jsonMode = false
			continue

		case actionTerminal:
			return Response{}, d.err

		case actionRetry:
			lastErr = d.err
			if attempt == c.cfg.MaxAttempts {
				return Response{}, lastErr
			}

			wait := d.wait
			if wait <= 0 {
				wait = c.cfg.RetryBaseDelay * time.Duration(attempt)
			}

			c.logger.Warn("provider attempt failed, retrying",
				"request_id", requestID,
				"attempt", attempt,
				"wait", wait,
				"error", d.err)

			if err := c.sleep(ctx, wait); err != nil {
				return Response{}, fmt.Errorf("request aborted: %w", err)
			}
		}

		attempt++
	}

	return Response{}, lastErr
}

// do performs one HTTP attempt and reads the whole body.
func (c *Client) do(ctx context.Context, client *http.Client, payload map[string]any, stream bool) Outcome {
	httpResp, outcome := c.send(ctx, client, payload, stream)
	if httpResp == nil {
		return outcome
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Outcome{Err: err}
	}

	outcome.Body = body
	return outcome
}

// send issues the request. On a 2xx response it returns the open response for the caller to
// consume; otherwise the body is read into the outcome and the response is nil.
func (c *Client) send(ctx context.Context, client *http.Client, payload map[string]any, stream bool) (*http.Response, Outcome) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Outcome{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(stream), bytes.NewReader(body))
	if err != nil {
		return nil, Outcome{Err: fmt.Errorf("build request: %w", err)}
	}
	for k, v := range c.headers() {
		httpReq.Header.Set(k, v)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, Outcome{Err: err}
	}

	outcome := Outcome{StatusCode: httpResp.StatusCode, Status: httpResp.Status, Header: httpResp.Header}
	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return httpResp, outcome
	}

	defer httpResp.Body.Close()
	outcome.Body, _ = io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))

	return nil, outcome
}

func (c *Client) decode(body []byte) (Response, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return c.parsePayload(payload)
}

func (c *Client) record(req Request, start time.Time, resp Response, err error) {
	if c.recorder == nil {
		return
	}

	metric := metrics.RequestMetric{
		Timestamp:  start,
		Duration:   time.Since(start),
		Provider:   string(c.cfg.Name),
		Model:      c.cfg.Model,
		Success:    err == nil,
		ChunkIndex: req.ChunkIndex,
		ChunkTotal: req.ChunkTotal,
	}

	if err != nil {
		metric.ErrorCategory = Categorize(err)
	}
	if resp.Usage != nil {
		metric.PromptTokens = resp.Usage.PromptTokens
		metric.CompletionTokens = resp.Usage.CompletionTokens
	}

	c.recorder.RecordRequest(metric)
}

// Categorize maps a client error to a metrics category. Provider errors are categorized by status
// alone and transport errors by type, so URLs and body text cannot change the category.
func Categorize(err error) metrics.ErrorCategory {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return metrics.CategorizeError(&APIError{StatusCode: apiErr.StatusCode, Status: apiErr.Status})
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStreamIdle) {
		return metrics.CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return metrics.CategoryTimeout
		}
		return metrics.CategoryNetwork
	}

	return metrics.CategorizeError(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
