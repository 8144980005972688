package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erg0nix/glance/internal/core"
)

const maxStreamLine = 4 * 1024 * 1024

// GenerateContentStream runs one logical call in streaming mode, passing each text fragment to
// onFragment as it arrives. Response headers must arrive within Timeout and events may not pause
// for longer than StreamIdleTimeout. A stream that fails either way falls back to the
// non-streaming path with retries, unless the failure is a terminal client error.
func (c *Client) GenerateContentStream(ctx context.Context, req Request, onFragment func(string)) (Response, error) {
	requestID := core.NewRequestID()
	start := time.Now()

	resp, err := c.stream(ctx, requestID, req, onFragment)
	if err != nil && c.shouldFallback(ctx, err) {
		c.logger.Warn("stream failed, falling back to non-streaming request",
			"request_id", requestID, "error", err)
		resp, err = c.generate(ctx, requestID, req)
	}

	c.record(req, start, resp, err)
	return resp, err
}

func (c *Client) shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Terminal() {
		return false
	}
	return true
}

func (c *Client) stream(ctx context.Context, requestID core.RequestID, req Request, onFragment func(string)) (Response, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jsonMode := true
	for {
		payload := c.buildPayload(req, jsonMode, true)
		if c.requestLogger != nil {
			c.requestLogger.LogRequest(requestID, c.cfg, req, 1, jsonMode)
		}

		started := time.Now()
		headerTimer := time.AfterFunc(c.cfg.Timeout, cancel)
		httpResp, outcome := c.send(streamCtx, c.streamHTTP, payload, true)
		if !headerTimer.Stop() {
			if httpResp != nil {
				httpResp.Body.Close()
			}
			err := fmt.Errorf("stream response headers not received within %s: %w", c.cfg.Timeout, context.DeadlineExceeded)
			if c.requestLogger != nil {
				c.requestLogger.LogError(requestID, outcome.StatusCode, err)
			}
			return Response{}, err
		}
		if httpResp == nil {
			d := classify(outcome, jsonMode)
			if c.requestLogger != nil {
				c.requestLogger.LogError(requestID, outcome.StatusCode, d.err)
			}
			if d.action == actionDisableJSONMode {
				jsonMode = false
				continue
			}
			return Response{}, d.err
		}

		resp, err := c.consume(streamCtx, cancel, httpResp.Body, onFragment)
		if err != nil {
			if c.requestLogger != nil {
				c.requestLogger.LogError(requestID, httpResp.StatusCode, err)
			}
			return Response{}, err
		}

		resp.RequestID = requestID
		if c.requestLogger != nil {
			c.requestLogger.LogResponse(requestID, resp, time.Since(started))
		}
		return resp, nil
	}
}

// consume reads server-sent events from body until the stream ends. A reader goroutine feeds lines
// to a channel; the consumer races each line against the idle timer, which restarts after every
// well-formed event.
func (c *Client) consume(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, onFragment func(string)) (Response, error) {
	defer body.Close()

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- scanner.Err()
	}()

	idle := time.NewTimer(c.cfg.StreamIdleTimeout)
	defer idle.Stop()

	var text strings.Builder
	var usage *Usage

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return Response{}, fmt.Errorf("read stream: %w", err)
				}
				return Response{Text: text.String(), Usage: usage}, nil
			}

			data, isData := strings.CutPrefix(strings.TrimSpace(line), "data:")
			if !isData {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return Response{Text: text.String(), Usage: usage}, nil
			}

			var event map[string]any
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			fragment, eventUsage := c.parseEvent(event)
			if eventUsage != nil {
				usage = eventUsage
			}
			if fragment != "" {
				text.WriteString(fragment)
				if onFragment != nil {
					onFragment(fragment)
				}
			}
			idle.Reset(c.cfg.StreamIdleTimeout)

		case <-idle.C:
			cancel()
			return Response{}, fmt.Errorf("%w after %s", ErrStreamIdle, c.cfg.StreamIdleTimeout)

		case <-ctx.Done():
			return Response{}, fmt.Errorf("request aborted: %w", ctx.Err())
		}
	}
}
