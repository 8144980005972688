package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erg0nix/glance/internal/core"
	"github.com/erg0nix/glance/internal/metrics"
)

func writeEvents(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n\n", line)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func TestStreamAccumulatesFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		writeEvents(w,
			": keep-alive",
			`data: {"choices":[{"delta":{"content":"{\"observations\""}}]}`,
			`data: {not json`,
			`event: ping`,
			`data: {"choices":[{"delta":{"content":":[]}"}}]}`,
			`data: {"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`,
			`data: [DONE]`,
			`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
		)
	}))
	defer srv.Close()

	collector := metrics.NewCollector(metrics.DefaultCapacity)
	client, _ := newTestClient(srv.URL, collector)

	var fragments []string
	resp, err := client.GenerateContentStream(context.Background(), Request{Prompt: "p"}, func(s string) {
		fragments = append(fragments, s)
	})
	require.NoError(t, err)

	assert.Equal(t, `{"observations":[]}`, resp.Text)
	assert.Equal(t, []string{`{"observations"`, `:[]}`}, fragments)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)

	recent := collector.Recent(0)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Success)
	assert.Equal(t, 3, recent[0].CompletionTokens)
}

func TestStreamGeminiShape(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		writeEvents(w,
			`data: {"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}`,
			`data: {"candidates":[{"content":{"parts":[{"text":"lo"}]}}],"usageMetadata":{"candidatesTokenCount":2}}`,
		)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Name = NameGemini
	cfg.BaseURL = srv.URL
	cfg.Model = "gemini-2.0-flash"

	resp, err := NewClient(cfg, nil, nil).GenerateContentStream(context.Background(), Request{Prompt: "p"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:streamGenerateContent", gotPath)
	assert.Equal(t, "alt=sse", gotQuery)
}

// stallingServer sends one fragment on streaming requests and then goes silent until the client
// disconnects. Non-streaming requests get a complete response.
func stallingServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)

		if stream, _ := payload["stream"].(bool); !stream {
			_, _ = w.Write([]byte(okBody))
			return
		}

		writeEvents(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestStreamIdleTimeout(t *testing.T) {
	srv := stallingServer(t)

	client, _ := newTestClient(srv.URL, nil)
	client.cfg.StreamIdleTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := client.stream(context.Background(), core.NewRequestID(), Request{Prompt: "p"}, nil)

	require.ErrorIs(t, err, ErrStreamIdle)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, metrics.CategoryTimeout, Categorize(err))
}

func TestIdleStreamFallsBackToNonStreaming(t *testing.T) {
	srv := stallingServer(t)

	collector := metrics.NewCollector(metrics.DefaultCapacity)
	client, _ := newTestClient(srv.URL, collector)
	client.cfg.StreamIdleTimeout = 50 * time.Millisecond

	var fragments []string
	resp, err := client.GenerateContentStream(context.Background(), Request{Prompt: "p"}, func(s string) {
		fragments = append(fragments, s)
	})
	require.NoError(t, err)

	assert.Equal(t, `{"observations":[]}`, resp.Text)
	assert.Equal(t, []string{"partial"}, fragments)
	assert.Len(t, collector.Recent(0), 1)
}

// silentServer never answers streaming requests until the client disconnects. Non-streaming
// requests get a complete response.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "text/event-stream" {
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestStreamBoundedBeforeHeaders(t *testing.T) {
	srv := silentServer(t)

	client, _ := newTestClient(srv.URL, nil)
	client.cfg.Timeout = 200 * time.Millisecond
	client.cfg.StreamIdleTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := client.stream(context.Background(), core.NewRequestID(), Request{Prompt: "p"}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, metrics.CategoryTimeout, Categorize(err))
}

func TestSilentStreamFallsBackToNonStreaming(t *testing.T) {
	srv := silentServer(t)

	collector := metrics.NewCollector(metrics.DefaultCapacity)
	client, _ := newTestClient(srv.URL, collector)
	client.cfg.Timeout = 200 * time.Millisecond

	start := time.Now()
	resp, err := client.GenerateContentStream(context.Background(), Request{Prompt: "p"}, nil)
	require.NoError(t, err)

	assert.Equal(t, `{"observations":[]}`, resp.Text)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, collector.Recent(0), 1)
	assert.True(t, collector.Recent(0)[0].Success)
}

func TestStreamTerminalErrorDoesNotFallBack(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL, nil)

	_, err := client.GenerateContentStream(context.Background(), Request{Prompt: "p"}, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, strings.Contains(err.Error(), "invalid api key"))
}
