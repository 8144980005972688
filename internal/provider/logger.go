package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/erg0nix/glance/internal/core"
)

// RequestLogger appends provider traffic to a daily JSONL file. Image bytes are never written.
type RequestLogger struct {
	logDir       string
	logRequests  bool
	logResponses bool
	logger       *slog.Logger
}

type LogEntry struct {
	Timestamp  string `json:"timestamp"`
	RequestID  string `json:"request_id"`
	Type       string `json:"type"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	JSONMode   bool   `json:"json_mode,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	ImageCount int    `json:"image_count,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	ChunkTotal int    `json:"chunk_total,omitempty"`
	Text       string `json:"text,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

func NewRequestLogger(logDir string, logRequests, logResponses bool, logger *slog.Logger) *RequestLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &RequestLogger{
		logDir:       logDir,
		logRequests:  logRequests,
		logResponses: logResponses,
		logger:       logger,
	}
}

func (l *RequestLogger) LogRequest(requestID core.RequestID, cfg Config, req Request, attempt int, jsonMode bool) {
	if !l.logRequests {
		return
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  string(requestID),
		Type:       "request",
		Provider:   string(cfg.Name),
		Model:      cfg.Model,
		Attempt:    attempt,
		JSONMode:   jsonMode,
		Prompt:     req.Prompt,
		ImageCount: len(req.Images),
		ChunkIndex: req.ChunkIndex,
		ChunkTotal: req.ChunkTotal,
	}

	l.writeLog(entry)
	l.logger.Debug("provider request",
		"request_id", requestID,
		"attempt", attempt,
		"image_count", len(req.Images),
		"chunk", fmt.Sprintf("%d/%d", req.ChunkIndex, req.ChunkTotal))
}

func (l *RequestLogger) LogResponse(requestID core.RequestID, resp Response, duration time.Duration) {
	if !l.logResponses {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: string(requestID),
		Type:      "response",
		Text:      resp.Text,
		Usage:     resp.Usage,
		Duration:  duration.String(),
	}

	l.writeLog(entry)
}

func (l *RequestLogger) LogError(requestID core.RequestID, statusCode int, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  string(requestID),
		Type:       "error",
		StatusCode: statusCode,
		Error:      message,
	}

	l.writeLog(entry)
	l.logger.Error("provider request failed",
		"request_id", requestID,
		"status_code", statusCode,
		"error", message)
}

func (l *RequestLogger) writeLog(entry LogEntry) {
	if l.logDir == "" {
		return
	}

	_ = os.MkdirAll(l.logDir, 0o755)

	logFile := filepath.Join(l.logDir, fmt.Sprintf("provider_%s.jsonl", time.Now().Format("2006-01-02")))

	data, _ := json.Marshal(entry)
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = f.Write(data)
	_, _ = f.WriteString("\n")
}
