package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/erg0nix/glance/internal/chunking"
	"github.com/erg0nix/glance/internal/metrics"
	"github.com/erg0nix/glance/internal/pipeline"
)

// Status is the daemon state published to status.json after every tick.
type Status struct {
	PID        int              `json:"pid"`
	Bind       string           `json:"bind"`
	StartedAt  time.Time        `json:"started_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Provider   string           `json:"provider"`
	Model      string           `json:"model"`
	Adaptive   bool             `json:"adaptive"`
	ChunkSize  int              `json:"chunk_size"`
	Controller chunking.State   `json:"controller"`
	LastTick   *pipeline.Report `json:"last_tick,omitempty"`
	Metrics    metrics.Summary  `json:"metrics"`
}

// Snapshot captures the current throughput state of s.
func (s *Services) Snapshot() Status {
	cfg := s.Client.Config()

	return Status{
		PID:        os.Getpid(),
		UpdatedAt:  time.Now(),
		Provider:   string(cfg.Name),
		Model:      cfg.Model,
		Adaptive:   s.Controller.Enabled(),
		ChunkSize:  min(s.Controller.ChunkSize(), cfg.MaxScreenshotsPerRequest),
		Controller: s.Controller.State(),
		Metrics:    s.Metrics.Summary(),
	}
}

// WriteStatus replaces the file at path atomically so readers never see a partial document.
func WriteStatus(path string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write status: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*.json")
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

func ReadStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("parse status %s: %w", path, err)
	}
	return status, nil
}
