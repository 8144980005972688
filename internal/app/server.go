package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/erg0nix/glance/internal/config"
	"github.com/erg0nix/glance/internal/pipeline"
)

// PipelineService is the health service name that reflects the outcome of the latest tick.
const PipelineService = "glance.pipeline"

const drainTimeout = 5 * time.Second

// NewLogger returns the text logger on stderr used by every entry point.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// RunServer starts the pipeline ticker and the gRPC health endpoint, and shuts both down on signal.
func RunServer(cfg config.Config) error {
	logger := NewLogger(cfg.Debug.LogLevel)
	slog.SetDefault(logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	if err := config.EnsurePrompt(cfg.PromptFile()); err != nil {
		logger.Warn("failed to write default prompt", "error", err)
	}

	services, err := NewServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	defer services.Close()

	listener, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", cfg.Bind, err)
	}

	pidFile := cfg.PIDPath()
	if err := writePIDFile(pidFile); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer os.Remove(pidFile)

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(PipelineService, healthpb.HealthCheckResponse_SERVING)

	publisher := &statusPublisher{
		path:      cfg.StatusPath(),
		bind:      cfg.Bind,
		startedAt: time.Now(),
		services:  services,
		health:    healthServer,
		logger:    logger,
	}
	publisher.publish(nil)
	services.Orchestrator.OnReport(func(report pipeline.Report) { publisher.publish(&report) })

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		services.Orchestrator.Run(ctx, tickInterval(cfg))
	}()

	logger.Info("server listening",
		"address", cfg.Bind,
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
		"interval", tickInterval(cfg))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("server: grpc: %w", err)
		}
	}

	cancel()
	healthServer.Shutdown()

	drained := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		<-pipelineDone
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout, forcing shutdown")
		grpcServer.Stop()
	}

	return runErr
}

// statusPublisher writes status.json and mirrors tick health into the gRPC health service.
type statusPublisher struct {
	mu        sync.Mutex
	path      string
	bind      string
	startedAt time.Time
	services  *Services
	health    *health.Server
	logger    *slog.Logger
	last      *pipeline.Report
}

func (p *statusPublisher) publish(report *pipeline.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if report != nil {
		p.last = report

		serving := healthpb.HealthCheckResponse_SERVING
		if report.Batches > 0 && report.FailedBatches == report.Batches {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		p.health.SetServingStatus(PipelineService, serving)
	}

	status := p.services.Snapshot()
	status.Bind = p.bind
	status.StartedAt = p.startedAt
	status.LastTick = p.last

	if err := WriteStatus(p.path, status); err != nil {
		p.logger.Warn("failed to write status file", "error", err)
	}
}
