package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/app"
	"github.com/erg0nix/glance/internal/config"
	"github.com/erg0nix/glance/internal/store"
)

// App is the per-invocation state shared by glance subcommands: the resolved config, the daemon
// address the client talks to, and a logger at the configured level.
type App struct {
	Config     config.Config
	ConfigPath string
	ServerAddr string
	Logger     *slog.Logger
}

func newApp(cmd *cobra.Command) (*App, error) {
	configPath, _ := cmd.Flags().GetString("config")
	serverOverride, _ := cmd.Flags().GetString("server")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		ServerAddr: resolveServer(serverOverride, cfg),
		Logger:     app.NewLogger(cfg.Debug.LogLevel),
	}, nil
}

// openStore opens the screenshot database named by the config. Callers close it.
func (a *App) openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(ctx, a.Config.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", a.Config.DatabasePath(), err)
	}
	return s, nil
}
