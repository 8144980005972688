package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/erg0nix/glance/internal/app"
	"github.com/erg0nix/glance/internal/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var (
		configPathFlag = flag.String("config", "", "path to config file (default ~/.glance/config.toml)")
		bindFlag       = flag.String("bind", "", "gRPC health bind address")
		dataDirFlag    = flag.String("data-dir", "", "base data dir (default ~/.glance)")
		providerFlag   = flag.String("provider", "", "provider name (openai or gemini)")
		modelFlag      = flag.String("model", "", "model name")
	)
	flag.Parse()

	configPath := *configPathFlag
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	daemonConfig, err := config.LoadOrCreate(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setIfNotEmpty := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}

	setIfNotEmpty(&daemonConfig.Bind, *bindFlag)
	setIfNotEmpty(&daemonConfig.DataDir, *dataDirFlag)
	setIfNotEmpty(&daemonConfig.Provider.Name, *providerFlag)
	setIfNotEmpty(&daemonConfig.Provider.Model, *modelFlag)

	daemonConfig.Provider = config.LoadProviderConfigFromEnv(daemonConfig.Provider)
	daemonConfig.Debug = config.LoadDebugConfigFromEnv(daemonConfig.Debug)

	if err := daemonConfig.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := app.RunServer(daemonConfig); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}
