package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config, prompt and database",
		RunE:  runInitCmd,
	}
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg := a.Config

	if err := config.EnsurePrompt(cfg.PromptFile()); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}

	s, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	configPath := a.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, kvLine("config", configPath))
	fmt.Fprintln(w, kvLine("prompt", cfg.PromptFile()))
	fmt.Fprintln(w, kvLine("database", cfg.DatabasePath()))
	if cfg.Provider.APIKey == "" {
		fmt.Fprintln(w, styleWarning.Render("no API key configured")+" "+
			styleDim.Render("set provider.api_key or GLANCE_API_KEY"))
	}
	return nil
}
