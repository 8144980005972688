package cli

import (
	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/app"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the glance daemon",
		RunE:  runServeCmd,
	}

	cmd.Flags().Bool("foreground", false, "run daemon in foreground")
	cmd.Flags().String("bind", "", "bind address (overrides config)")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	foreground, _ := cmd.Flags().GetBool("foreground")
	bindOverride, _ := cmd.Flags().GetString("bind")

	cfg := a.Config
	if bindOverride != "" {
		cfg.Bind = bindOverride
	}

	if foreground {
		return app.RunServer(cfg)
	}

	return startServer(cmd.OutOrStdout(), cfg, a.ConfigPath, false)
}
