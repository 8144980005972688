// Package cli implements the glance command line.
package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/app"
	"github.com/erg0nix/glance/internal/config"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "glance",
		Short:         "Turn captured screenshots into activity observations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	rootCmd.PersistentFlags().String("server", "", "daemon address (overrides bind)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTickCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newEventCmd())
	rootCmd.AddCommand(newBatchesCmd())
	rootCmd.AddCommand(newSettingsCmd())

	return rootCmd
}

func loadConfig(path string) (config.Config, error) {
	configPath := path
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return cfg, err
	}

	cfg.Provider = config.LoadProviderConfigFromEnv(cfg.Provider)
	cfg.Debug = config.LoadDebugConfigFromEnv(cfg.Debug)
	return cfg, nil
}

func resolveServer(override string, cfg config.Config) string {
	if override != "" {
		return override
	}
	return clientAddrFromBind(cfg.Bind)
}

func clientAddrFromBind(bind string) string {
	host, port, err := netSplitHostPort(bind)
	if err != nil || port == "" {
		return bind
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1:" + port
	}
	return bind
}

func netSplitHostPort(addr string) (string, string, error) {
	if strings.HasPrefix(addr, ":") {
		return "", strings.TrimPrefix(addr, ":"), nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", "", err
	}
	return host, port, nil
}

func alreadyRunning(cfg config.Config) bool {
	return app.ReadPID(cfg.PIDPath()) != 0
}

func printDaemonNotRunning(w io.Writer, addr string, err error) {
	hints := []string{"start with: " + styleCommand.Render("glance serve")}
	if err != nil {
		hints = append(hints, err.Error())
	}
	fmt.Fprintln(w, styledError("daemon is not running at "+addr, hints...))
}

func startServer(w io.Writer, cfg config.Config, configPath string, foreground bool) error {
	if alreadyRunning(cfg) {
		fmt.Fprintln(w, styleDim.Render("daemon already running at "+resolveServer("", cfg)))
		return nil
	}

	serverCmd := exec.Command(os.Args[0], "serve", "--foreground")
	if configPath != "" {
		serverCmd.Args = append(serverCmd.Args, "--config", configPath)
	}

	if foreground {
		serverCmd.Stdout = os.Stdout
		serverCmd.Stderr = os.Stderr
		return serverCmd.Run()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("start server: create data dir: %w", err)
	}

	logFile := filepath.Join(cfg.DataDir, "glanced.log")
	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("start server: open log: %w", err)
	}
	defer out.Close()

	serverCmd.Stdout = out
	serverCmd.Stderr = out

	if err := serverCmd.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	fmt.Fprintln(w,
		styleSuccess.Render("started daemon")+" "+
			stylePID.Render(fmt.Sprintf("pid %d", serverCmd.Process.Pid))+" "+
			styleDim.Render("log "+logFile))
	return nil
}
