package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/app"
	"github.com/erg0nix/glance/internal/config"
	"github.com/erg0nix/glance/internal/pipeline"
)

func newTickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one pipeline pass in this process",
		RunE:  runTickCmd,
	}

	cmd.Flags().Bool("json", false, "print the report as JSON")

	return cmd
}

func runTickCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	logger := a.Logger

	if err := config.EnsurePrompt(a.Config.PromptFile()); err != nil {
		logger.Warn("failed to write default prompt", "error", err)
	}

	services, err := app.NewServices(cmd.Context(), a.Config, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	report, err := services.Orchestrator.Tick(cmd.Context())
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	w := cmd.OutOrStdout()
	status := services.Snapshot()
	status.LastTick = &report

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	printReport(cmd, report)
	printMetrics(w, status.Metrics)
	return nil
}

func printReport(cmd *cobra.Command, report pipeline.Report) {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, styleSection.Render("tick")+" "+styleDim.Render(string(report.TickID)))
	fmt.Fprintln(w, kvLine("screenshots", fmt.Sprintf("%d (%d pending)", report.Screenshots, report.Pending)))
	fmt.Fprintln(w, kvLine("strategy", string(report.Strategy)))
	fmt.Fprintln(w, kvLine("batches", fmt.Sprintf("%d (%d failed)", report.Batches, report.FailedBatches)))
	fmt.Fprintln(w, kvLine("chunks", fmt.Sprintf("%d x %d (%d failed)", report.Chunks, report.ChunkSize, report.FailedChunks)))
	fmt.Fprintln(w, kvLine("observations", fmt.Sprintf("%d", report.Observations)))
	fmt.Fprintln(w, kvLine("duration", report.Duration.String()))
}
