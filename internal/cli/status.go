package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/erg0nix/glance/internal/app"
	"github.com/erg0nix/glance/internal/metrics"
)

type statusOutput struct {
	Address string          `json:"address"`
	Running bool            `json:"running"`
	Health  json.RawMessage `json:"health,omitempty"`
	Status  *app.Status     `json:"status,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and throughput",
		RunE:  runStatusCmd,
	}

	cmd.Flags().Bool("json", false, "print machine-readable output")

	return cmd
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()

	out := statusOutput{Address: a.ServerAddr}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()

	health, healthErr := app.CheckHealth(ctx, a.ServerAddr, app.PipelineService)
	if healthErr == nil {
		out.Running = true
		if out.Health, err = protojson.Marshal(health); err != nil {
			return fmt.Errorf("encode health: %w", err)
		}
	}

	if status, err := app.ReadStatus(a.Config.StatusPath()); err == nil {
		out.Status = &status
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	t := newTable("NAME", "STATUS", "PID", "ENDPOINT", "UPTIME")
	switch {
	case healthErr != nil:
		t.Row("glanced", styleError.Render("stopped"), "-", a.ServerAddr, "-")
	default:
		pid, uptime := "-", "-"
		if out.Status != nil {
			pid = strconv.Itoa(out.Status.PID)
			uptime = time.Since(out.Status.StartedAt).Round(time.Second).String()
		}
		state := styleSuccess.Render("running")
		if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			state = styleWarning.Render("degraded")
		}
		t.Row("glanced", state, pid, a.ServerAddr, uptime)
	}
	fmt.Fprintln(w, t.Render())

	if out.Status == nil {
		if healthErr != nil {
			printDaemonNotRunning(w, a.ServerAddr, healthErr)
		}
		return nil
	}

	printThroughput(w, *out.Status)
	return nil
}

func printThroughput(w io.Writer, status app.Status) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, styleSection.Render("throughput"))
	fmt.Fprintln(w, kvLine("provider", status.Provider+" "+styleDim.Render(status.Model)))
	fmt.Fprintln(w, kvLine("chunk size", fmt.Sprintf("%d (%s)", status.ChunkSize, adaptiveLabel(status))))
	if status.Adaptive {
		c := status.Controller
		fmt.Fprintln(w, kvLine("controller", fmt.Sprintf("slow %d, fast %d, cooldown %d",
			c.ConsecutiveSlow, c.ConsecutiveFast, c.CooldownRemaining)))
	}

	if tick := status.LastTick; tick != nil {
		fmt.Fprintln(w, kvLine("last tick", fmt.Sprintf("%s ago, %s",
			time.Since(tick.StartedAt).Round(time.Second), tick.Duration.Round(time.Millisecond))))
		fmt.Fprintln(w, kvLine("  batches", fmt.Sprintf("%d (%d failed, %d screenshots pending)",
			tick.Batches, tick.FailedBatches, tick.Pending)))
		fmt.Fprintln(w, kvLine("  chunks", fmt.Sprintf("%d (%d failed)", tick.Chunks, tick.FailedChunks)))
		fmt.Fprintln(w, kvLine("  observations", strconv.Itoa(tick.Observations)))
	}

	printMetrics(w, status.Metrics)
}

func printMetrics(w io.Writer, m metrics.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, styleSection.Render("requests"))
	fmt.Fprintln(w, kvLine("total", fmt.Sprintf("%d (%s ok, %s failed)",
		m.TotalRequests,
		styleSuccess.Render(strconv.Itoa(m.SuccessfulRequests)),
		styleError.Render(strconv.Itoa(m.FailedRequests)))))
	fmt.Fprintln(w, kvLine("latency", fmt.Sprintf("avg %.0fms  p50 %.0fms  p95 %.0fms  p99 %.0fms",
		m.AvgDurationMs, m.P50DurationMs, m.P95DurationMs, m.P99DurationMs)))
	fmt.Fprintln(w, kvLine("tokens", fmt.Sprintf("%d in, %d out, %.1f tok/s",
		m.TotalPromptTokens, m.TotalCompletionTokens, m.TokensPerSecond)))

	categories := make([]string, 0, len(m.ErrorsByCategory))
	for c := range m.ErrorsByCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintln(w, kvLine("  "+c, strconv.Itoa(m.ErrorsByCategory[metrics.ErrorCategory(c)])))
	}
}

func adaptiveLabel(status app.Status) string {
	if !status.Adaptive {
		return "static"
	}
	return "adaptive, " + string(status.Controller.Reason)
}
