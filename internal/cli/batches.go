package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newBatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches [id]",
		Short: "List stored batches, or show one batch with its observations",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBatchesCmd,
	}

	cmd.Flags().Int("limit", 20, "number of batches to list")

	return cmd
}

func runBatchesCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	s, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	w := cmd.OutOrStdout()

	if len(args) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		batches, err := s.ListBatches(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			fmt.Fprintln(w, styleDim.Render("no batches yet"))
			return nil
		}

		t := newTable("ID", "STATUS", "START", "SPAN", "SCREENSHOTS", "ERROR")
		for _, b := range batches {
			t.Row(
				strconv.FormatInt(b.ID, 10),
				batchStatusStyle(b.Status).Render(string(b.Status)),
				formatTs(b.StartTs),
				(time.Duration(b.EndTs-b.StartTs) * time.Second).String(),
				strconv.Itoa(b.ScreenshotCount),
				truncate(b.Error, 48))
		}
		fmt.Fprintln(w, t.Render())
		return nil
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid batch id %q", args[0])
	}

	batch, err := s.GetBatch(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, styleSection.Render(fmt.Sprintf("batch %d", batch.ID))+" "+
		batchStatusStyle(batch.Status).Render(string(batch.Status)))
	fmt.Fprintln(w, kvLine("window", formatTs(batch.StartTs)+" - "+formatTs(batch.EndTs)))
	if batch.Error != "" {
		fmt.Fprintln(w, kvLine("error", styleError.Render(batch.Error)))
	}

	observations, err := s.ListObservations(cmd.Context(), id)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	t := newTable("START", "END", "CONTEXT", "OBSERVATION")
	for _, o := range observations {
		t.Row(formatTs(o.StartTs), formatTs(o.EndTs), o.ContextType, truncate(o.Text, 80))
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

func formatTs(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
