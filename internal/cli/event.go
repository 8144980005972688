package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/activity"
	"github.com/erg0nix/glance/internal/core"
)

func newEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event <app> [title]",
		Short: "Record a window switch event",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runEventCmd,
	}

	cmd.Flags().Int64("at", 0, "unix timestamp of the switch (default now)")

	return cmd
}

func runEventCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	event := core.WindowEvent{ToApp: args[0]}
	if len(args) > 1 {
		event.ToTitle = args[1]
	}
	event.Timestamp, _ = cmd.Flags().GetInt64("at")
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	s, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.InsertWindowEvent(cmd.Context(), event); err != nil {
		return err
	}

	classified := activity.Classify(event.ToApp, event.ToTitle)

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, styleSuccess.Render("recorded event")+" "+styleDim.Render(time.Unix(event.Timestamp, 0).Format(time.RFC3339)))
	fmt.Fprintln(w, kvLine("activity", string(classified.ActivityType)))
	if classified.Project != "" {
		fmt.Fprintln(w, kvLine("project", classified.Project))
	}
	if classified.File != "" {
		fmt.Fprintln(w, kvLine("file", classified.File))
	}
	if classified.Domain != "" {
		fmt.Fprintln(w, kvLine("domain", classified.Domain))
	}
	return nil
}
