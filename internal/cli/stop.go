package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/app"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the glance daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			pid, err := app.StopDaemon(a.Config.PIDPath())
			if errors.Is(err, app.ErrNotRunning) {
				fmt.Fprintln(w, styleDim.Render("glance daemon not running"))
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(w, styleSuccess.Render("stopped glance daemon")+" "+stylePID.Render(fmt.Sprintf("pid %d", pid)))
			return nil
		},
	}
}
