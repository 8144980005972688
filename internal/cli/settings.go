package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/batching"
	"github.com/erg0nix/glance/internal/pipeline"
)

var settingValidators = map[string]func(string) error{
	pipeline.SettingCaptureInterval: func(v string) error {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			return errors.New("must be a positive number of seconds")
		}
		return nil
	},
	pipeline.SettingBatchingMode: func(v string) error {
		switch batching.Mode(strings.ToLower(v)) {
		case batching.ModeTime, batching.ModeEvent:
			return nil
		}
		return fmt.Errorf("must be %s or %s", batching.ModeTime, batching.ModeEvent)
	},
	pipeline.SettingAdaptiveChunking: func(v string) error {
		if _, err := strconv.ParseBool(v); err != nil {
			return errors.New("must be true or false")
		}
		return nil
	},
}

func newSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings [key] [value]",
		Short: "Show or change runtime settings read by the daemon each tick",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runSettingsCmd,
	}
}

func runSettingsCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	keys := []string{pipeline.SettingCaptureInterval, pipeline.SettingBatchingMode, pipeline.SettingAdaptiveChunking}
	if len(args) > 0 {
		if _, ok := settingValidators[args[0]]; !ok {
			return fmt.Errorf("unknown setting %q (known: %s)", args[0], strings.Join(keys, ", "))
		}
		keys = args[:1]
	}

	s, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	w := cmd.OutOrStdout()

	if len(args) == 2 {
		key, value := args[0], strings.TrimSpace(args[1])
		if err := settingValidators[key](value); err != nil {
			return fmt.Errorf("%s %w", key, err)
		}
		if err := s.SetSetting(cmd.Context(), key, value); err != nil {
			return err
		}
		fmt.Fprintln(w, styleSuccess.Render("set "+key)+" "+value)
		return nil
	}

	for _, key := range keys {
		value, ok, err := s.GetSetting(cmd.Context(), key)
		if err != nil {
			return err
		}
		if !ok {
			value = styleDim.Render("(config default)")
		}
		fmt.Fprintln(w, kvLine(key, value))
	}
	return nil
}
