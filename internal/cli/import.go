package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/erg0nix/glance/internal/core"
	"github.com/erg0nix/glance/internal/store"
)

const defaultImportPattern = "**/*.{png,jpg,jpeg,webp,PNG,JPG,JPEG,WEBP}"

type screenshotInserter interface {
	InsertScreenshot(ctx context.Context, shot core.Screenshot) (int64, error)
}

type importResult struct {
	Imported int
	Skipped  int
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Register image files in a directory as screenshots",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportCmd,
	}

	cmd.Flags().String("app", "", "app name recorded for every screenshot")
	cmd.Flags().String("title", "", "window title recorded for every screenshot")
	cmd.Flags().String("pattern", defaultImportPattern, "glob of files to import, relative to dir")

	return cmd
}

func runImportCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	appName, _ := cmd.Flags().GetString("app")
	title, _ := cmd.Flags().GetString("title")
	pattern, _ := cmd.Flags().GetString("pattern")

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	s, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := importScreenshots(cmd.Context(), s, dir, pattern, appName, title)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(),
		styleSuccess.Render(fmt.Sprintf("imported %d screenshots", result.Imported))+" "+
			styleDim.Render(fmt.Sprintf("%d already known", result.Skipped)))
	return nil
}

// importScreenshots registers every file below dir matching pattern, timestamped with its
// modification time.
func importScreenshots(ctx context.Context, s screenshotInserter, dir, pattern, appName, title string) (importResult, error) {
	var shots []core.Screenshot

	err := doublestar.GlobWalk(os.DirFS(dir), pattern, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		shots = append(shots, core.Screenshot{
			CapturedAt:    info.ModTime().Unix(),
			FilePath:      filepath.Join(dir, filepath.FromSlash(path)),
			FileSizeBytes: info.Size(),
			AppName:       appName,
			WindowTitle:   title,
		})
		return nil
	})
	if err != nil {
		return importResult{}, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.SliceStable(shots, func(i, j int) bool {
		if shots[i].CapturedAt != shots[j].CapturedAt {
			return shots[i].CapturedAt < shots[j].CapturedAt
		}
		return shots[i].FilePath < shots[j].FilePath
	})

	var result importResult
	for _, shot := range shots {
		_, err := s.InsertScreenshot(ctx, shot)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			result.Skipped++
		case err != nil:
			return result, err
		default:
			result.Imported++
		}
	}

	return result, nil
}
