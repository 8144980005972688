package pipeline

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/erg0nix/glance/internal/core"
	"github.com/erg0nix/glance/internal/provider"
)

// SplitChunks cuts screenshots into consecutive chunks of at most size elements, keeping order.
func SplitChunks(screenshots []core.Screenshot, size int) [][]core.Screenshot {
	if size < 1 {
		size = 1
	}

	chunks := make([][]core.Screenshot, 0, (len(screenshots)+size-1)/size)
	for start := 0; start < len(screenshots); start += size {
		end := min(start+size, len(screenshots))
		chunks = append(chunks, screenshots[start:end])
	}
	return chunks
}

// LoadImageFile reads a screenshot from disk. The MIME type comes from the file extension, or
// from the content when the extension is unknown.
func LoadImageFile(shot core.Screenshot) (provider.Image, error) {
	data, err := os.ReadFile(shot.FilePath)
	if err != nil {
		return provider.Image{}, fmt.Errorf("read screenshot %d: %w", shot.ID, err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(shot.FilePath)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return provider.Image{Data: data, MIMEType: mimeType}, nil
}

type promptVars struct {
	count      int
	startTs    int64
	endTs      int64
	chunkIndex int
	chunkTotal int
	activity   *core.ActivityContext
}

func renderPrompt(template string, vars promptVars) string {
	return strings.NewReplacer(
		"{{screenshot_count}}", strconv.Itoa(vars.count),
		"{{start}}", strconv.FormatInt(vars.startTs, 10),
		"{{end}}", strconv.FormatInt(vars.endTs, 10),
		"{{chunk_index}}", strconv.Itoa(vars.chunkIndex),
		"{{chunk_total}}", strconv.Itoa(vars.chunkTotal),
		"{{activity}}", describeActivity(vars.activity),
	).Replace(template)
}

func describeActivity(activity *core.ActivityContext) string {
	if activity == nil || activity.App == "" {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The foreground app was %s (%s)", activity.App, activity.ActivityType)
	if activity.Project != "" {
		fmt.Fprintf(&sb, ", project %s", activity.Project)
	}
	if activity.File != "" {
		fmt.Fprintf(&sb, ", file %s", activity.File)
	}
	if activity.Domain != "" {
		fmt.Fprintf(&sb, ", site %s", activity.Domain)
	}
	sb.WriteString(".")

	return sb.String()
}
