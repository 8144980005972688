package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/erg0nix/glance/internal/core"
)

var (
	colorPrimary = lipgloss.Color("#7C71F9")
	colorSuccess = lipgloss.Color("#34D399")
	colorError   = lipgloss.Color("#F87171")
	colorWarning = lipgloss.Color("#FBBF24")
	colorDim     = lipgloss.Color("#6B7280")
	colorAccent  = lipgloss.Color("#60A5FA")
)

var (
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)

	styleCommand     = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleSection     = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	styleKey         = lipgloss.NewStyle().Foreground(colorDim).Width(22)
	styleTableHeader = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	stylePID         = lipgloss.NewStyle().Foreground(colorAccent)
)

var batchStatusColors = map[core.BatchStatus]lipgloss.Color{
	core.BatchPending:    colorDim,
	core.BatchProcessing: colorWarning,
	core.BatchAnalyzed:   colorSuccess,
	core.BatchFailed:     colorError,
}

func batchStatusStyle(status core.BatchStatus) lipgloss.Style {
	if c, ok := batchStatusColors[status]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return styleDim
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Headers(headers...).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(true).
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleTableHeader
			}
			return lipgloss.NewStyle().PaddingRight(2)
		})
}

func kvLine(key, value string) string {
	return styleKey.Render(key) + value
}

func styledError(msg string, hints ...string) string {
	out := styleError.Render(msg)
	for _, h := range hints {
		out += "\n  " + styleDim.Render(h)
	}
	return out
}
