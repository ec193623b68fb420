package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-triage/internal/theme"
)

// layout manages the header, content and status bar dimensions.
type layout struct {
	width  int
	height int
}

// contentHeight returns the rows left between header and status bar.
func (l layout) contentHeight() int {
	return max(l.height-2, 0)
}

// header renders the top bar with a title on the left and status on the right.
func (l layout) header(title, status string) string {
	left := theme.HeaderStyle.Render(title)
	right := theme.HeaderStyle.Align(lipgloss.Right).Render(status)
	return join(left, right, l.width, theme.HeaderStyle)
}

// statusBar renders the bottom bar with keyboard hints.
func (l layout) statusBar(hints string) string {
	return join(theme.StatusBarStyle.Render(hints), "", l.width, theme.StatusBarStyle)
}

func join(left, right string, width int, style lipgloss.Style) string {
	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

func (l layout) frame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
