package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	hunkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// RenderDiff colours a unified diff line by line.
func RenderDiff(diff string) string {
	if diff == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSuffix(diff, "\n"), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = headerStyle.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunkStyle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = addedStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removedStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

// Badge renders a short status label. Known states get a colour.
func Badge(state string) string {
	label := "[" + strings.ToUpper(state) + "]"
	switch state {
	case "clean", "written", "unchanged":
		return addedStyle.Render(label)
	case "drifted", "failed", "orphaned":
		return removedStyle.Render(label)
	case "forced", "untracked", "dry-run":
		return hunkStyle.Render(label)
	default:
		return mutedStyle.Render(label)
	}
}

// Muted renders secondary text.
func Muted(text string) string {
	return mutedStyle.Render(text)
}
