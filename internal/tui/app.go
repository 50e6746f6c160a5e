// Package tui holds the terminal views: the confirmation prompt used before
// removing hand-edited artifacts, and the styles used for drift reports.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// choiceItem implements list.Item for the confirmation choices.
type choiceItem struct {
	title  string
	desc   string
	remove bool
}

func (i choiceItem) Title() string       { return i.title }
func (i choiceItem) Description() string { return i.desc }
func (i choiceItem) FilterValue() string { return i.title }

// Confirm asks whether hand-edited artifacts may be deleted. Keeping them is
// the default and the outcome of any cancellation.
type Confirm struct {
	paths   []string
	choices list.Model
	done    bool
	remove  bool
}

// NewConfirm builds the prompt for the given drifted artifact paths.
func NewConfirm(paths []string) Confirm {
	items := []list.Item{
		choiceItem{title: "Keep edited files", desc: "Only remove artifacts that still match their fingerprint"},
		choiceItem{title: "Delete edited files too", desc: "Manual changes in these files will be lost", remove: true},
	}
	choices := list.New(items, list.NewDefaultDelegate(), 72, 14)
	choices.Title = "Clean compiled output"
	choices.SetShowStatusBar(false)
	choices.SetFilteringEnabled(false)
	choices.SetShowHelp(false)
	return Confirm{paths: append([]string(nil), paths...), choices: choices}
}

// Init implements tea.Model.
func (c Confirm) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (c Confirm) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.choices.SetSize(msg.Width, max(6, msg.Height-len(c.paths)-6))
		return c, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			c.done = true
			c.remove = false
			return c, tea.Quit
		case "enter":
			if item, ok := c.choices.SelectedItem().(choiceItem); ok {
				c.remove = item.remove
			}
			c.done = true
			return c, tea.Quit
		case "y":
			c.done = true
			c.remove = true
			return c, tea.Quit
		case "n":
			c.done = true
			c.remove = false
			return c, tea.Quit
		}
	}
	var cmd tea.Cmd
	c.choices, cmd = c.choices.Update(msg)
	return c, cmd
}

// View implements tea.Model.
func (c Confirm) View() string {
	if c.done {
		return ""
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		Render(fmt.Sprintf("%d artifact(s) were edited by hand since they were compiled:", len(c.paths)))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(c.paths, "\n"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(header + "\n" + body)
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render("enter select · y delete · n/q keep")
	return lipgloss.JoinVertical(lipgloss.Left, box, c.choices.View(), footer)
}

// Done reports whether the user made a choice or cancelled.
func (c Confirm) Done() bool { return c.done }

// Remove reports whether the edited artifacts may be deleted.
func (c Confirm) Remove() bool { return c.done && c.remove }

// RunConfirm runs the prompt on the given terminal streams.
func RunConfirm(paths []string, in io.Reader, out io.Writer) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}
	program := tea.NewProgram(NewConfirm(paths), tea.WithInput(in), tea.WithOutput(out))
	final, err := program.Run()
	if err != nil {
		return false, fmt.Errorf("tui: confirmation: %w", err)
	}
	confirm, ok := final.(Confirm)
	return ok && confirm.Remove(), nil
}
