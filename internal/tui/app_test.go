package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func press(t *testing.T, m tea.Model, msgs ...tea.Msg) Confirm {
	t.Helper()
	for _, msg := range msgs {
		m, _ = m.Update(msg)
	}
	c, ok := m.(Confirm)
	if !ok {
		t.Fatalf("unexpected model type %T", m)
	}
	return c
}

func TestConfirmDefaultsToKeep(t *testing.T) {
	c := press(t, NewConfirm([]string{"out/.gitlab-ci.yml"}), tea.KeyMsg{Type: tea.KeyEnter})
	if !c.Done() || c.Remove() {
		t.Fatalf("enter on the first choice must keep files: done=%v remove=%v", c.Done(), c.Remove())
	}
}

func TestConfirmSelectDelete(t *testing.T) {
	c := press(t, NewConfirm([]string{"a.yml"}),
		tea.KeyMsg{Type: tea.KeyDown},
		tea.KeyMsg{Type: tea.KeyEnter},
	)
	if !c.Remove() {
		t.Fatalf("selecting the second choice should confirm removal")
	}
	quick := press(t, NewConfirm([]string{"a.yml"}), tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	if !quick.Remove() {
		t.Fatalf("y should confirm removal")
	}
}

func TestConfirmCancelKeeps(t *testing.T) {
	for _, msg := range []tea.KeyMsg{
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyRunes, Runes: []rune("q")},
	} {
		c := press(t, NewConfirm([]string{"a.yml"}), tea.KeyMsg{Type: tea.KeyDown}, msg)
		if !c.Done() || c.Remove() {
			t.Fatalf("%s must cancel without removing", msg.String())
		}
	}
}

func TestConfirmViewListsPaths(t *testing.T) {
	view := NewConfirm([]string{"out/a.yml", "out/templates/b.yml"}).View()
	for _, want := range []string{"out/a.yml", "out/templates/b.yml", "Delete edited files too"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestRenderDiffKeepsText(t *testing.T) {
	diff := "--- a (on disk)\n+++ a (compiled)\n@@ -1 +1 @@\n-old\n+new\n"
	out := RenderDiff(diff)
	for _, want := range []string{"-old", "+new", "@@ -1 +1 @@"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered diff lost %q:\n%s", want, out)
		}
	}
	if RenderDiff("") != "" {
		t.Fatalf("empty diff should render empty")
	}
}
