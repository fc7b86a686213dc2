package tui

import "github.com/charmbracelet/bubbles/key"

// Key bindings
type keyMap struct {
	Up           key.Binding
	Down         key.Binding
	Top          key.Binding
	Bottom       key.Binding
	PageUp       key.Binding
	PageDown     key.Binding
	FastUp       key.Binding
	FastDown     key.Binding
	Enter        key.Binding
	Escape       key.Binding
	ToggleOutput key.Binding
	ToggleWrap   key.Binding
	CopyPath     key.Binding
	History      key.Binding
	Refresh      key.Binding
	Suspend      key.Binding
	Quit         key.Binding
	Help         key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous job"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next job"),
	),
	Top: key.NewBinding(
		key.WithKeys("home"),
		key.WithHelp("home", "log top"),
	),
	Bottom: key.NewBinding(
		key.WithKeys("end"),
		key.WithHelp("end", "log bottom (follow)"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "scroll log up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "scroll log down"),
	),
	FastUp: key.NewBinding(
		key.WithKeys("shift+up", "ctrl+pgup"),
		key.WithHelp("shift+↑", "scroll log up 50"),
	),
	FastDown: key.NewBinding(
		key.WithKeys("shift+down", "ctrl+pgdown"),
		key.WithHelp("shift+↓", "scroll log down 50"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "open array"),
	),
	Escape: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back / clear"),
	),
	ToggleOutput: key.NewBinding(
		key.WithKeys("o"),
		key.WithHelp("o", "stdout/stderr"),
	),
	ToggleWrap: key.NewBinding(
		key.WithKeys("w"),
		key.WithHelp("w", "wrap"),
	),
	CopyPath: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "copy log path"),
	),
	History: key.NewBinding(
		key.WithKeys("H"),
		key.WithHelp("H", "history: all, job, off"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Suspend: key.NewBinding(
		key.WithKeys("ctrl+z"),
		key.WithHelp("ctrl+z", "suspend"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
}

// ShortHelp is shown in the status bar
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit, k.Up, k.Down, k.ToggleOutput, k.ToggleWrap, k.Enter}
}

// FullHelp is shown in the help overlay, one group per column
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter, k.Escape, k.Refresh},
		{k.PageUp, k.PageDown, k.FastUp, k.FastDown, k.Top, k.Bottom},
		{k.ToggleOutput, k.ToggleWrap, k.CopyPath, k.History},
		{k.Help, k.Quit, k.Suspend},
	}
}
