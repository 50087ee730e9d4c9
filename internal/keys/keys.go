// Package keys contains keybinding definitions.
package keys

import "github.com/charmbracelet/bubbles/key"

// ProgressKeyMap defines the keybindings of the progress display.
type ProgressKeyMap struct {
	// Hide stops the display. The ingest run keeps going.
	Hide key.Binding
}

// Progress is the default progress display keymap.
var Progress = ProgressKeyMap{
	Hide: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "hide progress"),
	),
}

// ShortHelp returns keybindings for the one-line help.
func (k ProgressKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Hide}
}

// FullHelp returns keybindings for the expanded help view.
func (k ProgressKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
