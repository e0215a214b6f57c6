package ui

import (
	"github.com/charmbracelet/bubbles/key"

	"gputop/internal/telemetry"
)

// keyMap leaves the table's own navigation keys (j k g G b f u d) alone.
type keyMap struct {
	Quit      key.Binding
	Terminate key.Binding
	Kill      key.Binding
	Theme     key.Binding
	Mode      key.Binding
	Confirm   key.Binding
	Cancel    key.Binding
	SortBy    map[telemetry.Column]key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Terminate: key.NewBinding(key.WithKeys("x", "delete"), key.WithHelp("x", "terminate")),
		Kill:      key.NewBinding(key.WithKeys("X"), key.WithHelp("X", "force kill")),
		Theme:     key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "theme")),
		Mode:      key.NewBinding(key.WithKeys("N"), key.WithHelp("N", "numeric/text sort")),
		Confirm:   key.NewBinding(key.WithKeys("y", "Y", "enter")),
		Cancel:    key.NewBinding(key.WithKeys("n", "esc", "q")),
		SortBy: map[telemetry.Column]key.Binding{
			telemetry.ColumnPID:    key.NewBinding(key.WithKeys("0", "p"), key.WithHelp("0-5", "sort")),
			telemetry.ColumnName:   key.NewBinding(key.WithKeys("1", "n")),
			telemetry.ColumnCPU:    key.NewBinding(key.WithKeys("2", "c")),
			telemetry.ColumnMemory: key.NewBinding(key.WithKeys("3", "m")),
			telemetry.ColumnGPU:    key.NewBinding(key.WithKeys("4")),
			telemetry.ColumnVRAM:   key.NewBinding(key.WithKeys("5", "v")),
		},
	}
}
