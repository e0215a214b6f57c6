package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme holds every style the view uses. It is passed in explicitly;
// nothing in the package keeps global style state.
type Theme struct {
	Name string

	Title     lipgloss.Style
	Header    lipgloss.Style
	Border    lipgloss.Style
	Table     table.Styles
	SortedCol lipgloss.Style
	Keybind   lipgloss.Style
	Help      lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Confirm   lipgloss.Style
}

func Dark() Theme {
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("51"))
	ts.Cell = ts.Cell.Foreground(lipgloss.Color("252"))
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	return Theme{
		Name: "dark",
		Title: lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230")).
			Bold(true).
			Align(lipgloss.Center),
		Header:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Border:    lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")),
		Table:     ts,
		SortedCol: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true).Underline(true),
		Keybind:   lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		Confirm: lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("220")).
			Padding(0, 2),
	}
}

func Light() Theme {
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("250")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("24"))
	ts.Cell = ts.Cell.Foreground(lipgloss.Color("235"))
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("231")).
		Background(lipgloss.Color("25")).
		Bold(false)

	return Theme{
		Name: "light",
		Title: lipgloss.NewStyle().
			Background(lipgloss.Color("254")).
			Foreground(lipgloss.Color("16")).
			Bold(true).
			Align(lipgloss.Center),
		Header:    lipgloss.NewStyle().Foreground(lipgloss.Color("235")),
		Border:    lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("250")),
		Table:     ts,
		SortedCol: lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true).Underline(true),
		Keybind:   lipgloss.NewStyle().Foreground(lipgloss.Color("90")).Bold(true),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true),
		Confirm: lipgloss.NewStyle().
			Foreground(lipgloss.Color("130")).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("130")).
			Padding(0, 2),
	}
}

func ThemeByName(name string) (Theme, error) {
	switch strings.ToLower(name) {
	case "dark", "":
		return Dark(), nil
	case "light":
		return Light(), nil
	}
	return Theme{}, fmt.Errorf("unknown theme %q", name)
}

func (t Theme) toggled() Theme {
	if t.Name == "dark" {
		return Light()
	}
	return Dark()
}
