package ui

import (
	"fmt"
	"strings"
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTitle())
	b.WriteString("\n")
	b.WriteString(m.theme.Header.Render(m.renderHeader()))
	b.WriteString("\n")
	b.WriteString(m.theme.Border.Render(m.table.View()))
	b.WriteString("\n")

	switch m.mode {
	case confirmTerminateMode:
		b.WriteString(m.renderConfirm("Terminate"))
	case confirmKillMode:
		b.WriteString(m.renderConfirm("Force kill"))
	default:
		b.WriteString(m.renderQuickHelp())
	}
	b.WriteString("\n")

	if m.statusText != "" {
		style := m.theme.Success
		if m.statusError {
			style = m.theme.Error
		}
		b.WriteString(style.Render(m.statusText))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderTitle() string {
	style := m.theme.Title
	if m.width > 0 {
		style = style.Width(m.width)
	}
	return style.Render("Task Manager")
}

func (m Model) renderHeader() string {
	direction := "↓"
	if !m.sort.Descending {
		direction = "↑"
	}
	parts := []string{
		fmt.Sprintf("Processes: %d", m.snap.Len()),
	}
	if m.memTotal > 0 {
		parts = append(parts, fmt.Sprintf("Mem: %.1f%% of %s",
			float64(m.memUsed)*100/float64(m.memTotal), formatBytes(m.memTotal)))
	}
	if m.backend != "" {
		parts = append(parts, "GPU: "+m.backend)
	}
	parts = append(parts, fmt.Sprintf("Sort: %s %s (%s)",
		m.theme.SortedCol.Render(m.sort.ColumnName()), direction, m.sort.Mode))
	return strings.Join(parts, " | ")
}

func (m Model) renderQuickHelp() string {
	return m.theme.Help.Render(fmt.Sprintf(
		"%s Sort  %s Text/numeric  %s Terminate  %s Kill  %s Theme  %s Quit",
		m.theme.Keybind.Render("[0-5]"),
		m.theme.Keybind.Render("[N]"),
		m.theme.Keybind.Render("[x]"),
		m.theme.Keybind.Render("[X]"),
		m.theme.Keybind.Render("[t]"),
		m.theme.Keybind.Render("[q]"),
	))
}

func (m Model) renderConfirm(action string) string {
	text := fmt.Sprintf("%s PID %d (%s)? [y/n]", action, m.selectedPID, m.selectedCmd)
	return m.theme.Confirm.Render(text)
}

func formatBytes(n uint64) string {
	const gib = 1 << 30
	if n >= gib {
		return fmt.Sprintf("%.1f GiB", float64(n)/gib)
	}
	return fmt.Sprintf("%d MiB", n>>20)
}
