package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"gputop/internal/control"
	"gputop/internal/sorter"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.mode {
		case confirmTerminateMode, confirmKillMode:
			return m.handleConfirm(msg)
		}
		return m.handleNormalMode(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.memUsed = msg.memUsed
		m.memTotal = msg.memTotal
		m.updateTable()
		return m, nil

	case resultMsg:
		m.statusText = msg.result.Message()
		m.statusError = msg.result.Err() != nil
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Theme):
		m.theme = m.theme.toggled()
		m.table.SetStyles(m.theme.Table)
		return m, nil

	case key.Matches(msg, m.keys.Mode):
		state := m.sort
		if state.Mode == sorter.ModeNumeric {
			state.Mode = sorter.ModeLexical
		} else {
			state.Mode = sorter.ModeNumeric
		}
		return m.applySort(state)

	case key.Matches(msg, m.keys.Terminate):
		if pid := m.selectedRowPID(); pid > 0 {
			m.selectedPID = pid
			m.selectedCmd = m.table.SelectedRow()[1]
			m.mode = confirmTerminateMode
		}
		return m, nil

	case key.Matches(msg, m.keys.Kill):
		if pid := m.selectedRowPID(); pid > 0 {
			m.selectedPID = pid
			m.selectedCmd = m.table.SelectedRow()[1]
			m.mode = confirmKillMode
		}
		return m, nil
	}

	for col, binding := range m.keys.SortBy {
		if key.Matches(msg, binding) {
			state := m.sort
			state.Toggle(col)
			return m.applySort(state)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// applySort re-sorts locally right away and tells the refresh loop so
// later snapshots arrive in the same order. The loop publishes to this
// program, so the call has to run off the event loop.
func (m Model) applySort(state sorter.State) (tea.Model, tea.Cmd) {
	m.sort = state
	m.snap = sorter.Sort(m.snap, state)
	m.updateTable()

	if m.sorting == nil {
		return m, nil
	}
	sorting := m.sorting
	return m, func() tea.Msg {
		sorting.SetSort(state)
		return nil
	}
}

func (m Model) handleConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		force := m.mode == confirmKillMode
		m.mode = normalMode
		return m, m.signalCmd(m.selectedPID, force)

	case key.Matches(msg, m.keys.Cancel):
		m.mode = normalMode
		m.statusText = ""
		return m, nil
	}
	return m, nil
}

func (m Model) signalCmd(pid int, force bool) tea.Cmd {
	terminator := m.terminator
	if terminator == nil {
		return func() tea.Msg {
			return resultMsg{result: control.Result{PID: pid, Signal: "SIGTERM", Outcome: control.OutcomeFailed, Cause: fmt.Errorf("process control unavailable")}}
		}
	}
	return func() tea.Msg {
		ctx := context.Background()
		if force {
			return resultMsg{result: terminator.Kill(ctx, pid)}
		}
		return resultMsg{result: terminator.Terminate(ctx, pid)}
	}
}
