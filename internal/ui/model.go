// Package ui is the terminal front end: a bubbletea program showing the
// process table with sorting and a terminate action.
package ui

import (
	"context"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"gputop/internal/control"
	"gputop/internal/sorter"
	"gputop/internal/telemetry"
)

// Sorting is the part of the refresh loop the view drives.
type Sorting interface {
	Sort() sorter.State
	SetSort(sorter.State)
}

type Terminator interface {
	Terminate(ctx context.Context, pid int) control.Result
	Kill(ctx context.Context, pid int) control.Result
}

type Options struct {
	Theme      Theme
	Sorting    Sorting
	Terminator Terminator
	// Backend names the GPU sampler for the header.
	Backend string
}

// Messages

type snapshotMsg struct {
	snap     telemetry.Snapshot
	memUsed  uint64
	memTotal uint64
}

type resultMsg struct {
	result control.Result
}

type uiMode int

const (
	normalMode uiMode = iota
	confirmTerminateMode
	confirmKillMode
)

// columnWidths follows telemetry.Columns order.
var columnWidths = []int{8, 24, 9, 11, 9, 10}

type Model struct {
	table   table.Model
	snap    telemetry.Snapshot
	sort    sorter.State
	theme   Theme
	keys    keyMap
	backend string

	sorting    Sorting
	terminator Terminator

	memUsed  uint64
	memTotal uint64

	width  int
	height int

	mode        uiMode
	selectedPID int
	selectedCmd string

	statusText  string
	statusError bool
}

func New(opts Options) Model {
	theme := opts.Theme
	if theme.Name == "" {
		theme = Dark()
	}
	state := sorter.Default()
	if opts.Sorting != nil {
		state = opts.Sorting.Sort()
	}

	m := Model{
		sort:       state,
		theme:      theme,
		keys:       defaultKeys(),
		backend:    opts.Backend,
		sorting:    opts.Sorting,
		terminator: opts.Terminator,
	}
	m.table = table.New(
		table.WithColumns(m.columns()),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	m.table.SetStyles(theme.Table)
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) columns() []table.Column {
	cols := make([]table.Column, len(telemetry.Columns))
	for i, c := range telemetry.Columns {
		title := c.String()
		if c == m.sort.Column {
			if m.sort.Descending {
				title += " ↓"
			} else {
				title += " ↑"
			}
		}
		cols[i] = table.Column{Title: title, Width: columnWidths[i]}
	}
	return cols
}

// updateTable rebuilds the rows from the current snapshot and keeps the
// cursor on the same pid when it is still present.
func (m *Model) updateTable() {
	keep := m.selectedRowPID()

	rows := make([]table.Row, 0, m.snap.Len())
	cursor := 0
	for i, r := range m.snap.Records {
		rows = append(rows, table.Row(r.Cells()))
		if r.PID == keep {
			cursor = i
		}
	}
	m.table.SetColumns(m.columns())
	m.table.SetRows(rows)
	if len(rows) > 0 {
		m.table.SetCursor(cursor)
	}
}

func (m Model) selectedRowPID() int {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return 0
	}
	pid, err := strconv.Atoi(row[0])
	if err != nil {
		return 0
	}
	return pid
}
