// Package sorter orders snapshots by a table column.
package sorter

import (
	"sort"
	"strings"

	"gputop/internal/telemetry"
)

// Mode selects how cells are compared.
type Mode int

const (
	// ModeLexical compares the presented text of each cell, so "9.0"
	// ranks above "55.0" when sorting descending.
	ModeLexical Mode = iota

	// ModeNumeric compares the raw values of numeric columns. Name is
	// still compared as text.
	ModeNumeric
)

func (m Mode) String() string {
	if m == ModeNumeric {
		return "numeric"
	}
	return "lexical"
}

// State is the operator's current sort choice. It outlives snapshots and
// is applied to each new one.
type State struct {
	Column     telemetry.Column `json:"column"`
	Descending bool             `json:"descending"`
	Mode       Mode             `json:"mode"`
}

func Default() State {
	return State{
		Column:     telemetry.ColumnCPU,
		Descending: true, // Default: highest CPU first
	}
}

// Toggle flips the direction when col is already selected, otherwise
// selects col descending.
func (s *State) Toggle(col telemetry.Column) {
	if s.Column == col {
		s.Descending = !s.Descending
	} else {
		s.Column = col
		s.Descending = true
	}
}

func (s State) ColumnName() string {
	return s.Column.String()
}

// Sort returns a copy of snap ordered by s. Records are not modified and
// snap itself is left untouched. Ties keep their incoming order, which
// makes sorting an already sorted snapshot a no-op.
func Sort(snap telemetry.Snapshot, s State) telemetry.Snapshot {
	records := make([]telemetry.ProcessRecord, len(snap.Records))
	copy(records, snap.Records)
	out := telemetry.Snapshot{Taken: snap.Taken, Records: records}
	if !s.Column.Valid() {
		return out
	}

	numeric := s.Mode == ModeNumeric && s.Column != telemetry.ColumnName
	keys := make([]string, len(records))
	values := make([]float64, len(records))
	for i, r := range records {
		if numeric {
			values[i] = r.Value(s.Column)
		} else {
			keys[i] = r.Cell(s.Column)
		}
	}

	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		var c int
		if numeric {
			switch {
			case values[a] < values[b]:
				c = -1
			case values[a] > values[b]:
				c = 1
			}
		} else {
			c = strings.Compare(keys[a], keys[b])
		}
		if s.Descending {
			return c > 0
		}
		return c < 0
	})

	for i, j := range idx {
		out.Records[i] = snap.Records[j]
	}
	return out
}

// ByColumn sorts descending by the presented text of column col.
func ByColumn(snap telemetry.Snapshot, col int) telemetry.Snapshot {
	return Sort(snap, State{Column: telemetry.Column(col), Descending: true})
}
