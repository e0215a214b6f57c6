package telemetry

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Column identifies one field of a ProcessRecord in table order.
type Column int

const (
	ColumnPID Column = iota
	ColumnName
	ColumnCPU
	ColumnMemory
	ColumnGPU
	ColumnVRAM
)

// Columns lists every column in presentation order.
var Columns = []Column{ColumnPID, ColumnName, ColumnCPU, ColumnMemory, ColumnGPU, ColumnVRAM}

var columnTitles = [...]string{"PID", "Name", "CPU (%)", "Memory (%)", "GPU (%)", "VRAM (MB)"}

func (c Column) Valid() bool { return c >= ColumnPID && c <= ColumnVRAM }

func (c Column) String() string {
	if !c.Valid() {
		return "Column(" + strconv.Itoa(int(c)) + ")"
	}
	return columnTitles[c]
}

// ProcessRecord is one row of the process table. Percentages keep full
// precision; rounding happens only in Cell.
type ProcessRecord struct {
	PID           int     `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	GPUPercent    float64 `json:"gpu_percent"`
	VRAMMegabytes int64   `json:"vram_mb"`
}

// Cell returns the presented text of column c.
func (r ProcessRecord) Cell(c Column) string {
	switch c {
	case ColumnPID:
		return strconv.Itoa(r.PID)
	case ColumnName:
		return r.Name
	case ColumnCPU:
		return FormatPercent(r.CPUPercent)
	case ColumnMemory:
		return FormatPercent(r.MemoryPercent)
	case ColumnGPU:
		return FormatPercent(r.GPUPercent)
	case ColumnVRAM:
		return strconv.FormatInt(r.VRAMMegabytes, 10)
	}
	return ""
}

// Value returns the raw numeric value of column c. Name has none and
// returns 0.
func (r ProcessRecord) Value(c Column) float64 {
	switch c {
	case ColumnPID:
		return float64(r.PID)
	case ColumnCPU:
		return r.CPUPercent
	case ColumnMemory:
		return r.MemoryPercent
	case ColumnGPU:
		return r.GPUPercent
	case ColumnVRAM:
		return float64(r.VRAMMegabytes)
	}
	return 0
}

// Cells returns every presented cell in column order.
func (r ProcessRecord) Cells() []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = r.Cell(c)
	}
	return out
}

// FormatPercent rounds to two decimals and always keeps a fractional
// part, so 55 renders as "55.0" and 12.346 as "12.35".
func FormatPercent(v float64) string {
	s := strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Snapshot is the full process table from one refresh. It is never
// modified after construction; sorting returns a new Snapshot.
type Snapshot struct {
	Taken   time.Time       `json:"taken"`
	Records []ProcessRecord `json:"records"`
}

func (s Snapshot) Len() int { return len(s.Records) }

// Find returns the record for pid.
func (s Snapshot) Find(pid int) (ProcessRecord, bool) {
	for _, r := range s.Records {
		if r.PID == pid {
			return r, true
		}
	}
	return ProcessRecord{}, false
}
