package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"gputop/internal/telemetry"
)

func writeSnapshot(w io.Writer, format string, snap telemetry.Snapshot) error {
	if strings.EqualFold(format, "json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		return nil
	}

	headers := make([]string, len(telemetry.Columns))
	for i, c := range telemetry.Columns {
		headers[i] = c.String()
	}
	rows := make([][]string, 0, snap.Len())
	for _, r := range snap.Records {
		rows = append(rows, r.Cells())
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}
