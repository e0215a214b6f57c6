package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gputop/internal/config"
	"gputop/internal/sampling"
	"gputop/internal/smi"
	"gputop/internal/sorter"
	"gputop/internal/telemetry"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		args     []string
		wantCmd  string
		wantArgs int
	}{
		{nil, "tui", 0},
		{[]string{"--theme", "light"}, "tui", 2},
		{[]string{"dump", "-o", "json"}, "dump", 2},
		{[]string{"serve"}, "serve", 0},
		{[]string{"frobnicate"}, "", 0},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.args)
		if cmd != tt.wantCmd || len(args) != tt.wantArgs {
			t.Errorf("splitCommand(%v) = %q, %v; want %q with %d args", tt.args, cmd, args, tt.wantCmd, tt.wantArgs)
		}
	}
}

func TestNewSampler(t *testing.T) {
	cfg := config.Default()

	cfg.Sampler = "none"
	if _, ok := newSampler(cfg).(sampling.None); !ok {
		t.Errorf("newSampler(none) = %T, want sampling.None", newSampler(cfg))
	}
	cfg.Sampler = "smi"
	if _, ok := newSampler(cfg).(*smi.Sampler); !ok {
		t.Errorf("newSampler(smi) = %T, want *smi.Sampler", newSampler(cfg))
	}
}

func TestInitialSort(t *testing.T) {
	cfg := config.Default()
	cfg.SortColumn = 5
	cfg.SortAscending = true
	cfg.NumericSort = true

	got := initialSort(cfg)
	want := sorter.State{Column: telemetry.ColumnVRAM, Descending: false, Mode: sorter.ModeNumeric}
	if got != want {
		t.Errorf("initialSort() = %+v, want %+v", got, want)
	}
}

func TestWriteSnapshot(t *testing.T) {
	snap := telemetry.Snapshot{Records: []telemetry.ProcessRecord{
		{PID: 2, Name: "trainer", CPUPercent: 20, MemoryPercent: 1, GPUPercent: 30, VRAMMegabytes: 512},
	}}

	var buf bytes.Buffer
	if err := writeSnapshot(&buf, "table", snap); err != nil {
		t.Fatalf("writeSnapshot(table): %v", err)
	}
	for _, want := range []string{"PID", "VRAM (MB)", "trainer", "30.0", "512"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("table output missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := writeSnapshot(&buf, "json", snap); err != nil {
		t.Fatalf("writeSnapshot(json): %v", err)
	}
	var got telemetry.Snapshot
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Records) != 1 || got.Records[0].VRAMMegabytes != 512 {
		t.Errorf("json records = %+v", got.Records)
	}
}
