package hostproc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

func TestListIncludesSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on procfs")
	}
	source := New()

	procs, err := source.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	self := os.Getpid()
	for _, p := range procs {
		if p.PID != self {
			continue
		}
		if p.Name == "" {
			t.Error("own process has empty name")
		}
		if p.CPUPercent < 0 || p.MemoryPercent < 0 {
			t.Errorf("own process = %+v, want non-negative percentages", p)
		}
		return
	}
	t.Fatalf("List did not include own pid %d", self)
}

func TestListCachesHandlesAcrossCalls(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on procfs")
	}
	source := New()
	if _, err := source.List(context.Background()); err != nil {
		t.Fatalf("List: %v", err)
	}
	first := source.cache[int32(os.Getpid())].proc
	if _, err := source.List(context.Background()); err != nil {
		t.Fatalf("List: %v", err)
	}
	if source.cache[int32(os.Getpid())].proc != first {
		t.Error("process handle was replaced between calls, CPU deltas would reset")
	}
}

func TestListOmitsExitedProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on procfs")
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	pid := int32(cmd.Process.Pid)
	handle, err := process.NewProcess(pid)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	source := New()
	source.processes = func(context.Context) ([]*process.Process, error) {
		self, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil, err
		}
		return []*process.Process{handle, self}, nil
	}

	procs, err := source.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, p := range procs {
		if p.PID == int(pid) {
			t.Fatalf("exited pid %d is listed", pid)
		}
	}
	if len(procs) != 1 {
		t.Errorf("List returned %d processes, want 1", len(procs))
	}
}

func TestListEnumerationFailure(t *testing.T) {
	source := New()
	source.processes = func(context.Context) ([]*process.Process, error) {
		return nil, errors.New("procfs not mounted")
	}
	if _, err := source.List(context.Background()); err == nil {
		t.Fatal("List succeeded, want error")
	}
}

func TestListReplacesHandleOfReusedPID(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("relies on procfs")
	}
	old := exec.Command("sleep", "30")
	if err := old.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	defer func() {
		_ = old.Process.Kill()
		_ = old.Wait()
	}()
	cur := exec.Command("cat")
	stdin, err := cur.StdinPipe()
	if err != nil {
		t.Fatalf("StdinPipe: %v", err)
	}
	if err := cur.Start(); err != nil {
		t.Skipf("cannot start cat: %v", err)
	}
	defer func() {
		_ = stdin.Close()
		_ = cur.Wait()
	}()

	// A handle that already read the old owner's name, now filed under
	// the pid of a different process.
	stale, err := process.NewProcess(int32(old.Process.Pid))
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	if name, err := stale.Name(); err != nil || name != "sleep" {
		t.Fatalf("Name() = %q, %v; want sleep", name, err)
	}
	created, err := stale.CreateTime()
	if err != nil {
		t.Fatalf("CreateTime: %v", err)
	}
	pid := int32(cur.Process.Pid)
	stale.Pid = pid

	source := New()
	source.cache[pid] = cached{proc: stale, created: created - 1000}
	source.processes = func(context.Context) ([]*process.Process, error) {
		fresh, err := process.NewProcess(pid)
		if err != nil {
			return nil, err
		}
		return []*process.Process{fresh}, nil
	}

	procs, err := source.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(procs) != 1 || procs[0].Name != "cat" {
		t.Fatalf("List() = %+v, want one process named cat", procs)
	}
	if source.cache[pid].proc == stale {
		t.Error("stale handle is still cached")
	}
	if procs[0].CPUPercent < 0 {
		t.Errorf("CPUPercent = %v, want >= 0", procs[0].CPUPercent)
	}
}

type fakeHandle struct {
	cpuErr  error
	nameErr error
	memErr  error
}

func (f fakeHandle) PercentWithContext(context.Context, time.Duration) (float64, error) {
	return 12.5, f.cpuErr
}

func (f fakeHandle) NameWithContext(context.Context) (string, error) {
	return "worker", f.nameErr
}

func (f fakeHandle) MemoryPercentWithContext(context.Context) (float32, error) {
	return 3, f.memErr
}

func TestReadKeepsProcessOnNonExitErrors(t *testing.T) {
	denied := errors.New("operation not permitted")
	tests := []struct {
		name string
		h    fakeHandle
		want Process
		keep bool
	}{
		{"all fields", fakeHandle{}, Process{PID: 7, Name: "worker", CPUPercent: 12.5, MemoryPercent: 3}, true},
		{"cpu denied", fakeHandle{cpuErr: denied}, Process{PID: 7, Name: "worker", MemoryPercent: 3}, true},
		{"name denied", fakeHandle{nameErr: denied}, Process{PID: 7, CPUPercent: 12.5, MemoryPercent: 3}, true},
		{"memory denied", fakeHandle{memErr: denied}, Process{PID: 7, Name: "worker", CPUPercent: 12.5}, true},
		{"exited during cpu read", fakeHandle{cpuErr: process.ErrorProcessNotRunning}, Process{}, false},
		{"exited during name read", fakeHandle{nameErr: syscall.ESRCH}, Process{}, false},
		{"exited during memory read", fakeHandle{memErr: os.ErrNotExist}, Process{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := read(context.Background(), 7, tt.h)
			if ok != tt.keep {
				t.Fatalf("read() kept = %v, want %v", ok, tt.keep)
			}
			if got != tt.want {
				t.Errorf("read() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
