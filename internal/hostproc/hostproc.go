// Package hostproc enumerates live OS processes with their CPU and
// memory share.
package hostproc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// cached is a handle plus the create time of the process it was opened
// for. A pid whose create time changed belongs to a new process.
type cached struct {
	proc    *process.Process
	created int64
}

// handle is the part of *process.Process that read uses.
type handle interface {
	PercentWithContext(ctx context.Context, interval time.Duration) (float64, error)
	NameWithContext(ctx context.Context) (string, error)
	MemoryPercentWithContext(ctx context.Context) (float32, error)
}

type Process struct {
	PID           int
	Name          string
	CPUPercent    float64
	MemoryPercent float64
}

// Source lists processes through gopsutil. It keeps the gopsutil handle
// of every pid it has seen so CPU percent is measured against the
// previous List call; a pid seen for the first time reports 0.
type Source struct {
	mu    sync.Mutex
	cache map[int32]cached

	processes func(ctx context.Context) ([]*process.Process, error)
}

func New() *Source {
	return &Source{
		cache:     make(map[int32]cached),
		processes: process.ProcessesWithContext,
	}
}

// List returns every process alive at the time of the call, in the
// order the OS enumerated them. Processes that exit while being read are
// left out. The only error is failure to enumerate at all.
func (s *Source) List(ctx context.Context) ([]Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	procs, err := s.processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting processes: %w", err)
	}

	current := make(map[int32]bool, len(procs))
	out := make([]Process, 0, len(procs))
	for _, fresh := range procs {
		p, ok := s.handleFor(ctx, fresh)
		if !ok {
			continue
		}
		current[fresh.Pid] = true
		rec, ok := read(ctx, p.Pid, p)
		if !ok {
			continue
		}
		out = append(out, rec)
	}

	// Cleanup dead processes
	for pid := range s.cache {
		if !current[pid] {
			delete(s.cache, pid)
		}
	}
	return out, nil
}

// handleFor returns the cached handle for fresh's pid, replacing it when
// the pid now belongs to a different process. The old handle would carry
// the previous owner's name and CPU times.
func (s *Source) handleFor(ctx context.Context, fresh *process.Process) (*process.Process, bool) {
	created, err := fresh.CreateTimeWithContext(ctx)
	if err != nil {
		if gone(err) {
			return nil, false
		}
		created = 0
	}

	c, ok := s.cache[fresh.Pid]
	if ok && (created == 0 || c.created == created) {
		return c.proc, true
	}
	s.cache[fresh.Pid] = cached{proc: fresh, created: created}
	return fresh, true
}

func read(ctx context.Context, pid int32, p handle) (Process, bool) {
	// Percent(0) calculates based on the last call on the same handle.
	cpuPct, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		if gone(err) {
			return Process{}, false
		}
		cpuPct = 0
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		if gone(err) {
			return Process{}, false
		}
		name = ""
	}

	memPct, err := p.MemoryPercentWithContext(ctx)
	if err != nil {
		if gone(err) {
			return Process{}, false
		}
		memPct = 0
	}

	return Process{
		PID:           int(pid),
		Name:          name,
		CPUPercent:    cpuPct,
		MemoryPercent: float64(memPct),
	}, true
}

// gone reports whether err means the process exited.
func gone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ESRCH)
}
