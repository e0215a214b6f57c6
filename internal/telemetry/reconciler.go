package telemetry

import (
	"context"
	"errors"
	"fmt"

	"gputop/internal/clock"
	"gputop/internal/gpuusage"
	"gputop/internal/hostproc"
)

// ErrHostUnavailable wraps failures to enumerate host processes at all.
var ErrHostUnavailable = errors.New("host process source unavailable")

type HostSource interface {
	List(ctx context.Context) ([]hostproc.Process, error)
}

// GPUSource maps pid to GPU usage. A missing pid means zero usage.
type GPUSource interface {
	Usage(ctx context.Context) map[int]gpuusage.Usage
}

// Reconciler joins host processes with GPU usage by pid.
type Reconciler struct {
	host  HostSource
	gpu   GPUSource
	clock clock.Clock
}

func NewReconciler(host HostSource, gpu GPUSource, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Reconciler{host: host, gpu: gpu, clock: clk}
}

// BuildSnapshot queries each source once and emits one record per host
// process, in host order. GPU trouble of any kind zeroes the GPU fields;
// only a host enumeration failure is returned.
func (r *Reconciler) BuildSnapshot(ctx context.Context) (Snapshot, error) {
	procs, err := r.host.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrHostUnavailable, err)
	}

	usage := r.gpuUsage(ctx)

	snap := Snapshot{
		Taken:   r.clock.Now(),
		Records: make([]ProcessRecord, 0, len(procs)),
	}
	for _, p := range procs {
		u := usage[p.PID]
		snap.Records = append(snap.Records, ProcessRecord{
			PID:           p.PID,
			Name:          p.Name,
			CPUPercent:    p.CPUPercent,
			MemoryPercent: p.MemoryPercent,
			GPUPercent:    u.GPUPercent,
			VRAMMegabytes: u.VRAMMegabytes,
		})
	}
	return snap, nil
}

func (r *Reconciler) gpuUsage(ctx context.Context) (usage map[int]gpuusage.Usage) {
	if r.gpu == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			usage = nil
		}
	}()
	return r.gpu.Usage(ctx)
}
