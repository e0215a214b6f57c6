package nvmlwrap

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"gputop/internal/sampling"
)

// library is the part of NVML the sampler uses. systemLibrary forwards
// to the cgo bindings; tests substitute a fake.
type library interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (device, nvml.Return)
}

type device interface {
	GetUUID() (string, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)
	GetProcessUtilization(lastSeenTimestamp uint64) ([]nvml.ProcessUtilizationSample, nvml.Return)
}

type systemLibrary struct{}

func (systemLibrary) Init() nvml.Return                  { return nvml.Init() }
func (systemLibrary) Shutdown() nvml.Return              { return nvml.Shutdown() }
func (systemLibrary) DeviceGetCount() (int, nvml.Return) { return nvml.DeviceGetCount() }

func (systemLibrary) DeviceGetHandleByIndex(index int) (device, nvml.Return) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return dev, ret
}

// Client samples GPUs through NVML. The library is initialized at the
// start of every Sample and shut down before it returns, so no driver
// handle outlives a refresh and a driver reset between refreshes is
// picked up on the next one.
type Client struct {
	lib         library
	initialized bool

	// lastSeen holds the newest process utilization timestamp per device
	// UUID so each sample only reports activity since the previous one.
	lastSeen map[string]uint64
}

func New() *Client {
	return newClient(systemLibrary{})
}

func newClient(lib library) *Client {
	return &Client{lib: lib, lastSeen: map[string]uint64{}}
}

func (c *Client) Init() error {
	if c.initialized {
		return nil
	}
	ret := c.lib.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("nvml init failed: %s", nvml.ErrorString(ret))
	}
	c.initialized = true
	return nil
}

func (c *Client) Shutdown() {
	if !c.initialized {
		return
	}
	_ = c.lib.Shutdown()
	c.initialized = false
}

func (c *Client) Name() string { return "nvml" }

func (c *Client) Close() error {
	c.Shutdown()
	return nil
}

func (c *Client) Sample(ctx context.Context) (sampling.Snapshot, error) {
	if err := c.Init(); err != nil {
		return sampling.Snapshot{}, err
	}
	defer c.Shutdown()

	count, ret := c.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return sampling.Snapshot{}, fmt.Errorf("nvml device get count failed: %s", nvml.ErrorString(ret))
	}

	snap := sampling.Snapshot{GPUs: make([]sampling.GPUSnapshot, 0, count)}
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return sampling.Snapshot{}, err
		}
		snap.GPUs = append(snap.GPUs, c.sampleDevice(i))
	}
	return snap, nil
}

func (c *Client) sampleDevice(index int) sampling.GPUSnapshot {
	g := sampling.GPUSnapshot{Index: index}

	dev, ret := c.lib.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		g.Err = fmt.Errorf("nvml get handle index=%d failed: %s", index, nvml.ErrorString(ret))
		return g
	}

	procs, ret := dev.GetComputeRunningProcesses()
	if ret != nvml.SUCCESS {
		g.Err = fmt.Errorf("nvml compute processes index=%d failed: %s", index, nvml.ErrorString(ret))
		return g
	}
	memInfo, ret := dev.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		g.Err = fmt.Errorf("nvml memory info index=%d failed: %s", index, nvml.ErrorString(ret))
		return g
	}

	g.UUID, _ = dev.GetUUID()
	util, _ := dev.GetUtilizationRates()
	g.UtilGPU = util.Gpu
	g.MemUsedBytes = memInfo.Used
	g.MemTotalBytes = memInfo.Total

	usage := c.processUsage(dev, g.UUID)
	g.ComputeProcs = make([]sampling.GPUProcess, 0, len(procs))
	for _, p := range procs {
		g.ComputeProcs = append(g.ComputeProcs, sampling.GPUProcess{
			PID:       int(p.Pid),
			UsedBytes: p.UsedGpuMemory,
			Usage:     usage[p.Pid],
		})
	}
	return g
}

// processUsage returns the most recent SM utilization per pid. NVML
// answers NOT_FOUND when no process was active since lastSeen, which
// just means zero usage.
func (c *Client) processUsage(dev device, uuid string) map[uint32]uint32 {
	samples, ret := dev.GetProcessUtilization(c.lastSeen[uuid])
	if ret != nvml.SUCCESS {
		return nil
	}
	latest := map[uint32]nvml.ProcessUtilizationSample{}
	for _, s := range samples {
		if prev, ok := latest[s.Pid]; !ok || s.TimeStamp >= prev.TimeStamp {
			latest[s.Pid] = s
		}
		if s.TimeStamp > c.lastSeen[uuid] {
			c.lastSeen[uuid] = s.TimeStamp
		}
	}
	out := make(map[uint32]uint32, len(latest))
	for pid, s := range latest {
		out[pid] = s.SmUtil
	}
	return out
}
