package sampling

// GPUProcess is one compute process seen on a device. Usage is the
// driver's raw per-process utilization unit; it is zero when the driver
// has no recent sample for the pid.
type GPUProcess struct {
	PID       int
	UsedBytes uint64
	Usage     uint32
}

type GPUSnapshot struct {
	Index         int
	UUID          string
	UtilGPU       uint32
	MemUsedBytes  uint64
	MemTotalBytes uint64
	ComputeProcs  []GPUProcess

	// Err is set when the device could not be queried. The other
	// devices in the snapshot are still valid.
	Err error
}

type Snapshot struct {
	GPUs []GPUSnapshot
}
