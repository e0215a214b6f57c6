package smi

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gputop/internal/sampling"
)

// Sampler reads GPU state by running nvidia-smi. It needs no cgo and no
// long-lived handle, so it is the fallback when NVML cannot be loaded.
type Sampler struct {
	BinaryPath string

	// run is swapped out in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

func New(binaryPath string) *Sampler {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "nvidia-smi"
	}
	s := &Sampler{BinaryPath: binaryPath}
	s.run = s.exec
	return s
}

func (s *Sampler) Name() string { return "nvidia-smi" }

func (s *Sampler) Close() error { return nil }

func (s *Sampler) Sample(ctx context.Context) (sampling.Snapshot, error) {
	gpus, err := s.queryGPUs(ctx)
	if err != nil {
		return sampling.Snapshot{}, err
	}

	byUUID := make(map[string]*sampling.GPUSnapshot, len(gpus))
	for i := range gpus {
		if gpus[i].UUID != "" {
			byUUID[gpus[i].UUID] = &gpus[i]
		}
	}

	procs, err := s.queryComputeProcs(ctx)
	if err != nil && !errors.Is(err, errNoResults) {
		return sampling.Snapshot{}, err
	}

	// pmon only enriches usage; without it every process reads as idle.
	usage, _ := s.queryProcessUsage(ctx)

	for _, p := range procs {
		gpu := byUUID[p.GPUUUID]
		if gpu == nil {
			continue
		}
		gpu.ComputeProcs = append(gpu.ComputeProcs, sampling.GPUProcess{
			PID:       p.PID,
			UsedBytes: p.UsedBytes,
			Usage:     usage[pmonKey{gpu: gpu.Index, pid: p.PID}],
		})
	}
	return sampling.Snapshot{GPUs: gpus}, nil
}

type procRow struct {
	GPUUUID   string
	PID       int
	UsedBytes uint64
}

type pmonKey struct {
	gpu int
	pid int
}

var errNoResults = errors.New("nvidia-smi no results")

func (s *Sampler) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(strings.ToLower(msg), "no running") {
			return nil, errNoResults
		}
		return nil, fmt.Errorf("%s %s: %w: %s", s.BinaryPath, args[0], err, msg)
	}
	return out, nil
}

const queryTimeout = 5 * time.Second

// query runs one --query-* request and returns its CSV rows.
func (s *Sampler) query(ctx context.Context, selector string) ([][]string, error) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out, err := s.run(qctx, selector, "--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}
	return readCSVLines(out), nil
}

func (s *Sampler) queryGPUs(ctx context.Context) ([]sampling.GPUSnapshot, error) {
	rows, err := s.query(ctx, "--query-gpu=index,uuid,utilization.gpu,memory.used,memory.total")
	if err != nil {
		return nil, err
	}

	gpus := make([]sampling.GPUSnapshot, 0, len(rows))
	for _, cols := range rows {
		if len(cols) < 5 {
			continue
		}
		idx, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}
		util, _ := strconv.ParseUint(cols[2], 10, 32)
		gpus = append(gpus, sampling.GPUSnapshot{
			Index:         idx,
			UUID:          cols[1],
			UtilGPU:       uint32(util),
			MemUsedBytes:  mebibytes(cols[3]),
			MemTotalBytes: mebibytes(cols[4]),
		})
	}
	return gpus, nil
}

// queryComputeProcs returns errNoResults when nothing runs on any GPU;
// some driver versions report that as a failure.
func (s *Sampler) queryComputeProcs(ctx context.Context) ([]procRow, error) {
	rows, err := s.query(ctx, "--query-compute-apps=gpu_uuid,pid,used_gpu_memory")
	if err != nil {
		return nil, err
	}

	procs := make([]procRow, 0, len(rows))
	for _, cols := range rows {
		if len(cols) < 3 {
			continue
		}
		pid, err := strconv.Atoi(cols[1])
		if err != nil {
			continue
		}
		procs = append(procs, procRow{GPUUUID: cols[0], PID: pid, UsedBytes: mebibytes(cols[2])})
	}
	return procs, nil
}

// mebibytes parses a nounits memory column, which nvidia-smi reports in
// MiB. "[N/A]" and other junk read as 0.
func mebibytes(col string) uint64 {
	n, err := strconv.ParseUint(col, 10, 64)
	if err != nil {
		return 0
	}
	return n << 20
}

func (s *Sampler) queryProcessUsage(ctx context.Context) (map[pmonKey]uint32, error) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out, err := s.run(qctx, "pmon", "-c", "1", "-s", "u")
	if err != nil {
		return nil, err
	}
	return parsePmon(out), nil
}

// parsePmon reads `nvidia-smi pmon -s u` output. Column positions come
// from the "# gpu pid ..." header because newer drivers add columns.
// A "-" in the sm column means no sample and is skipped.
func parsePmon(b []byte) map[pmonKey]uint32 {
	out := map[pmonKey]uint32{}
	gpuCol, pidCol, smCol := -1, -1, -1

	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if gpuCol >= 0 {
				continue
			}
			for i, name := range strings.Fields(strings.TrimPrefix(line, "#")) {
				switch strings.ToLower(name) {
				case "gpu":
					gpuCol = i
				case "pid":
					pidCol = i
				case "sm":
					smCol = i
				}
			}
			continue
		}
		if gpuCol < 0 || pidCol < 0 || smCol < 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) <= smCol || len(fields) <= pidCol || len(fields) <= gpuCol {
			continue
		}
		gpu, err := strconv.Atoi(fields[gpuCol])
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(fields[pidCol])
		if err != nil {
			continue
		}
		sm, err := strconv.ParseUint(fields[smCol], 10, 32)
		if err != nil {
			continue
		}
		out[pmonKey{gpu: gpu, pid: pid}] = uint32(sm)
	}
	return out
}

func readCSVLines(b []byte) [][]string {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	out := [][]string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		out = append(out, cols)
	}
	return out
}
