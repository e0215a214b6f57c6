// Package gpuusage turns per-device GPU samples into a per-pid usage
// table. It never fails: any backend problem yields an empty table.
package gpuusage

import (
	"context"
	"fmt"
	"sync"

	"gputop/internal/logging"
	"gputop/internal/sampling"
)

// DefaultUnitScale divides the driver's raw usage unit to get a percent.
const DefaultUnitScale = 10.0

const bytesPerMegabyte = 1024 * 1024

type Usage struct {
	GPUPercent    float64
	VRAMMegabytes int64
}

type Source struct {
	sampler   sampling.Sampler
	unitScale float64
	log       *logging.Logger

	mu      sync.Mutex
	lastErr string
}

func New(sampler sampling.Sampler, unitScale float64, logger *logging.Logger) *Source {
	if unitScale <= 0 {
		unitScale = DefaultUnitScale
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Source{sampler: sampler, unitScale: unitScale, log: logger}
}

func (s *Source) Name() string { return s.sampler.Name() }

func (s *Source) Close() error { return s.sampler.Close() }

// Usage samples every device and attributes usage to pids. A pid missing
// from the result has zero usage.
//
// VRAM is the device's total used memory, credited in full to every
// process running on it rather than split per process. A pid on several
// devices gets the sum over those devices for both fields.
func (s *Source) Usage(ctx context.Context) (out map[int]Usage) {
	out = map[int]Usage{}
	defer func() {
		if r := recover(); r != nil {
			s.report(fmt.Errorf("gpu sampler panic: %v", r))
			out = map[int]Usage{}
		}
	}()

	snap, err := s.sampler.Sample(ctx)
	if err != nil {
		s.report(err)
		return out
	}

	var deviceErrs []error
	for _, g := range snap.GPUs {
		if g.Err != nil {
			deviceErrs = append(deviceErrs, g.Err)
			continue
		}
		vram := int64(g.MemUsedBytes / bytesPerMegabyte)
		for _, p := range g.ComputeProcs {
			u := out[p.PID]
			u.GPUPercent += float64(p.Usage) / s.unitScale
			u.VRAMMegabytes += vram
			out[p.PID] = u
		}
	}
	if len(deviceErrs) > 0 {
		s.report(deviceErrs[0])
	} else {
		s.report(nil)
	}
	return out
}

// report logs an error only when it differs from the previous one, so a
// machine without a GPU logs once instead of every refresh.
func (s *Source) report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		if s.lastErr != "" {
			s.log.Info(map[string]any{"msg": "gpu sampling recovered", "sampler": s.sampler.Name()})
		}
		s.lastErr = ""
		return
	}
	if err.Error() == s.lastErr {
		return
	}
	s.lastErr = err.Error()
	s.log.Warn(map[string]any{"msg": "gpu sampling failed, reporting zero usage", "sampler": s.sampler.Name(), "error": err.Error()})
}
