package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gputop/internal/clock"
	"gputop/internal/config"
	"gputop/internal/logging"
	"gputop/internal/sorter"
	"gputop/internal/telemetry"
)

type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context) (telemetry.Snapshot, error)
}

type Options struct {
	Config  config.Config
	Logger  *logging.Logger
	Builder SnapshotBuilder
	Clock   clock.Clock
	Sort    sorter.State
}

// Agent refreshes the process table on a fixed interval. Each tick
// builds a new snapshot, applies the current sort and hands the result
// to every subscriber. The next tick is armed only after the previous
// one finished, so ticks never overlap.
type Agent struct {
	interval     time.Duration
	failureLimit int
	log          *logging.Logger
	builder      SnapshotBuilder
	clock        clock.Clock

	hostFailures int

	// publish serializes store-and-notify so subscribers see snapshots
	// in the order they became current.
	publish sync.Mutex

	mu      sync.Mutex
	current telemetry.Snapshot
	sort    sorter.State
	subs    map[int]func(telemetry.Snapshot)
	nextSub int
}

func New(opts Options) *Agent {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	limit := opts.Config.HostFailureLimit
	if limit < 1 {
		limit = 1
	}
	interval := opts.Config.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Agent{
		interval:     interval,
		failureLimit: limit,
		log:          logger,
		builder:      opts.Builder,
		clock:        clk,
		sort:         opts.Sort,
		subs:         map[int]func(telemetry.Snapshot){},
	}
}

// Run ticks until ctx is cancelled or the host process source has failed
// failureLimit times in a row.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info(map[string]any{"msg": "refresh loop started", "interval_ms": a.interval.Milliseconds()})

	for {
		if err := a.Tick(ctx); err != nil {
			if a.hostFailures >= a.failureLimit {
				a.log.Error(map[string]any{"msg": "giving up on host process source", "failures": a.hostFailures, "error": err.Error()})
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(a.interval):
		}
	}
}

// Tick runs one refresh cycle. A panic inside the cycle is logged and
// returned as an error; the previous snapshot stays current.
func (a *Agent) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
			a.log.Error(map[string]any{"msg": "tick failed", "error": err.Error()})
		}
	}()

	snap, err := a.builder.BuildSnapshot(ctx)
	if err != nil {
		if errors.Is(err, telemetry.ErrHostUnavailable) {
			a.hostFailures++
			// Only the first failure of a streak is logged.
			if a.hostFailures == 1 {
				a.log.Warn(map[string]any{"msg": "host process enumeration failed", "error": err.Error()})
			}
		} else if ctx.Err() == nil {
			a.log.Warn(map[string]any{"msg": "tick failed", "error": err.Error()})
		}
		return err
	}
	if a.hostFailures > 0 {
		a.log.Info(map[string]any{"msg": "host process enumeration recovered", "failures": a.hostFailures})
		a.hostFailures = 0
	}

	a.publish.Lock()
	defer a.publish.Unlock()

	a.mu.Lock()
	a.current = sorter.Sort(snap, a.sort)
	out := a.current
	subs := a.subscribersLocked()
	a.mu.Unlock()

	a.log.Debug(map[string]any{"msg": "snapshot published", "records": out.Len()})
	for _, fn := range subs {
		fn(out)
	}
	return nil
}

// Subscribe registers fn to receive every published snapshot. fn runs on
// the publishing goroutine, must not block for long and must not call
// SetSort. The returned func removes the subscription.
func (a *Agent) Subscribe(fn func(telemetry.Snapshot)) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}

// Current returns the most recent sorted snapshot.
func (a *Agent) Current() telemetry.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Agent) Sort() sorter.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sort
}

// SetSort changes the sort, re-sorts the current snapshot and publishes
// it without waiting for the next tick.
func (a *Agent) SetSort(s sorter.State) {
	a.publish.Lock()
	defer a.publish.Unlock()

	a.mu.Lock()
	a.sort = s
	a.current = sorter.Sort(a.current, s)
	out := a.current
	subs := a.subscribersLocked()
	a.mu.Unlock()

	for _, fn := range subs {
		fn(out)
	}
}

// ToggleSort applies sorter.State.Toggle for col.
func (a *Agent) ToggleSort(col telemetry.Column) sorter.State {
	s := a.Sort()
	s.Toggle(col)
	a.SetSort(s)
	return s
}

func (a *Agent) subscribersLocked() []func(telemetry.Snapshot) {
	out := make([]func(telemetry.Snapshot), 0, len(a.subs))
	for id := 0; id < a.nextSub; id++ {
		if fn, ok := a.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
