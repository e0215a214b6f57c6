package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gputop/internal/clock"
	"gputop/internal/config"
	"gputop/internal/logging"
	"gputop/internal/sorter"
	"gputop/internal/telemetry"
)

var epoch = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

// scriptedBuilder returns one step per call and repeats the last step.
type scriptedBuilder struct {
	mu    sync.Mutex
	steps []func() (telemetry.Snapshot, error)
	calls int
}

func (b *scriptedBuilder) BuildSnapshot(context.Context) (telemetry.Snapshot, error) {
	b.mu.Lock()
	i := b.calls
	if i >= len(b.steps) {
		i = len(b.steps) - 1
	}
	b.calls++
	step := b.steps[i]
	b.mu.Unlock()
	return step()
}

func snapshotOf(pids ...int) func() (telemetry.Snapshot, error) {
	return func() (telemetry.Snapshot, error) {
		s := telemetry.Snapshot{Taken: epoch}
		for _, pid := range pids {
			s.Records = append(s.Records, telemetry.ProcessRecord{PID: pid, Name: "p", CPUPercent: float64(pid)})
		}
		return s, nil
	}
}

func failHost() (telemetry.Snapshot, error) {
	return telemetry.Snapshot{}, errors.Join(telemetry.ErrHostUnavailable, errors.New("no procfs"))
}

func pidsOf(s telemetry.Snapshot) []int {
	out := make([]int, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.PID
	}
	return out
}

func newTestAgent(builder SnapshotBuilder, clk clock.Clock, logger *logging.Logger) *Agent {
	cfg := config.Default()
	return New(Options{
		Config:  cfg,
		Logger:  logger,
		Builder: builder,
		Clock:   clk,
		Sort:    sorter.State{Column: telemetry.ColumnPID, Descending: true, Mode: sorter.ModeNumeric},
	})
}

func receive(t *testing.T, ch <-chan telemetry.Snapshot) telemetry.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	panic("unreachable")
}

func TestTickPublishesSortedSnapshot(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){snapshotOf(1, 3, 2)}}
	a := newTestAgent(builder, clock.Fake(epoch), nil)

	var got []telemetry.Snapshot
	a.Subscribe(func(s telemetry.Snapshot) { got = append(got, s) })

	if err := a.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("subscriber called %d times, want 1", len(got))
	}
	if want := []int{3, 2, 1}; !equal(pidsOf(got[0]), want) {
		t.Errorf("published %v, want %v", pidsOf(got[0]), want)
	}
	if !equal(pidsOf(a.Current()), []int{3, 2, 1}) {
		t.Errorf("Current() = %v", pidsOf(a.Current()))
	}
}

func TestSortPersistsAcrossTicks(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){snapshotOf(5, 9, 7), snapshotOf(4, 8, 6)}}
	a := newTestAgent(builder, clock.Fake(epoch), nil)

	if err := a.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	a.SetSort(sorter.State{Column: telemetry.ColumnPID, Mode: sorter.ModeNumeric})
	if want := []int{5, 7, 9}; !equal(pidsOf(a.Current()), want) {
		t.Errorf("after SetSort Current() = %v, want %v", pidsOf(a.Current()), want)
	}

	if err := a.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if want := []int{4, 6, 8}; !equal(pidsOf(a.Current()), want) {
		t.Errorf("next tick Current() = %v, want %v", pidsOf(a.Current()), want)
	}
}

func TestToggleSortNotifiesSubscribers(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){snapshotOf(1, 2)}}
	a := newTestAgent(builder, clock.Fake(epoch), nil)
	if err := a.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var last telemetry.Snapshot
	cancel := a.Subscribe(func(s telemetry.Snapshot) { last = s })
	state := a.ToggleSort(telemetry.ColumnPID)
	if state.Descending {
		t.Error("ToggleSort on the current column should flip to ascending")
	}
	if !equal(pidsOf(last), []int{1, 2}) {
		t.Errorf("subscriber saw %v, want [1 2]", pidsOf(last))
	}

	cancel()
	last = telemetry.Snapshot{}
	a.ToggleSort(telemetry.ColumnPID)
	if last.Len() != 0 {
		t.Error("cancelled subscriber was still called")
	}
}

func TestSetSortDuringTickFanOutIsDeliveredLast(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){snapshotOf(1, 3, 2)}}
	a := newTestAgent(builder, clock.Fake(epoch), nil)

	var (
		mu       sync.Mutex
		seen     []telemetry.Snapshot
		first    = true
		entered  = make(chan struct{})
		release  = make(chan struct{})
		tickDone = make(chan struct{})
		sortDone = make(chan struct{})
	)
	a.Subscribe(func(s telemetry.Snapshot) {
		mu.Lock()
		block := first
		first = false
		mu.Unlock()
		if block {
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	go func() {
		defer close(tickDone)
		_ = a.Tick(context.Background())
	}()
	<-entered

	ascending := sorter.State{Column: telemetry.ColumnPID, Mode: sorter.ModeNumeric}
	go func() {
		defer close(sortDone)
		a.SetSort(ascending)
	}()

	// Give SetSort the chance to overtake the blocked fan-out.
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-tickDone
	<-sortDone

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("subscriber called %d times, want 2", len(seen))
	}
	if got := pidsOf(seen[1]); !equal(got, []int{1, 2, 3}) {
		t.Errorf("last delivered %v, want [1 2 3] in the new sort", got)
	}
	if !equal(pidsOf(a.Current()), pidsOf(seen[1])) {
		t.Errorf("Current() = %v, last delivered %v", pidsOf(a.Current()), pidsOf(seen[1]))
	}
}

func TestTickRecoversPanic(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){
		snapshotOf(1),
		func() (telemetry.Snapshot, error) { panic("driver reset") },
		snapshotOf(2),
	}}
	var logs bytes.Buffer
	a := newTestAgent(builder, clock.Fake(epoch), logging.NewJSONLogger(&logs))

	if err := a.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	if err := a.Tick(context.Background()); err == nil {
		t.Fatal("panicking Tick returned nil")
	}
	if !equal(pidsOf(a.Current()), []int{1}) {
		t.Errorf("Current() after failed tick = %v, want previous snapshot [1]", pidsOf(a.Current()))
	}
	if err := a.Tick(context.Background()); err != nil {
		t.Fatalf("third Tick: %v", err)
	}
	if !equal(pidsOf(a.Current()), []int{2}) {
		t.Errorf("Current() = %v, want [2]", pidsOf(a.Current()))
	}
	if !strings.Contains(logs.String(), "driver reset") {
		t.Error("panic was not logged")
	}
}

func TestRunTicksOnInterval(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){snapshotOf(1), snapshotOf(2), snapshotOf(3)}}
	fake := clock.Fake(epoch)
	a := newTestAgent(builder, fake, nil)

	ch := make(chan telemetry.Snapshot, 8)
	a.Subscribe(func(s telemetry.Snapshot) { ch <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	if got := receive(t, ch); !equal(pidsOf(got), []int{1}) {
		t.Errorf("first tick = %v, want [1]", pidsOf(got))
	}
	for _, want := range []int{2, 3} {
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
		if got := receive(t, ch); !equal(pidsOf(got), []int{want}) {
			t.Errorf("tick = %v, want [%d]", pidsOf(got), want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunGivesUpAfterHostFailures(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){failHost}}
	fake := clock.Fake(epoch)
	var logs bytes.Buffer
	a := newTestAgent(builder, fake, logging.NewJSONLogger(&logs))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	// Default limit is 3: the immediate tick plus two timed ones.
	for i := 0; i < 2; i++ {
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
	}

	select {
	case err := <-done:
		if !errors.Is(err, telemetry.ErrHostUnavailable) {
			t.Errorf("Run() = %v, want ErrHostUnavailable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not give up")
	}
	if n := strings.Count(logs.String(), "host process enumeration failed"); n != 1 {
		t.Errorf("failure logged %d times, want once", n)
	}
}

func TestHostFailureStreakResets(t *testing.T) {
	builder := &scriptedBuilder{steps: []func() (telemetry.Snapshot, error){failHost, failHost, snapshotOf(1), failHost}}
	a := newTestAgent(builder, clock.Fake(epoch), nil)

	for i := 0; i < 4; i++ {
		_ = a.Tick(context.Background())
	}
	if a.hostFailures != 1 {
		t.Errorf("hostFailures = %d, want 1 after a successful tick reset the streak", a.hostFailures)
	}
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
