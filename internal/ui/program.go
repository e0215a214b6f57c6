package ui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shirou/gopsutil/v4/mem"

	"gputop/internal/logging"
	"gputop/internal/telemetry"
)

// Refresher is the refresh loop as seen by the program.
type Refresher interface {
	Sorting
	Run(ctx context.Context) error
	Subscribe(fn func(telemetry.Snapshot)) (cancel func())
}

type ProgramOptions struct {
	Refresher  Refresher
	Terminator Terminator
	Theme      Theme
	Backend    string
	Logger     *logging.Logger
}

// Run shows the table until the operator quits, ctx is cancelled or the
// refresh loop gives up.
func Run(ctx context.Context, opts ProgramOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(Options{
		Theme:      opts.Theme,
		Sorting:    opts.Refresher,
		Terminator: opts.Terminator,
		Backend:    opts.Backend,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := opts.Refresher.Subscribe(func(snap telemetry.Snapshot) {
		msg := snapshotMsg{snap: snap}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			msg.memUsed = vm.Used
			msg.memTotal = vm.Total
		}
		p.Send(msg)
	})
	defer unsubscribe()

	loopErr := make(chan error, 1)
	go func() {
		err := opts.Refresher.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(map[string]any{"msg": "refresh loop stopped", "err": err.Error()})
			loopErr <- err
			p.Quit()
			return
		}
		loopErr <- nil
	}()

	_, err := p.Run()
	cancel()
	runErr := <-loopErr

	if runErr != nil {
		return fmt.Errorf("refresh: %w", runErr)
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}
