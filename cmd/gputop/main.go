package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"gputop/internal/agent"
	"gputop/internal/config"
	"gputop/internal/control"
	"gputop/internal/gpuusage"
	"gputop/internal/hostproc"
	"gputop/internal/logging"
	nvmlwrap "gputop/internal/nvml"
	"gputop/internal/sampling"
	"gputop/internal/server"
	"gputop/internal/smi"
	"gputop/internal/sorter"
	"gputop/internal/telemetry"
	"gputop/internal/ui"
)

const usage = `usage: gputop [tui|dump|serve] [flags]

  tui    interactive process table (default)
  dump   print one snapshot and exit
  serve  JSON and server-sent events over HTTP
`

func main() {
	cmd, args := splitCommand(os.Args[1:])
	if cmd == "" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.FromEnvAndFlags("gputop "+cmd, args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "gputop: %v\n", err)
		os.Exit(2)
	}

	logger, closeLog, err := newLogger(cfg, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gputop: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(map[string]any{
		"msg":         "gputop starting",
		"command":     cmd,
		"sampler":     cfg.Sampler,
		"interval_ms": cfg.Interval.Milliseconds(),
	})

	switch cmd {
	case "tui":
		err = runTUI(ctx, cfg, logger)
	case "dump":
		err = runDump(ctx, cfg, logger, os.Stdout)
	case "serve":
		err = runServe(ctx, cfg, logger)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(map[string]any{"msg": "gputop exited with error", "command": cmd, "error": err.Error()})
		closeLog()
		if cmd == "tui" {
			fmt.Fprintf(os.Stderr, "gputop: %v\n", err)
		}
		os.Exit(1)
	}
}

// splitCommand picks the subcommand off args. Without one, or when the
// first argument is a flag, the TUI runs. An unknown word returns "".
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "tui", args
	}
	switch args[0] {
	case "tui", "dump", "serve":
		return args[0], args[1:]
	}
	return "", nil
}

// newLogger sends logs to the configured file, or to stderr for the
// headless commands. The TUI owns the terminal, so without a file its
// logs are dropped.
func newLogger(cfg config.Config, cmd string) (*logging.Logger, func(), error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	case cmd == "tui":
		w = io.Discard
	}

	logger := logging.NewJSONLogger(w)
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}

func newSampler(cfg config.Config) sampling.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "smi", "nvidia-smi":
		return smi.New(cfg.SMIPath)
	case "none":
		return sampling.None{}
	default:
		return nvmlwrap.New()
	}
}

func initialSort(cfg config.Config) sorter.State {
	st := sorter.State{
		Column:     telemetry.Column(cfg.SortColumn),
		Descending: !cfg.SortAscending,
	}
	if cfg.NumericSort {
		st.Mode = sorter.ModeNumeric
	}
	return st
}

type pipeline struct {
	agent      *agent.Agent
	reconciler *telemetry.Reconciler
	gpu        *gpuusage.Source
}

func newPipeline(cfg config.Config, logger *logging.Logger) *pipeline {
	gpu := gpuusage.New(newSampler(cfg), cfg.UnitScale, logger)
	rec := telemetry.NewReconciler(hostproc.New(), gpu, nil)

	logger.Info(map[string]any{"msg": "gpu sampler selected", "sampler": gpu.Name()})
	return &pipeline{
		agent: agent.New(agent.Options{
			Config:  cfg,
			Logger:  logger,
			Builder: rec,
			Sort:    initialSort(cfg),
		}),
		reconciler: rec,
		gpu:        gpu,
	}
}

func (p *pipeline) Close() error { return p.gpu.Close() }

func runTUI(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	theme, err := ui.ThemeByName(cfg.Theme)
	if err != nil {
		return err
	}
	p := newPipeline(cfg, logger)
	defer p.Close()

	return ui.Run(ctx, ui.ProgramOptions{
		Refresher:  p.agent,
		Terminator: control.New(),
		Theme:      theme,
		Backend:    p.gpu.Name(),
		Logger:     logger,
	})
}

func runServe(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	p := newPipeline(cfg, logger)
	defer p.Close()

	srv := server.New(server.Options{
		Refresher:  p.agent,
		Terminator: control.New(),
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() {
		err := p.agent.Run(ctx)
		// Without a refresh loop the server would serve a frozen table.
		cancel()
		loopErr <- err
	}()

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		cancel()
		<-loopErr
		return err
	}
	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runDump prints one snapshot. A first sample is taken and discarded so
// CPU percent covers one full interval instead of reading 0.
func runDump(ctx context.Context, cfg config.Config, logger *logging.Logger, out io.Writer) error {
	p := newPipeline(cfg, logger)
	defer p.Close()

	if _, err := p.reconciler.BuildSnapshot(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.Interval):
	}
	if err := p.agent.Tick(ctx); err != nil {
		return err
	}
	return writeSnapshot(out, cfg.Format, p.agent.Current())
}
