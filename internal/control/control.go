// Package control sends termination signals to processes and classifies
// what happened.
package control

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrInvalidPID   = errors.New("invalid pid")
)

type Outcome int

const (
	// OutcomeTerminated means the signal was delivered. The process may
	// still be running; it drops out of the table once it exits.
	OutcomeTerminated Outcome = iota
	// OutcomeNotFound means the process was already gone. Not an error.
	OutcomeNotFound
	OutcomeAccessDenied
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTerminated:
		return "terminated"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAccessDenied:
		return "access_denied"
	}
	return "failed"
}

type Result struct {
	PID     int
	Signal  string
	Outcome Outcome
	Cause   error
}

// Err is nil when the request succeeded or the process was already gone.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeTerminated, OutcomeNotFound:
		return nil
	case OutcomeAccessDenied:
		return fmt.Errorf("%w: unable to send %s to pid %d: %w", ErrAccessDenied, r.Signal, r.PID, r.Cause)
	}
	return fmt.Errorf("failed to send %s to pid %d: %w", r.Signal, r.PID, r.Cause)
}

// Message is the operator-facing description of the result.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeTerminated:
		return fmt.Sprintf("Sent %s to PID %d", r.Signal, r.PID)
	case OutcomeNotFound:
		return fmt.Sprintf("PID %d already exited", r.PID)
	case OutcomeAccessDenied:
		return "Access denied: Unable to terminate the process."
	}
	return fmt.Sprintf("Error: %v", r.Err())
}

type Controller struct {
	self   int
	signal func(ctx context.Context, pid int32, force bool) error
}

func New() *Controller {
	return &Controller{self: os.Getpid(), signal: sendSignal}
}

// Terminate asks pid to exit with SIGTERM and returns without waiting.
func (c *Controller) Terminate(ctx context.Context, pid int) Result {
	return c.send(ctx, pid, false)
}

// Kill sends SIGKILL.
func (c *Controller) Kill(ctx context.Context, pid int) Result {
	return c.send(ctx, pid, true)
}

func (c *Controller) send(ctx context.Context, pid int, force bool) Result {
	res := Result{PID: pid, Signal: "SIGTERM"}
	if force {
		res.Signal = "SIGKILL"
	}

	// pid 0 and negatives address process groups.
	if pid <= 0 {
		res.Outcome, res.Cause = OutcomeFailed, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
		return res
	}
	if pid == c.self {
		res.Outcome, res.Cause = OutcomeFailed, fmt.Errorf("%w: %d is this process", ErrInvalidPID, pid)
		return res
	}

	err := c.signal(ctx, int32(pid), force)
	res.Outcome, res.Cause = classify(err), err
	return res
}

func sendSignal(ctx context.Context, pid int32, force bool) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	if force {
		return p.KillWithContext(ctx)
	}
	return p.TerminateWithContext(ctx)
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeTerminated
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, errNoSuchProcess),
		errors.Is(err, os.ErrProcessDone):
		return OutcomeNotFound
	case errors.Is(err, errPermission), errors.Is(err, os.ErrPermission):
		return OutcomeAccessDenied
	}
	return OutcomeFailed
}
