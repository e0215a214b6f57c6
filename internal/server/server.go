// Package server exposes the process table over HTTP: a JSON snapshot, a
// server-sent event stream with one event per refresh, sort control and
// process termination.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"gputop/internal/control"
	"gputop/internal/logging"
	"gputop/internal/sorter"
	"gputop/internal/telemetry"
)

// Refresher is the refresh loop as seen by the handlers.
type Refresher interface {
	Current() telemetry.Snapshot
	Subscribe(fn func(telemetry.Snapshot)) (cancel func())
	Sort() sorter.State
	SetSort(sorter.State)
}

type Terminator interface {
	Terminate(ctx context.Context, pid int) control.Result
	Kill(ctx context.Context, pid int) control.Result
}

type Options struct {
	Refresher  Refresher
	Terminator Terminator
	Logger     *logging.Logger
}

type Server struct {
	e          *echo.Echo
	refresher  Refresher
	terminator Terminator
	log        *logging.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)

	s := &Server{
		e:          e,
		refresher:  opts.Refresher,
		terminator: opts.Terminator,
		log:        logger,
	}
	e.GET("/api/snapshot", s.snapshotHandler)
	e.GET("/api/snapshot/sse", s.snapshotSSEHandler)
	e.PUT("/api/sort", s.sortHandler)
	e.POST("/api/processes/:pid/terminate", s.terminateHandler)
	return s
}

func (s *Server) Handler() http.Handler { return s.e }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(map[string]any{"msg": "http server listening", "addr": addr})
		errCh <- s.e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type sortBody struct {
	Column     int    `json:"column"`
	Descending bool   `json:"descending"`
	Mode       string `json:"mode"`
}

type snapshotResponse struct {
	Taken     time.Time                 `json:"taken"`
	Sort      sortBody                  `json:"sort"`
	Processes []telemetry.ProcessRecord `json:"processes"`
}

type resultResponse struct {
	PID     int    `json:"pid"`
	Signal  string `json:"signal"`
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toSortBody(st sorter.State) sortBody {
	return sortBody{Column: int(st.Column), Descending: st.Descending, Mode: st.Mode.String()}
}

func (s *Server) response(snap telemetry.Snapshot) snapshotResponse {
	procs := snap.Records
	if procs == nil {
		procs = []telemetry.ProcessRecord{}
	}
	return snapshotResponse{
		Taken:     snap.Taken,
		Sort:      toSortBody(s.refresher.Sort()),
		Processes: procs,
	}
}

func (s *Server) snapshotHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.response(s.refresher.Current()))
}

func (s *Server) snapshotSSEHandler(c echo.Context) error {
	s.log.Debug(map[string]any{"msg": "sse client connected", "remote_addr": c.Request().RemoteAddr})

	// Latest snapshot wins; a slow client skips refreshes instead of
	// holding up the refresh loop.
	updates := make(chan telemetry.Snapshot, 1)
	unsubscribe := s.refresher.Subscribe(func(snap telemetry.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("Access-Control-Allow-Origin", "*")
	resp.WriteHeader(http.StatusOK)

	fmt.Fprintf(resp, "event: connected\ndata: gputop snapshot stream\n\n")
	resp.Flush()

	if err := s.writeEvent(resp, s.refresher.Current()); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug(map[string]any{"msg": "sse client disconnected", "remote_addr": c.Request().RemoteAddr})
			return nil
		case snap := <-updates:
			if err := s.writeEvent(resp, snap); err != nil {
				s.log.Debug(map[string]any{"msg": "sse write failed", "err": err.Error()})
				return nil
			}
		}
	}
}

func (s *Server) writeEvent(resp *echo.Response, snap telemetry.Snapshot) error {
	data, err := json.Marshal(s.response(snap))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: snapshot\ndata: %s\n\n", data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (s *Server) sortHandler(c echo.Context) error {
	var body sortBody
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
	}

	col := telemetry.Column(body.Column)
	if !col.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown column %d", body.Column)})
	}
	st := sorter.State{Column: col, Descending: body.Descending}
	switch body.Mode {
	case "", "lexical":
		st.Mode = sorter.ModeLexical
	case "numeric":
		st.Mode = sorter.ModeNumeric
	default:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown mode %q", body.Mode)})
	}

	s.refresher.SetSort(st)
	s.log.Info(map[string]any{"msg": "sort changed", "column": col.String(), "descending": st.Descending, "mode": st.Mode.String()})
	return c.JSON(http.StatusOK, toSortBody(st))
}

func (s *Server) terminateHandler(c echo.Context) error {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid pid %q", c.Param("pid"))})
	}
	force, _ := strconv.ParseBool(c.QueryParam("force"))

	ctx := c.Request().Context()
	var res control.Result
	if force {
		res = s.terminator.Kill(ctx, pid)
	} else {
		res = s.terminator.Terminate(ctx, pid)
	}

	fields := map[string]any{"msg": "signal sent", "pid": pid, "signal": res.Signal, "outcome": res.Outcome.String()}
	if err := res.Err(); err != nil {
		fields["msg"] = "signal failed"
		fields["err"] = err.Error()
		s.log.Warn(fields)
	} else {
		s.log.Info(fields)
	}

	return c.JSON(statusFor(res), resultResponse{
		PID:     res.PID,
		Signal:  res.Signal,
		Outcome: res.Outcome.String(),
		Message: res.Message(),
	})
}

func statusFor(res control.Result) int {
	switch res.Outcome {
	case control.OutcomeTerminated, control.OutcomeNotFound:
		return http.StatusOK
	case control.OutcomeAccessDenied:
		return http.StatusForbidden
	}
	if errors.Is(res.Cause, control.ErrInvalidPID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
