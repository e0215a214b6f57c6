package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/labstack/gommon/log"
)

const header = `{"ts":"${time_rfc3339_nano}","level":"${level}"}`

// Logger writes one JSON object per line. Callers pass the structured
// fields; ts and level are added by the header template.
type Logger struct {
	l *log.Logger
}

func NewJSONLogger(w io.Writer) *Logger {
	l := log.New("gputop")
	l.SetOutput(w)
	l.SetHeader(header)
	l.SetLevel(log.INFO)
	l.DisableColor()
	return &Logger{l: l}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewJSONLogger(io.Discard)
}

// SetLevel accepts debug, info, warn, error or off.
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.l.SetLevel(lvl)
	return nil
}

func ParseLevel(level string) (log.Lvl, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DEBUG, nil
	case "", "info":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	}
	return log.INFO, fmt.Errorf("unknown log level %q", level)
}

func (l *Logger) Debug(fields map[string]any) { l.l.Debugj(jsonFields(fields)) }
func (l *Logger) Info(fields map[string]any)  { l.l.Infoj(jsonFields(fields)) }
func (l *Logger) Warn(fields map[string]any)  { l.l.Warnj(jsonFields(fields)) }
func (l *Logger) Error(fields map[string]any) { l.l.Errorj(jsonFields(fields)) }

// The header template is spliced into the payload object, so an empty
// payload would leave a dangling comma.
func jsonFields(fields map[string]any) log.JSON {
	if len(fields) == 0 {
		return log.JSON{"msg": ""}
	}
	return log.JSON(fields)
}
