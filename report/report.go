/*
Package report provides leveled reporting for operational events.

PURPOSE:
  The attendance engine must never swallow an error. Some failures are
  ordinary (a storage hiccup the user can retry) and some need a human
  (a late "present" mark whose delayed payment request was never created).
  Reporter gives both a place to go, with a severity attached.

LEVELS:
  Info:     Normal state changes (attendance applied, request created)
  Warn:     Expected rejections and conflicts
  Error:    Failures the caller can retry
  Critical: Failures that leave the system needing manual reconciliation

ARGUMENTS:
  Every method takes a message followed by optional args. An arg may be an
  error or a map[string]any of fields. Anything else is printed with %+v.

IMPLEMENTATIONS:
  Std:     Writes to a *log.Logger (default)
  Rollbar: Forwards to Rollbar and also writes to a *log.Logger
  Discard: Drops everything (tests)

SEE ALSO:
  - rollbar.go: Rollbar implementation
  - attendance/engine.go: Main consumer
*/
package report

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
)

// Fields is a set of structured key/value pairs attached to a report.
type Fields = map[string]any

// Reporter records operational events at a given severity.
type Reporter interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Critical(msg string, args ...any)
}

// =============================================================================
// STD REPORTER
// =============================================================================

// Std writes reports through a standard library logger.
type Std struct {
	logger *log.Logger
}

var _ Reporter = (*Std)(nil)

// NewStd creates a reporter writing to logger. A nil logger uses log.Default().
func NewStd(logger *log.Logger) *Std {
	if logger == nil {
		logger = log.Default()
	}
	return &Std{logger: logger}
}

func (s *Std) Info(msg string, args ...any)     { s.print("INFO", msg, args) }
func (s *Std) Warn(msg string, args ...any)     { s.print("WARN", msg, args) }
func (s *Std) Error(msg string, args ...any)    { s.print("ERROR", msg, args) }
func (s *Std) Critical(msg string, args ...any) { s.print("CRITICAL", msg, args) }

func (s *Std) print(level, msg string, args []any) {
	s.logger.Println(Format(level, msg, args))
}

// Format renders a report line: "[LEVEL] msg key=value ... err=...".
// Field keys are sorted so output is stable.
func Format(level, msg string, args []any) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(msg)

	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
		case error:
			b.WriteString(" err=")
			b.WriteString(v.Error())
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%v", k, v[k])
			}
		default:
			fmt.Fprintf(&b, " %+v", v)
		}
	}
	return b.String()
}

// =============================================================================
// DISCARD
// =============================================================================

type discard struct{}

func (discard) Info(string, ...any)     {}
func (discard) Warn(string, ...any)     {}
func (discard) Error(string, ...any)    {}
func (discard) Critical(string, ...any) {}

// Discard drops every report.
var Discard Reporter = discard{}

// NewWriter is a convenience for tests that want to inspect output.
func NewWriter(w io.Writer) *Std {
	return NewStd(log.New(w, "", 0))
}
