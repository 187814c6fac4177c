package report

import (
	"log"

	"github.com/rollbar/rollbar-go"
)

// RollbarConfig holds the settings needed to initialise the Rollbar client.
type RollbarConfig struct {
	Token       string
	Environment string
	ServerHost  string
	CodeVersion string
}

// Rollbar forwards reports to Rollbar and mirrors them to a std logger.
type Rollbar struct {
	std *Std
}

var _ Reporter = (*Rollbar)(nil)

// NewRollbar configures the global Rollbar client and returns a reporter.
func NewRollbar(logger *log.Logger, conf RollbarConfig) *Rollbar {
	rollbar.SetToken(conf.Token)
	rollbar.SetEnvironment(conf.Environment)
	if conf.ServerHost != "" {
		rollbar.SetServerHost(conf.ServerHost)
	}
	if conf.CodeVersion != "" {
		rollbar.SetCodeVersion(conf.CodeVersion)
	}
	return &Rollbar{std: NewStd(logger)}
}

// Enable toggles delivery to Rollbar. Local logging is unaffected.
func (r *Rollbar) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close flushes queued items.
func (r *Rollbar) Close() {
	rollbar.Close()
}

// prepare converts args into the shape rollbar accepts: the message first,
// then at most one error and one map of extras.
func prepare(msg string, args []any) []any {
	out := make([]any, 0, len(args)+1)
	var extras map[string]any
	var err error
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			if err == nil {
				err = v
			}
		case map[string]any:
			if extras == nil {
				extras = make(map[string]any, len(v))
			}
			for k, val := range v {
				extras[k] = val
			}
		}
	}
	if err != nil {
		out = append(out, err)
		if extras == nil {
			extras = make(map[string]any, 1)
		}
		extras["message"] = msg
	} else {
		out = append(out, msg)
	}
	if extras != nil {
		out = append(out, extras)
	}
	return out
}

func (r *Rollbar) Info(msg string, args ...any) {
	rollbar.Info(prepare(msg, args)...)
	r.std.Info(msg, args...)
}

func (r *Rollbar) Warn(msg string, args ...any) {
	rollbar.Warning(prepare(msg, args)...)
	r.std.Warn(msg, args...)
}

func (r *Rollbar) Error(msg string, args ...any) {
	rollbar.Error(prepare(msg, args)...)
	r.std.Error(msg, args...)
}

func (r *Rollbar) Critical(msg string, args ...any) {
	rollbar.Critical(prepare(msg, args)...)
	r.std.Critical(msg, args...)
}
