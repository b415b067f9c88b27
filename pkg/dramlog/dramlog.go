// Package dramlog provides the structured, subsystem-gated logging used
// across the simulator's components. It mirrors a package-level singleton
// configured once at startup and consulted from every tick.
package dramlog

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level controls the minimum severity that reaches the sink.
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var levelNames = map[string]Level{
	"off":   LevelOff,
	"error": LevelError,
	"warn":  LevelWarn,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelTrace,
}

// FromString maps a CLI-friendly level name to a Level, defaulting to
// LevelInfo for unrecognized input.
func FromString(s string) Level {
	if lvl, ok := levelNames[s]; ok {
		return lvl
	}
	return LevelInfo
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelOff:
		return zerolog.Disabled
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelTrace:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

type logger struct {
	zl    zerolog.Logger
	level Level

	bankEnabled        bool
	rankEnabled        bool
	subchannelEnabled  bool
	controllerEnabled  bool
	mitigationEnabled  bool

	closer io.Closer
}

var global *logger

// Initialize sets up the global logger at the given level, writing to
// filename (if non-empty) or stderr otherwise. It mirrors the
// constructor shape of a file-or-stream backed logger, wrapping any file
// error for the caller.
func Initialize(level Level, filename string) error {
	var w io.Writer
	var closer io.Closer
	if filename != "" {
		f, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		w = f
		closer = f
	} else {
		w = os.Stderr
	}

	zl := zerolog.New(w).With().Timestamp().Logger().Level(level.zerolog())
	global = &logger{zl: zl, level: level, closer: closer}
	return nil
}

// Close releases the underlying log destination, if any.
func Close() error {
	if global == nil || global.closer == nil {
		return nil
	}
	return global.closer.Close()
}

func SetBankLogging(enabled bool)       { if global != nil { global.bankEnabled = enabled } }
func SetRankLogging(enabled bool)       { if global != nil { global.rankEnabled = enabled } }
func SetSubchannelLogging(enabled bool) { if global != nil { global.subchannelEnabled = enabled } }
func SetControllerLogging(enabled bool) { if global != nil { global.controllerEnabled = enabled } }
func SetMitigationLogging(enabled bool) { if global != nil { global.mitigationEnabled = enabled } }

func subsystemEnabled(subsystem string) bool {
	if global == nil {
		return false
	}
	switch subsystem {
	case "bank":
		return global.bankEnabled
	case "rank":
		return global.rankEnabled
	case "subchannel":
		return global.subchannelEnabled
	case "controller":
		return global.controllerEnabled
	case "mitigation":
		return global.mitigationEnabled
	default:
		return true
	}
}

func logf(subsystem string, level Level, format string, args ...interface{}) {
	if global == nil || !subsystemEnabled(subsystem) {
		return
	}
	var ev *zerolog.Event
	switch level {
	case LevelError:
		ev = global.zl.Error()
	case LevelWarn:
		ev = global.zl.Warn()
	case LevelDebug:
		ev = global.zl.Debug()
	case LevelTrace:
		ev = global.zl.Trace()
	default:
		ev = global.zl.Info()
	}
	ev.Str("subsystem", subsystem).Msgf(format, args...)
}

func LogBank(format string, args ...interface{})       { logf("bank", LevelDebug, format, args...) }
func LogRank(format string, args ...interface{})       { logf("rank", LevelDebug, format, args...) }
func LogSubchannel(format string, args ...interface{}) { logf("subchannel", LevelDebug, format, args...) }
func LogController(format string, args ...interface{}) { logf("controller", LevelDebug, format, args...) }
func LogMitigation(format string, args ...interface{}) { logf("mitigation", LevelDebug, format, args...) }

func LogInfo(format string, args ...interface{})  { logf("general", LevelInfo, format, args...) }
func LogError(format string, args ...interface{}) { logf("general", LevelError, format, args...) }
func LogDebug(format string, args ...interface{}) { logf("general", LevelDebug, format, args...) }

// Fatal logs a structured error event at Error level across every
// subsystem and terminates the process. Used only for programming
// errors: invalid state transitions, malformed configuration.
func Fatal(format string, args ...interface{}) {
	if global != nil {
		global.zl.Error().Str("subsystem", "fatal").Msgf(format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	}
	os.Exit(1)
}
