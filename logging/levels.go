// Package logging provides the service's structured logging setup on top
// of log/slog: the integer verbosity table used by the administrative
// surface, console handler construction, and the bridge that fans log
// records out to clients holding the "logs" permission.
package logging

import (
	"log/slog"
)

// Extended slog levels. slog reserves -4..8 for Debug..Error; trace and
// critical sit outside that range, and LevelOff is above every level the
// service ever emits.
const (
	LevelTrace    = slog.Level(-8)
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelWarn     = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
	LevelOff      = slog.Level(16)
)

// VerbosityLevel maps an administrative verbosity integer to the severity
// floor. Values outside the table default to the most verbose level.
//
//	0 -> off, 1 -> trace, 2 -> debug, 3 -> info, 4 -> warn, 5 -> warn,
//	6 -> critical, anything else -> trace
func VerbosityLevel(verbosity int) slog.Level {
	switch verbosity {
	case 0:
		return LevelOff
	case 1:
		return LevelTrace
	case 2:
		return LevelDebug
	case 3:
		return LevelInfo
	case 4, 5:
		return LevelWarn
	case 6:
		return LevelCritical
	default:
		return LevelTrace
	}
}

// LevelName returns the label used when rendering a record for clients.
// It covers the extended levels slog has no names for.
func LevelName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARN"
	case level < LevelCritical:
		return "ERROR"
	default:
		return "CRITICAL"
	}
}
