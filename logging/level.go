// Package logging configures structured logging for the table runtime
// and its daemon. Loggers are plain *slog.Logger values; verbosity is
// controlled per component through a Spec.
package logging

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// Level is a log level. Debug through error match the slog levels;
// trace sits below debug and off above everything.
type Level int

const (
	// LevelTrace logs every device call.
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
	// LevelOff silences a component.
	LevelOff   Level = math.MaxInt32
)

// ParseLevel parses trace, debug, info, warn, error or off, ignoring
// case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	case "off", "none":
		return LevelOff, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// ToSlog converts the level to a slog.Level.
func (l Level) ToSlog() slog.Level {
	return slog.Level(l)
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelOff:
		return "off"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// UnmarshalText lets a Level be decoded from configuration files and
// command-line flags.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
