package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar is the environment variable holding a log spec.
const EnvVar = "BFRT_LOG"

// Format is the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses text or json, ignoring case. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configure New. Of the three specs the command-line one wins,
// then the environment, then the configuration file.
type Options struct {
	CLISpec    string
	EnvSpec    string
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stderr.
	Output io.Writer
	// AddSource records the caller's file and line.
	AddSource bool
}

// New builds a logger with component-level filtering.
func New(opts Options) (*slog.Logger, error) {
	var specStr string
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	case opts.ConfigSpec != "":
		specStr = opts.ConfigSpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	// The inner handler accepts everything; filtering is done per
	// component above it.
	handlerOpts := &slog.HandlerOptions{
		Level:       LevelTrace.ToSlog(),
		AddSource:   opts.AddSource,
		ReplaceAttr: replaceLevel,
	}

	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}
	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// replaceLevel prints the trace level by name instead of "DEBUG-4".
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if l, ok := a.Value.Any().(slog.Level); ok && Level(l) == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// FromEnv builds a text logger from the BFRT_LOG environment variable.
func FromEnv() (*slog.Logger, error) {
	return New(Options{EnvSpec: os.Getenv(EnvVar)})
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelOff.ToSlog()}))
}
