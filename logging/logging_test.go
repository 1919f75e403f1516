package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt/logging"
)

func newBuffered(t *testing.T, spec string) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{CLISpec: spec, Output: &buf})
	require.NoError(t, err)
	return logger, &buf
}

// TestFilteringHandler_ComponentLevels verifies per-component filtering.
//
// Given the spec "warn,manager=debug,store=trace",
// When loggers for the manager, the store, the sqlite store and the
// server log at various levels,
// Then each record is kept only at or above its component's level, and
// store.sqlite inherits the store level.
func TestFilteringHandler_ComponentLevels(t *testing.T) {
	logger, buf := newBuffered(t, "warn,manager=debug,store=trace")
	ctx := context.Background()

	tests := []struct {
		component string
		level     logging.Level
		want      bool
	}{
		{"", logging.LevelInfo, false},
		{"", logging.LevelWarn, true},
		{"manager", logging.LevelDebug, true},
		{"manager", logging.LevelTrace, false},
		{"store", logging.LevelTrace, true},
		{"store.sqlite", logging.LevelTrace, true},
		{"server", logging.LevelInfo, false},
		{"server", logging.LevelError, true},
	}
	for _, tt := range tests {
		t.Run(tt.component+"/"+tt.level.String(), func(t *testing.T) {
			l := logger
			if tt.component != "" {
				l = logger.With(logging.ComponentKey, tt.component)
			}
			buf.Reset()
			l.Log(ctx, tt.level.ToSlog(), "level check")
			assert.Equal(t, tt.want, buf.Len() > 0)
		})
	}
}

// TestFilteringHandler_RecordComponent verifies that a component passed
// on the record itself is honoured.
func TestFilteringHandler_RecordComponent(t *testing.T) {
	logger, buf := newBuffered(t, "warn,idle=debug")

	logger.Debug("dropped", logging.ComponentKey, "table")
	assert.Empty(t, buf.String())

	logger.Debug("kept", logging.ComponentKey, "idle")
	assert.Contains(t, buf.String(), "kept")
}

// TestFilteringHandler_GroupKeepsComponent verifies that groups do not
// reset the component.
func TestFilteringHandler_GroupKeepsComponent(t *testing.T) {
	logger, buf := newBuffered(t, "info,manager=debug")

	logger.With(logging.ComponentKey, "manager").WithGroup("entry").Debug("grouped", "handle", 3)
	assert.Contains(t, buf.String(), "entry.handle=3")
}

func TestFilteringHandler_Off(t *testing.T) {
	logger, buf := newBuffered(t, "info,idle=off")

	logger.With(logging.ComponentKey, "idle").Error("silenced")
	assert.Empty(t, buf.String())
}

func TestNew_TraceLevelName(t *testing.T) {
	logger, buf := newBuffered(t, "trace")

	logger.Log(context.Background(), logging.LevelTrace.ToSlog(), "device call")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestNew_Precedence(t *testing.T) {
	tests := []struct {
		name      string
		opts      logging.Options
		wantLevel logging.Level
	}{
		{
			name:      "cli beats env",
			opts:      logging.Options{CLISpec: "error", EnvSpec: "debug", ConfigSpec: "info"},
			wantLevel: logging.LevelError,
		},
		{
			name:      "env beats config",
			opts:      logging.Options{EnvSpec: "debug", ConfigSpec: "info"},
			wantLevel: logging.LevelDebug,
		},
		{
			name:      "config alone",
			opts:      logging.Options{ConfigSpec: "warn"},
			wantLevel: logging.LevelWarn,
		},
		{
			name:      "default is info",
			opts:      logging.Options{},
			wantLevel: logging.LevelInfo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf
			logger, err := logging.New(tt.opts)
			require.NoError(t, err)

			ctx := context.Background()
			logger.Log(ctx, tt.wantLevel.ToSlog(), "at level")
			assert.NotEmpty(t, buf.String())

			buf.Reset()
			logger.Log(ctx, (tt.wantLevel - 4).ToSlog(), "below level")
			assert.Empty(t, buf.String())
		})
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := logging.New(logging.Options{CLISpec: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log spec")
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: logging.FormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.Info("entry added", "table", "fwd")
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"entry added"`)
	assert.Contains(t, out, `"table":"fwd"`)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]logging.Format{"text": logging.FormatText, "JSON": logging.FormatJSON, "": logging.FormatText} {
		got, err := logging.ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := logging.ParseFormat("yaml")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.False(t, logging.Discard().Enabled(context.Background(), slog.LevelError))
}
