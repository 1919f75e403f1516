package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantBase   Level
		wantComps  map[string]Level
		errContain string
	}{
		{name: "empty", input: "", wantBase: LevelInfo},
		{name: "base only", input: "debug", wantBase: LevelDebug},
		{
			name:      "overrides",
			input:     "warn,manager=debug,store=trace",
			wantBase:  LevelWarn,
			wantComps: map[string]Level{"manager": LevelDebug, "store": LevelTrace},
		},
		{
			name:      "whitespace and empty parts",
			input:     "  info ,, table = debug ,",
			wantBase:  LevelInfo,
			wantComps: map[string]Level{"table": LevelDebug},
		},
		{
			name:      "component only",
			input:     "idle=off",
			wantBase:  LevelInfo,
			wantComps: map[string]Level{"idle": LevelOff},
		},
		{name: "bad base", input: "loud", errContain: "unknown log level"},
		{name: "bad component level", input: "info,table=loud", errContain: "invalid level for component"},
		{name: "base not first", input: "table=debug,info", errContain: "must be first"},
		{name: "empty component", input: "info,=debug", errContain: "empty component name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseSpec(tt.input)
			if tt.errContain != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, spec.BaseLevel)
			if tt.wantComps == nil {
				assert.Empty(t, spec.Components)
			} else {
				assert.Equal(t, tt.wantComps, spec.Components)
			}
		})
	}
}

func TestSpec_LevelForInheritsParent(t *testing.T) {
	spec, err := ParseSpec("warn,store=debug,store.sqlite=trace")
	require.NoError(t, err)

	assert.Equal(t, LevelTrace, spec.LevelFor("store.sqlite"))
	assert.Equal(t, LevelTrace, spec.LevelFor("store.sqlite.stmts"))
	assert.Equal(t, LevelDebug, spec.LevelFor("store.memory"))
	assert.Equal(t, LevelWarn, spec.LevelFor("storefront"))
	assert.Equal(t, LevelWarn, spec.LevelFor(""))
	assert.Equal(t, LevelTrace, spec.Min())
}

func TestSpec_StringRoundTrips(t *testing.T) {
	spec, err := ParseSpec("error,table=debug,idle=trace")
	require.NoError(t, err)
	assert.Equal(t, "error,idle=trace,table=debug", spec.String())

	again, err := ParseSpec(spec.String())
	require.NoError(t, err)
	assert.Equal(t, spec, again)
}

func TestLevel_Text(t *testing.T) {
	var l Level
	require.NoError(t, l.UnmarshalText([]byte("WARN")))
	assert.Equal(t, LevelWarn, l)

	b, err := LevelTrace.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "trace", string(b))

	assert.Error(t, l.UnmarshalText([]byte("verbose")))
	assert.Equal(t, "Level(2)", Level(2).String())
}
