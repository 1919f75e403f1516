package cli_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/cmd/bfrt/cli"
)

func TestParseTargetSpec(t *testing.T) {
	tests := []struct {
		input string
		want  cli.TargetSpec
	}{
		{"", cli.TargetSpec{}},
		{"dev0", cli.TargetSpec{Value: bfrt.DeviceTarget(0), Set: true}},
		{"dev1/all", cli.TargetSpec{Value: bfrt.DeviceTarget(1), Set: true}},
		{"dev0/pipe2", cli.TargetSpec{Value: bfrt.Target{Device: 0, Pipe: 2}, Set: true}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := cli.ParseTargetSpec(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := cli.ParseTargetSpec("pipe1")
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)
}

func TestParseFlagSet(t *testing.T) {
	got, err := cli.ParseFlagSet("from-hw,ignore-not-found")
	require.NoError(t, err)
	assert.Equal(t, bfrt.FlagFromHW|bfrt.FlagIgnoreNotFound, got.Value)

	_, err = cli.ParseFlagSet("bogus")
	assert.Error(t, err)
}

func TestParseMemberList(t *testing.T) {
	tests := []struct {
		input string
		want  []bfrt.MemberID
	}{
		{"", nil},
		{"1", []bfrt.MemberID{1}},
		{"1, 2,0x10", []bfrt.MemberID{1, 2, 16}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := cli.ParseMemberList(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Value)
		})
	}

	_, err := cli.ParseMemberList("1,x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid member ID")
}

func TestParseIdleModeAndScope(t *testing.T) {
	m, err := cli.ParseIdleModeArg("poll")
	require.NoError(t, err)
	assert.Equal(t, bfrt.IdlePoll, m.Value)
	_, err = cli.ParseIdleModeArg("sometimes")
	assert.Error(t, err)

	s, err := cli.ParseScopeArg("single-pipe")
	require.NoError(t, err)
	assert.Equal(t, bfrt.ScopeSinglePipe, s.Value)
	_, err = cli.ParseScopeArg("two-pipes")
	assert.Error(t, err)
}
