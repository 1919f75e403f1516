package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/server"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/run/bfrt-sock/bfrt.sock", "unix:///run/bfrt-sock/bfrt.sock"},
		{"unix:///tmp/x.sock", "unix:///tmp/x.sock"},
		{"localhost:50052", "localhost:50052"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseAddress(tt.in))
	}
}

// TestRequest_EncodesReference verifies that only the set parts of a
// reference are sent.
func TestRequest_EncodesReference(t *testing.T) {
	req := request(Table("fwd"), server.FieldTable)
	assert.Equal(t, map[string]any{server.FieldTable: "fwd"}, req)

	ref := Table("fwd").On(bfrt.Target{Device: 0, Pipe: 2}).With(bfrt.FlagIgnoreNotFound | bfrt.FlagFromHW)
	req = request(ref, server.FieldTable)
	assert.Equal(t, "dev0/pipe2", req[server.FieldTarget])
	assert.Equal(t, "from-hw|ignore-not-found", req[server.FieldFlags])
}

// TestTranslateGRPCError verifies that status codes map back to the
// error categories.
func TestTranslateGRPCError(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.InvalidArgument, bfrt.ErrInvalidArgument},
		{codes.NotFound, bfrt.ErrObjectNotFound},
		{codes.Unimplemented, bfrt.ErrNotSupported},
		{codes.Unavailable, bfrt.ErrUnavailable},
		{codes.Internal, bfrt.ErrUnexpected},
		{codes.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := translateGRPCError(status.Error(tt.code, "table fwd: boom"))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "table fwd: boom", err.Error())
		})
	}

	assert.NoError(t, translateGRPCError(nil))
	plain := errors.New("plain")
	assert.Same(t, plain, translateGRPCError(plain))
	other := status.Error(codes.Aborted, "aborted")
	assert.Equal(t, other, translateGRPCError(other))
}

func TestDecodeUint32(t *testing.T) {
	n, err := decodeUint32(float64(42))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), n)

	n, err = decodeUint32(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, bad := range []any{-1.0, 1.5, 1e12, "7"} {
		_, err := decodeUint32(bad)
		assert.ErrorIs(t, err, bfrt.ErrUnexpected, "%v", bad)
	}
}

func TestDecodeIdle(t *testing.T) {
	cfg, err := decodeIdle(map[string]any{
		server.FieldMode:          "poll",
		server.FieldEnabled:       true,
		server.FieldQueryInterval: float64(250),
	})
	require.NoError(t, err)
	assert.Equal(t, bfrt.IdleConfig{Mode: bfrt.IdlePoll, Enabled: true, QueryInterval: 250}, cfg)

	_, err = decodeIdle(map[string]any{server.FieldMode: "sometimes"})
	assert.ErrorIs(t, err, bfrt.ErrUnexpected)
}
