package server_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-bfrt/interpreter/store/sqlite"
	"github.com/frobware/go-bfrt/internal/testprog"
	"github.com/frobware/go-bfrt/manager"
	"github.com/frobware/go-bfrt/server"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set BFRT_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("BFRT_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFixture runs the Tables service over an in-memory connection.
type testFixture struct {
	Model   *sqlite.Device
	Manager *manager.Manager
	Conn    *grpc.ClientConn
	t       *testing.T
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()

	model, err := sqlite.NewInMemory(ctx, sqlite.Options{ID: 0, Pipes: 4}, testLogger())
	require.NoError(t, err, "failed to create device model")
	t.Cleanup(func() { model.Close() })

	mgr, err := manager.New(model, testprog.Program(), manager.Options{IdleWorkers: 2}, testLogger())
	require.NoError(t, err, "failed to create manager")
	t.Cleanup(func() { mgr.Close() })

	lis := bufconn.Listen(1 << 20)
	srv := server.New(mgr, testLogger()).NewGRPCServer()
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testFixture{Model: model, Manager: mgr, Conn: conn, t: t}
}

// Call invokes a unary method and returns the response fields.
func (f *testFixture) Call(method string, req map[string]any) (map[string]any, error) {
	f.t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(f.t, err)
	out := new(structpb.Struct)
	if err := f.Conn.Invoke(context.Background(), server.FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// MustCall invokes a unary method that is expected to succeed.
func (f *testFixture) MustCall(method string, req map[string]any) map[string]any {
	f.t.Helper()
	out, err := f.Call(method, req)
	require.NoError(f.t, err, "%s failed", method)
	return out
}

// AddFwd installs dst -> port on fwd.
func (f *testFixture) AddFwd(dst, port string) {
	f.t.Helper()
	f.MustCall(server.MethodAddEntry, map[string]any{
		server.FieldTable: "fwd",
		server.FieldKey:   []any{"dst=" + dst},
		server.FieldData:  []any{"action=set_port", "port=" + port},
	})
}

// strs converts a decoded list value to strings.
func strs(t *testing.T, v any) []string {
	t.Helper()
	list, ok := v.([]any)
	require.True(t, ok, "expected a list, got %T", v)
	out := make([]string, len(list))
	for i, e := range list {
		out[i], ok = e.(string)
		require.True(t, ok, "expected a string, got %T", e)
	}
	return out
}
