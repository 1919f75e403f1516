// Package server_test uses Behaviour-Driven Development (BDD) style.
//
// Each test follows the Given/When/Then structure:
//   - Given: Initial state and context (the fixture)
//   - When: The action being tested
//   - Then: The expected outcome
//
// The tests drive the Tables service through a real gRPC connection
// over an in-memory listener, backed by the in-memory device model.
package server_test

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/server"
)

func code(err error) codes.Code {
	return status.Code(err)
}

// TestAddEntry_GetEntryRoundTrip verifies the text form of an entry.
//
// Given an empty fwd table,
// When I add dst=10 with action set_port port=5,
// Then GetEntry returns the same key and a record bound to set_port
// with zeroed direct resources.
func TestAddEntry_GetEntryRoundTrip(t *testing.T) {
	f := newTestFixture(t)

	out := f.MustCall(server.MethodAddEntry, map[string]any{
		server.FieldTable: "fwd",
		server.FieldKey:   []any{"dst=10"},
		server.FieldData:  []any{"action=set_port", "port=5"},
	})
	assert.Contains(t, out, server.FieldHandle)

	got := f.MustCall(server.MethodGetEntry, map[string]any{
		server.FieldTable: "fwd",
		server.FieldKey:   []any{"dst=10"},
	})
	assert.Equal(t, []string{"dst=10"}, strs(t, got[server.FieldKey]))
	assert.ElementsMatch(t, []string{
		"action=set_port",
		"port=5",
		"$COUNTER_SPEC_BYTES=0",
		"$COUNTER_SPEC_PKTS=0",
		"fwd_reg.f1=0,0,0,0",
	}, strs(t, got[server.FieldData]))

	byHandle := f.MustCall(server.MethodGetEntry, map[string]any{
		server.FieldTable:  "fwd",
		server.FieldHandle: out[server.FieldHandle],
	})
	assert.Equal(t, []string{"dst=10"}, strs(t, byHandle[server.FieldKey]))
}

// TestGetEntry_SelectedFields verifies that a read can name the fields
// it wants.
func TestGetEntry_SelectedFields(t *testing.T) {
	f := newTestFixture(t)
	f.AddFwd("1", "7")

	got := f.MustCall(server.MethodGetEntry, map[string]any{
		server.FieldTable:  "fwd",
		server.FieldKey:    []any{"dst=1"},
		server.FieldFields: []any{"action=set_port", "port"},
	})
	assert.Equal(t, []string{"action=set_port", "port=7"}, strs(t, got[server.FieldData]))
}

// TestErrors_MapToStatusCodes verifies the error categories a client
// sees.
func TestErrors_MapToStatusCodes(t *testing.T) {
	f := newTestFixture(t)
	f.AddFwd("1", "1")

	tests := []struct {
		name   string
		method string
		req    map[string]any
		want   codes.Code
	}{
		{
			name:   "unknown table",
			method: server.MethodGetEntry,
			req:    map[string]any{server.FieldTable: "nope", server.FieldKey: []any{"dst=1"}},
			want:   codes.NotFound,
		},
		{
			name:   "missing table name",
			method: server.MethodClearTable,
			req:    map[string]any{},
			want:   codes.InvalidArgument,
		},
		{
			name:   "missing entry",
			method: server.MethodGetEntry,
			req:    map[string]any{server.FieldTable: "fwd", server.FieldKey: []any{"dst=2"}},
			want:   codes.NotFound,
		},
		{
			name:   "duplicate key",
			method: server.MethodAddEntry,
			req: map[string]any{
				server.FieldTable: "fwd",
				server.FieldKey:   []any{"dst=1"},
				server.FieldData:  []any{"action=drop"},
			},
			want: codes.InvalidArgument,
		},
		{
			name:   "malformed item",
			method: server.MethodDeleteEntry,
			req:    map[string]any{server.FieldTable: "fwd", server.FieldKey: []any{"dst"}},
			want:   codes.InvalidArgument,
		},
		{
			name:   "bad target",
			method: server.MethodUsage,
			req:    map[string]any{server.FieldTable: "fwd", server.FieldTarget: "dev0/pipe65535"},
			want:   codes.InvalidArgument,
		},
		{
			name:   "notify mode without a watcher",
			method: server.MethodSetIdle,
			req:    map[string]any{server.FieldTable: "fwd", server.FieldMode: "notify", server.FieldEnabled: true},
			want:   codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Call(tt.method, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, code(err), "error: %v", err)
		})
	}
}

// TestModifyEntry_SelectedKeepsOtherFields verifies selected-fields
// writes over the wire.
//
// Given dst=1 -> port 1,
// When I modify only the byte counter,
// Then the port is unchanged and the counter reads the written value.
func TestModifyEntry_SelectedKeepsOtherFields(t *testing.T) {
	f := newTestFixture(t)
	f.AddFwd("1", "1")

	f.MustCall(server.MethodModifyEntry, map[string]any{
		server.FieldTable:    "fwd",
		server.FieldKey:      []any{"dst=1"},
		server.FieldData:     []any{"action=set_port", "$COUNTER_SPEC_BYTES=100"},
		server.FieldSelected: true,
	})

	got := f.MustCall(server.MethodGetEntry, map[string]any{
		server.FieldTable: "fwd",
		server.FieldKey:   []any{"dst=1"},
	})
	data := strs(t, got[server.FieldData])
	assert.Contains(t, data, "port=1")
	assert.Contains(t, data, "$COUNTER_SPEC_BYTES=100")
}

// TestAddOrModifyEntry_ReportsAdded verifies the added flag.
func TestAddOrModifyEntry_ReportsAdded(t *testing.T) {
	f := newTestFixture(t)
	req := map[string]any{
		server.FieldTable: "fwd",
		server.FieldKey:   []any{"dst=3"},
		server.FieldData:  []any{"action=set_port", "port=3"},
	}

	assert.Equal(t, true, f.MustCall(server.MethodAddOrModifyEntry, req)[server.FieldAdded])
	assert.Equal(t, false, f.MustCall(server.MethodAddOrModifyEntry, req)[server.FieldAdded])
}

// TestDeleteEntry_IgnoreNotFound verifies flags travel with a request.
func TestDeleteEntry_IgnoreNotFound(t *testing.T) {
	f := newTestFixture(t)
	req := map[string]any{server.FieldTable: "fwd", server.FieldKey: []any{"dst=9"}}

	_, err := f.Call(server.MethodDeleteEntry, req)
	assert.Equal(t, codes.NotFound, code(err))

	req[server.FieldFlags] = "ignore-not-found"
	f.MustCall(server.MethodDeleteEntry, req)
}

// TestGetEntries_Pages verifies session-based paging.
//
// Given five entries,
// When I request pages of two using the session returned by the first
// page,
// Then the pages hold dst 1-2, 3-4 and 5, and a further page is empty.
func TestGetEntries_Pages(t *testing.T) {
	f := newTestFixture(t)
	for _, dst := range []string{"1", "2", "3", "4", "5"} {
		f.AddFwd(dst, dst)
	}

	page := func(req map[string]any) ([]string, map[string]any) {
		out := f.MustCall(server.MethodGetEntries, req)
		var keys []string
		for _, e := range out[server.FieldEntries].([]any) {
			keys = append(keys, strs(t, e.(map[string]any)[server.FieldKey])...)
		}
		return keys, out
	}

	keys, out := page(map[string]any{server.FieldTable: "fwd", server.FieldCount: 2})
	assert.Equal(t, []string{"dst=1", "dst=2"}, keys)
	sess := out[server.FieldSession]
	require.NotEmpty(t, sess)

	next := func(after string) []string {
		keys, _ := page(map[string]any{
			server.FieldTable:   "fwd",
			server.FieldCount:   2,
			server.FieldSession: sess,
			server.FieldKey:     []any{after},
		})
		return keys
	}
	assert.Equal(t, []string{"dst=3", "dst=4"}, next("dst=2"))
	assert.Equal(t, []string{"dst=5"}, next("dst=4"))
	assert.Empty(t, next("dst=5"))
}

// TestListEntries_WalksWholeTable verifies listing across batches.
func TestListEntries_WalksWholeTable(t *testing.T) {
	f := newTestFixture(t)

	out := f.MustCall(server.MethodListEntries, map[string]any{server.FieldTable: "fwd"})
	assert.Empty(t, out[server.FieldEntries], "empty table")

	for i := 1; i <= 70; i++ {
		f.MustCall(server.MethodAddEntry, map[string]any{
			server.FieldTable: "fwd",
			server.FieldKey:   []any{"dst=" + strconv.Itoa(i)},
			server.FieldData:  []any{"action=drop"},
		})
	}
	out = f.MustCall(server.MethodListEntries, map[string]any{server.FieldTable: "fwd"})
	entries := out[server.FieldEntries].([]any)
	require.Len(t, entries, 70)
	last := entries[69].(map[string]any)
	assert.Equal(t, []string{"dst=70"}, strs(t, last[server.FieldKey]))

	usage := f.MustCall(server.MethodUsage, map[string]any{server.FieldTable: "fwd"})
	assert.Equal(t, float64(70), usage[server.FieldUsage])

	f.MustCall(server.MethodClearTable, map[string]any{server.FieldTable: "fwd"})
	all := f.MustCall(server.MethodUsage, map[string]any{})
	assert.Equal(t, float64(0), all[server.FieldUsage].(map[string]any)["fwd"])
}

// TestDefaultEntry_SetGetReset verifies the default entry methods.
func TestDefaultEntry_SetGetReset(t *testing.T) {
	f := newTestFixture(t)
	table := map[string]any{server.FieldTable: "fwd"}

	got := f.MustCall(server.MethodGetDefault, table)
	assert.Contains(t, strs(t, got[server.FieldData]), "action=drop")

	f.MustCall(server.MethodSetDefault, map[string]any{
		server.FieldTable: "fwd",
		server.FieldData:  []any{"action=set_port", "port=4"},
	})
	got = f.MustCall(server.MethodGetDefault, table)
	data := strs(t, got[server.FieldData])
	assert.Contains(t, data, "action=set_port")
	assert.Contains(t, data, "port=4")

	f.MustCall(server.MethodResetDefault, table)
	got = f.MustCall(server.MethodGetDefault, table)
	assert.Contains(t, strs(t, got[server.FieldData]), "action=drop")

	_, err := f.Call(server.MethodSetDefault, map[string]any{
		server.FieldTable: "const",
		server.FieldData:  []any{"action=noop"},
	})
	assert.Equal(t, codes.InvalidArgument, code(err), "const default")
}

// TestIdle_PollModeRoundTrip verifies the idle configuration methods.
func TestIdle_PollModeRoundTrip(t *testing.T) {
	f := newTestFixture(t)

	f.MustCall(server.MethodSetIdle, map[string]any{
		server.FieldTable:         "fwd",
		server.FieldMode:          "poll",
		server.FieldEnabled:       true,
		server.FieldQueryInterval: 500,
	})
	got := f.MustCall(server.MethodGetIdle, map[string]any{server.FieldTable: "fwd"})
	assert.Equal(t, "poll", got[server.FieldMode])
	assert.Equal(t, true, got[server.FieldEnabled])
	assert.Equal(t, float64(500), got[server.FieldQueryInterval])

	_, err := f.Call(server.MethodSetIdle, map[string]any{
		server.FieldTable:         "fwd",
		server.FieldMode:          "poll",
		server.FieldQueryInterval: 1.5,
	})
	assert.Equal(t, codes.InvalidArgument, code(err), "fractional interval")
}

// TestScope_ChangesWhileEmpty verifies the scope methods.
func TestScope_ChangesWhileEmpty(t *testing.T) {
	f := newTestFixture(t)

	got := f.MustCall(server.MethodGetScope, map[string]any{server.FieldTable: "fwd"})
	assert.Equal(t, "all-pipes", got[server.FieldScope])

	f.MustCall(server.MethodSetScope, map[string]any{server.FieldTable: "fwd", server.FieldScope: "single-pipe"})
	f.MustCall(server.MethodAddEntry, map[string]any{
		server.FieldTable:  "fwd",
		server.FieldTarget: "dev0/pipe1",
		server.FieldKey:    []any{"dst=1"},
		server.FieldData:   []any{"action=drop"},
	})

	_, err := f.Call(server.MethodSetScope, map[string]any{server.FieldTable: "fwd", server.FieldScope: "all-pipes"})
	assert.Equal(t, codes.InvalidArgument, code(err), "table not empty")

	_, err = f.Call(server.MethodSetScope, map[string]any{server.FieldTable: "fwd", server.FieldScope: "sideways"})
	assert.Equal(t, codes.InvalidArgument, code(err))
}

// TestProfiles_MembersAndGroups verifies the action-profile methods.
//
// Given members 1 and 2 in ecmp_profile,
// When I create group 10 from them and point an ecmp entry at it,
// Then the group lists both members and the entry reads back its group.
func TestProfiles_MembersAndGroups(t *testing.T) {
	f := newTestFixture(t)

	for _, id := range []float64{1, 2} {
		f.MustCall(server.MethodAddMember, map[string]any{
			server.FieldProfile: "ecmp_profile",
			server.FieldID:      id,
			server.FieldData:    []any{"action=set_nh", "nh=7"},
		})
	}
	members := f.MustCall(server.MethodListMembers, map[string]any{server.FieldProfile: "ecmp_profile"})
	assert.Equal(t, []any{float64(1), float64(2)}, members[server.FieldMembers])

	member := f.MustCall(server.MethodGetMember, map[string]any{server.FieldProfile: "ecmp_profile", server.FieldID: 2})
	assert.Equal(t, []string{"action=set_nh", "nh=7"}, strs(t, member[server.FieldData]))

	f.MustCall(server.MethodAddGroup, map[string]any{
		server.FieldSelector: "ecmp_profile",
		server.FieldID:       10,
		server.FieldMembers:  []any{1, 2},
	})
	groups := f.MustCall(server.MethodListGroups, map[string]any{server.FieldSelector: "ecmp_profile"})
	require.Len(t, groups[server.FieldGroups], 1)
	g := groups[server.FieldGroups].([]any)[0].(map[string]any)
	assert.Equal(t, float64(10), g[server.FieldID])
	assert.Equal(t, float64(8), g[server.FieldMaxSize])
	assert.Equal(t, []any{float64(1), float64(2)}, g[server.FieldMembers])

	f.MustCall(server.MethodAddEntry, map[string]any{
		server.FieldTable: "ecmp",
		server.FieldKey:   []any{"dst=10.1.0.0/16"},
		server.FieldData:  []any{"$SELECTOR_GROUP_ID=10"},
	})
	got := f.MustCall(server.MethodGetEntry, map[string]any{
		server.FieldTable: "ecmp",
		server.FieldKey:   []any{"dst=10.1.0.0/16"},
	})
	assert.Contains(t, strs(t, got[server.FieldData]), "$SELECTOR_GROUP_ID=10")

	f.MustCall(server.MethodSetGroupMembers, map[string]any{
		server.FieldSelector: "ecmp_profile",
		server.FieldID:       10,
		server.FieldMembers:  []any{2},
	})
	_, err := f.Call(server.MethodDeleteGroup, map[string]any{server.FieldSelector: "ecmp_profile", server.FieldID: 11})
	assert.Equal(t, codes.NotFound, code(err))

	_, err = f.Call(server.MethodAddGroup, map[string]any{server.FieldSelector: "nh_profile", server.FieldID: 1})
	assert.Equal(t, codes.NotFound, code(err), "nh_profile has no selector")
}

// TestDescribe_ListsProgram verifies the program description.
func TestDescribe_ListsProgram(t *testing.T) {
	f := newTestFixture(t)

	out := f.MustCall(server.MethodDescribe, map[string]any{})
	assert.Equal(t, "testprog", out[server.FieldName])

	var names []string
	for _, tbl := range out[server.FieldTables].([]any) {
		names = append(names, tbl.(map[string]any)[server.FieldName].(string))
	}
	assert.Contains(t, names, "fwd")
	assert.Contains(t, names, "ecmp")
}

func openWatch(t *testing.T, f *testFixture, ctx context.Context, req map[string]any) grpc.ClientStream {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	stream, err := f.Conn.NewStream(ctx, &server.WatchIdleStream, server.FullMethod(server.MethodWatchIdle))
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(in))
	require.NoError(t, stream.CloseSend())
	return stream
}

// TestWatchIdle_StreamsTimeouts verifies notify-mode aging over the
// wire.
//
// Given a WatchIdle stream on fwd,
// And dst=10 added with a 100ms TTL,
// When the device ages its entries by 200ms,
// Then the stream delivers the key of dst=10,
// And a second watcher on the same table is refused,
// And aging is disabled again once the stream ends.
func TestWatchIdle_StreamsTimeouts(t *testing.T) {
	f := newTestFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	watchCtx, stop := context.WithCancel(ctx)
	stream := openWatch(t, f, watchCtx, map[string]any{server.FieldTable: "fwd", server.FieldMaxTTL: 10_000})
	_, err := stream.Header()
	require.NoError(t, err, "watch is installed once the header arrives")

	idle := f.MustCall(server.MethodGetIdle, map[string]any{server.FieldTable: "fwd"})
	assert.Equal(t, "notify", idle[server.FieldMode])

	f.MustCall(server.MethodAddEntry, map[string]any{
		server.FieldTable: "fwd",
		server.FieldKey:   []any{"dst=10"},
		server.FieldData:  []any{"action=set_port", "port=1", bfrt.FieldEntryTTL + "=100"},
	})
	require.NoError(t, f.Model.Sweep(ctx, 200*time.Millisecond))

	msg := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(msg))
	ev := msg.AsMap()
	assert.Equal(t, "fwd", ev[server.FieldTable])
	assert.Equal(t, "dev0/all", ev[server.FieldTarget])
	assert.Equal(t, []string{"dst=10"}, strs(t, ev[server.FieldKey]))

	second := openWatch(t, f, ctx, map[string]any{server.FieldTable: "fwd"})
	err = second.RecvMsg(new(structpb.Struct))
	assert.Equal(t, codes.Unavailable, code(err))

	stop()
	err = stream.RecvMsg(new(structpb.Struct))
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))

	assert.Eventually(t, func() bool {
		out, err := f.Call(server.MethodGetIdle, map[string]any{server.FieldTable: "fwd"})
		return err == nil && out[server.FieldMode] == "disabled"
	}, 5*time.Second, 20*time.Millisecond)
}
