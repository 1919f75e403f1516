package client_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/client"
	"github.com/frobware/go-bfrt/entryfmt"
)

const program = "../p4info/testdata/switch.p4info.txt"

// testLogger returns a logger for tests. By default it discards all output.
// Set BFRT_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("BFRT_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func open(t *testing.T, runtimeDir string) client.Client {
	t.Helper()
	c, err := client.Open(
		client.WithRuntimeDir(runtimeDir),
		client.WithProgram(program),
		client.WithLogger(testLogger()),
	)
	require.NoError(t, err)
	return c
}

func items(t *testing.T, args ...string) []entryfmt.Item {
	t.Helper()
	it, err := entryfmt.ParseItems(args...)
	require.NoError(t, err)
	return it
}

// TestOpen_EntryLifecycle verifies the in-process client end to end.
//
// Given an in-process client on the switch program,
// When I add, read, list and delete a fwd entry,
// Then each call observes the previous one.
func TestOpen_EntryLifecycle(t *testing.T) {
	ctx := context.Background()
	c := open(t, filepath.Join(t.TempDir(), "bfrt"))
	defer c.Close()

	fwd := client.Table("fwd")
	key := items(t, "hdr.ipv4.dst_addr=10.0.0.1")
	_, err := c.AddEntry(ctx, fwd, key, items(t, "action=set_port", "port=3"))
	require.NoError(t, err)

	got, err := c.GetEntry(ctx, fwd, key, nil)
	require.NoError(t, err)
	assert.Equal(t, "hdr.ipv4.dst_addr=167772161", entryfmt.Join(got.Key), "exact fields print as integers")
	assert.Contains(t, entryfmt.Join(got.Data), "action=set_port port=3")

	sel, err := c.GetEntry(ctx, fwd, key, []string{"action=set_port", "port"})
	require.NoError(t, err)
	assert.Equal(t, "action=set_port port=3", entryfmt.Join(sel.Data))

	list, err := c.ListEntries(ctx, fwd)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	n, err := c.Usage(ctx, fwd)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	require.NoError(t, c.DeleteEntry(ctx, fwd, key))
	_, err = c.GetEntry(ctx, fwd, key, nil)
	assert.ErrorIs(t, err, bfrt.ErrObjectNotFound)

	assert.NoError(t, c.DeleteEntry(ctx, fwd.With(bfrt.FlagIgnoreNotFound), key))
}

// TestOpen_HoldsWriterLock verifies that one process owns a runtime
// directory and that its state survives reopening.
//
// Given an open client with one installed entry,
// When a second client opens the same runtime directory,
// Then it fails,
// And once the first client is closed a new client sees the entry.
func TestOpen_HoldsWriterLock(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "bfrt")

	first := open(t, dir)
	_, err := first.AddEntry(ctx, client.Table("fwd"), items(t, "hdr.ipv4.dst_addr=1"), items(t, "action=drop"))
	require.NoError(t, err)

	_, err = client.Open(client.WithRuntimeDir(dir), client.WithProgram(program), client.WithLogger(testLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")

	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "close is idempotent")

	second := open(t, dir)
	defer second.Close()
	usage, err := second.AllUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), usage["fwd"])
}

// TestOpen_RequiresProgram verifies that Open needs a P4Info file.
func TestOpen_RequiresProgram(t *testing.T) {
	_, err := client.Open(client.WithRuntimeDir(filepath.Join(t.TempDir(), "bfrt")))
	assert.Error(t, err)
}

// TestOpen_DescribeAndProfiles verifies program description and the
// selector calls.
func TestOpen_DescribeAndProfiles(t *testing.T) {
	ctx := context.Background()
	c := open(t, filepath.Join(t.TempDir(), "bfrt"))
	defer c.Close()

	prog, err := c.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "switch", prog.Name)
	var tables []string
	for _, tbl := range prog.Tables {
		tables = append(tables, tbl.Name)
	}
	assert.Contains(t, tables, "ecmp")
	require.Len(t, prog.Profiles, 1)
	assert.True(t, prog.Profiles[0].Selector)

	sel := client.Table("ecmp_selector")
	for _, id := range []bfrt.MemberID{1, 2} {
		_, err := c.AddMember(ctx, sel, id, items(t, "action=set_nh", "nh=4"))
		require.NoError(t, err)
	}
	_, err = c.AddGroup(ctx, sel, 7, 0, []bfrt.MemberID{1, 2})
	require.NoError(t, err)
	require.NoError(t, c.SetGroupMembers(ctx, sel, 7, []bfrt.MemberID{2}))

	groups, err := c.ListGroups(ctx, sel)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []bfrt.MemberID{2}, groups[0].Members)
	assert.Equal(t, uint32(8), groups[0].MaxSize)

	members, err := c.ListMembers(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, []bfrt.MemberID{1, 2}, members)

	data, err := c.GetMember(ctx, sel, 1)
	require.NoError(t, err)
	assert.Equal(t, "action=set_nh nh=4", entryfmt.Join(data))
}
