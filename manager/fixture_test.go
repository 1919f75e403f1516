package manager_test

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter"
	"github.com/frobware/go-bfrt/interpreter/store/sqlite"
	"github.com/frobware/go-bfrt/internal/testprog"
	"github.com/frobware/go-bfrt/manager"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set BFRT_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("BFRT_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var tgt = bfrt.DeviceTarget(0)

// recordingDevice wraps the device model and records the hardware
// writes and lookups the manager issues.
type recordingDevice struct {
	interpreter.Device

	mu  sync.Mutex
	ops []string

	// failIdleConfig, when set, is returned by SetIdleConfig.
	failIdleConfig error
	// failGet maps entry handles to the error GetEntry returns for them.
	failGet map[bfrt.EntryHandle]error
	// added is the action spec of the last AddEntry.
	added bfrt.ActionSpec
}

func (d *recordingDevice) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

// Operations returns the recorded operations in call order.
func (d *recordingDevice) Operations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

// ResetOperations forgets every recorded operation.
func (d *recordingDevice) ResetOperations() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = nil
}

func (d *recordingDevice) Lookup(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, match bfrt.MatchSpec) (bfrt.EntryHandle, error) {
	d.record("Lookup")
	return d.Device.Lookup(ctx, table, tgt, match)
}

func (d *recordingDevice) AddEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, match bfrt.MatchSpec, spec *bfrt.ActionSpec, idle uint32) (bfrt.EntryHandle, error) {
	d.record("AddEntry")
	d.mu.Lock()
	d.added = *spec
	d.mu.Unlock()
	return d.Device.AddEntry(ctx, table, tgt, match, spec, idle)
}

// AddedSpec returns the action spec of the last AddEntry.
func (d *recordingDevice) AddedSpec() bfrt.ActionSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.added
}

func (d *recordingDevice) SetAction(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, spec *bfrt.ActionSpec) error {
	d.record("SetAction")
	return d.Device.SetAction(ctx, table, tgt, h, spec)
}

func (d *recordingDevice) SetResources(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, resources []bfrt.ResourceSpec) error {
	d.record("SetResources")
	return d.Device.SetResources(ctx, table, tgt, h, resources)
}

func (d *recordingDevice) SetDirectCounter(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, v bfrt.CounterValue) error {
	d.record("SetDirectCounter")
	return d.Device.SetDirectCounter(ctx, table, tgt, h, v)
}

func (d *recordingDevice) SetIdle(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, value uint32, reset bool) error {
	d.record("SetIdle")
	return d.Device.SetIdle(ctx, table, tgt, h, value, reset)
}

func (d *recordingDevice) DeleteEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle) error {
	d.record("DeleteEntry")
	return d.Device.DeleteEntry(ctx, table, tgt, h)
}

func (d *recordingDevice) GetEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, mask bfrt.FetchMask) (bfrt.Entry, error) {
	d.mu.Lock()
	err := d.failGet[h]
	d.mu.Unlock()
	if err != nil {
		return bfrt.Entry{}, err
	}
	return d.Device.GetEntry(ctx, table, tgt, h, mask)
}

// FailGet makes GetEntry fail for handle h.
func (d *recordingDevice) FailGet(h bfrt.EntryHandle, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failGet == nil {
		d.failGet = make(map[bfrt.EntryHandle]error)
	}
	d.failGet[h] = err
}

func (d *recordingDevice) SetIdleConfig(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, cfg bfrt.IdleConfig) error {
	d.record("SetIdleConfig")
	d.mu.Lock()
	err := d.failIdleConfig
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.Device.SetIdleConfig(ctx, table, tgt, cfg)
}

// testFixture provides access to all components for verification.
type testFixture struct {
	Manager *manager.Manager
	Model   *sqlite.Device
	Device  *recordingDevice
	t       *testing.T
}

// newTestFixture creates a manager for the test program on an
// in-memory four-pipe device model.
func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	model, err := sqlite.NewInMemory(context.Background(), sqlite.Options{ID: 0, Pipes: 4}, testLogger())
	require.NoError(t, err, "failed to create device model")
	t.Cleanup(func() { model.Close() })

	dev := &recordingDevice{Device: model}
	mgr, err := manager.New(dev, testprog.Program(), manager.Options{IdleWorkers: 2}, testLogger())
	require.NoError(t, err, "failed to create manager")
	t.Cleanup(func() { mgr.Close() })

	return &testFixture{
		Manager: mgr,
		Model:   model,
		Device:  dev,
		t:       t,
	}
}

// Table returns a table context by name.
func (f *testFixture) Table(name string) *manager.Table {
	f.t.Helper()
	tbl, err := f.Manager.Table(name)
	require.NoError(f.t, err)
	return tbl
}

// FwdKey returns a fwd key for a destination.
func (f *testFixture) FwdKey(dst uint64) *bfrt.Key {
	f.t.Helper()
	k := f.Table("fwd").NewKey()
	require.NoError(f.t, k.SetExactUint(testprog.FwdKeyDst, dst))
	return k
}

// FwdData returns an all-fields set_port record.
func (f *testFixture) FwdData(port uint64) *bfrt.Data {
	f.t.Helper()
	d, err := f.Table("fwd").NewData(testprog.FwdSetPort)
	require.NoError(f.t, err)
	require.NoError(f.t, d.SetValue(testprog.FwdParamPort, port))
	return d
}

// AddFwd installs a set_port entry on fwd.
func (f *testFixture) AddFwd(dst, port uint64) bfrt.EntryHandle {
	f.t.Helper()
	h, err := f.Table("fwd").Add(context.Background(), tgt, 0, f.FwdKey(dst), f.FwdData(port))
	require.NoError(f.t, err, "failed to add fwd entry %d", dst)
	return h
}

// AssertOps verifies the sequence of recorded device operations.
func (f *testFixture) AssertOps(expected []string) {
	f.t.Helper()
	assert.Equal(f.t, expected, f.Device.Operations(), "device operations mismatch")
}

// keyDst decodes the 32-bit exact dst field of a fwd key.
func keyDst(t *testing.T, k *bfrt.Key) uint64 {
	t.Helper()
	v, ok := k.Field(testprog.FwdKeyDst)
	require.True(t, ok, "dst not set")
	require.Len(t, v.Value, 4)
	return uint64(binary.BigEndian.Uint32(v.Value))
}

func value(t *testing.T, d *bfrt.Data, id bfrt.FieldID) uint64 {
	t.Helper()
	v, err := d.Value(id)
	require.NoError(t, err)
	return v
}
