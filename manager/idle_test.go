package manager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/internal/testprog"
	"github.com/frobware/go-bfrt/manager"
)

type timeout struct {
	tgt    bfrt.Target
	key    *bfrt.Key
	cookie any
}

// TestIdleNotify_PooledCallbackReceivesKey verifies notify-mode aging
// end to end.
//
// Given fwd in notify mode with a pooled callback,
// And dst=10 added with a 100ms TTL,
// When the device ages its entries by 200ms,
// Then the callback runs on the worker pool with the key of dst=10 and
// the cookie it was registered with.
func TestIdleNotify_PooledCallbackReceivesKey(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	got := make(chan timeout, 1)
	err := fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{
		Mode:    bfrt.IdleNotify,
		Enabled: true,
		MaxTTL:  10_000,
		Callback: func(_ context.Context, tgt bfrt.Target, key *bfrt.Key, cookie any) {
			got <- timeout{tgt: tgt, key: key, cookie: cookie}
		},
		Cookie: "fwd-aging",
	})
	require.NoError(t, err)
	assert.True(t, fwd.IdlePoolRunning())

	d := f.FwdData(5)
	require.NoError(t, d.SetValue(testprog.FieldTTL, 100))
	_, err = fwd.Add(ctx, tgt, 0, f.FwdKey(10), d)
	require.NoError(t, err)

	require.NoError(t, f.Model.Sweep(ctx, 200*time.Millisecond))

	select {
	case to := <-got:
		assert.Equal(t, tgt, to.tgt)
		assert.Equal(t, uint64(10), keyDst(t, to.key))
		assert.Equal(t, "fwd-aging", to.cookie)
	case <-time.After(5 * time.Second):
		t.Fatal("idle callback did not run")
	}
}

// TestIdleNotify_SimpleCallbackRunsInline verifies the handle-only
// callback.
func TestIdleNotify_SimpleCallbackRunsInline(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	var handles []bfrt.EntryHandle
	err := fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{
		Mode:    bfrt.IdleNotify,
		Enabled: true,
		SimpleCallback: func(_ bfrt.Target, h bfrt.EntryHandle, _ any) {
			handles = append(handles, h)
		},
	})
	require.NoError(t, err)
	assert.False(t, fwd.IdlePoolRunning(), "simple callbacks need no pool")

	d := f.FwdData(5)
	require.NoError(t, d.SetValue(testprog.FieldTTL, 50))
	h, err := fwd.Add(ctx, tgt, 0, f.FwdKey(10), d)
	require.NoError(t, err)

	require.NoError(t, f.Model.Sweep(ctx, 20*time.Millisecond))
	assert.Empty(t, handles, "not yet expired")

	require.NoError(t, f.Model.Sweep(ctx, 40*time.Millisecond))
	assert.Equal(t, []bfrt.EntryHandle{h}, handles)

	require.NoError(t, f.Model.Sweep(ctx, 100*time.Millisecond))
	assert.Len(t, handles, 1, "an expired entry is reported once")
}

// TestIdleNotify_TTLReadsRemaining verifies that a TTL read reports
// the time left.
func TestIdleNotify_TTLReadsRemaining(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{
		Mode:           bfrt.IdleNotify,
		Enabled:        true,
		SimpleCallback: func(bfrt.Target, bfrt.EntryHandle, any) {},
	}))

	d := f.FwdData(5)
	require.NoError(t, d.SetValue(testprog.FieldTTL, 1000))
	_, err := fwd.Add(ctx, tgt, 0, f.FwdKey(10), d)
	require.NoError(t, err)
	require.NoError(t, f.Model.Sweep(ctx, 300*time.Millisecond))

	sel, err := fwd.NewDataWithFields(0, testprog.FieldTTL)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(10), sel))
	assert.Equal(t, uint64(700), value(t, sel, testprog.FieldTTL))
}

// TestIdleModes_FieldsAreExclusive verifies that TTL only applies in
// notify mode and hit state only in poll mode.
//
// Given fwd in poll mode,
// When I add an entry with an active hit state,
// Then reading it reports the hit state, a selected TTL read is
// rejected and adding with a TTL starts the entry active.
func TestIdleModes_FieldsAreExclusive(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{
		Mode:    bfrt.IdlePoll,
		Enabled: true,
	}))

	d := f.FwdData(5)
	require.NoError(t, d.SetValue(testprog.FieldHitState, uint64(bfrt.HitActive)))
	_, err := fwd.Add(ctx, tgt, 0, f.FwdKey(10), d)
	require.NoError(t, err)

	got, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(10), got))
	assert.Equal(t, uint64(bfrt.HitActive), value(t, got, testprog.FieldHitState))
	assert.False(t, got.IsActive(testprog.FieldTTL))

	sel, err := fwd.NewDataWithFields(0, testprog.FieldTTL)
	require.NoError(t, err)
	err = fwd.Get(ctx, tgt, 0, f.FwdKey(10), sel)
	var na bfrt.ErrFieldNotApplicable
	require.ErrorAs(t, err, &na)
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)

	withTTL := f.FwdData(5)
	require.NoError(t, withTTL.SetValue(testprog.FieldTTL, 1))
	_, err = fwd.Add(ctx, tgt, 0, f.FwdKey(11), withTTL)
	require.NoError(t, err)

	hit, err := fwd.NewDataWithFields(0, testprog.FieldHitState)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(11), hit))
	assert.Equal(t, uint64(bfrt.HitActive), value(t, hit, testprog.FieldHitState))

	ttlMod, err := fwd.NewDataWithFields(0, testprog.FieldTTL)
	require.NoError(t, err)
	require.NoError(t, ttlMod.SetValue(testprog.FieldTTL, 1))
	err = fwd.Modify(ctx, tgt, 0, f.FwdKey(11), ttlMod)
	assert.ErrorAs(t, err, &na)
}

// TestIdlePoll_HitStateClearsOnModify verifies hit-state writes.
func TestIdlePoll_HitStateClearsOnModify(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdlePoll, Enabled: true}))
	h := f.AddFwd(10, 5)
	require.NoError(t, f.Model.MarkHit(ctx, testprog.FwdTable, tgt, h))

	hit := func() uint64 {
		sel, err := fwd.NewDataWithFields(0, testprog.FieldHitState)
		require.NoError(t, err)
		require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(10), sel))
		return value(t, sel, testprog.FieldHitState)
	}
	assert.Equal(t, uint64(bfrt.HitActive), hit())

	f.Device.ResetOperations()
	idle, err := fwd.NewDataWithFields(0, testprog.FieldHitState)
	require.NoError(t, err)
	require.NoError(t, idle.SetValue(testprog.FieldHitState, uint64(bfrt.HitIdle)))
	require.NoError(t, fwd.Modify(ctx, tgt, 0, f.FwdKey(10), idle))
	f.AssertOps([]string{"Lookup", "SetIdle"})

	assert.Equal(t, uint64(bfrt.HitIdle), hit())
}

// TestSetIdleAttributes_Transitions verifies that the worker pool
// follows the configured mode.
func TestSetIdleAttributes_Transitions(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")
	cb := func(context.Context, bfrt.Target, *bfrt.Key, any) {}

	attrs, err := fwd.IdleAttributes(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, bfrt.IdleDisabled, attrs.Mode)
	assert.False(t, fwd.IdlePoolRunning())

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdleNotify, Enabled: true, MaxTTL: 5000, Callback: cb}))
	assert.True(t, fwd.IdlePoolRunning())

	attrs, err = fwd.IdleAttributes(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, bfrt.IdleNotify, attrs.Mode)
	assert.True(t, attrs.Enabled)
	assert.Equal(t, uint32(5000), attrs.MaxTTL)
	assert.NotNil(t, attrs.Callback)

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdleNotify, Enabled: false, Callback: cb}))
	assert.False(t, fwd.IdlePoolRunning(), "disabled notify mode runs no pool")

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdleNotify, Enabled: true, Callback: cb}))
	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdlePoll, Enabled: true}))
	assert.False(t, fwd.IdlePoolRunning())

	attrs, err = fwd.IdleAttributes(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, bfrt.IdlePoll, attrs.Mode)
	assert.Nil(t, attrs.Callback)
}

// TestSetIdleAttributes_DeviceFailureRestoresPool verifies the
// transition is atomic.
//
// Given fwd in notify mode with a running pool,
// When the device rejects a switch to poll mode,
// Then the error is returned, the pool runs again and the previous
// configuration is still reported.
func TestSetIdleAttributes_DeviceFailureRestoresPool(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")
	cb := func(context.Context, bfrt.Target, *bfrt.Key, any) {}

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdleNotify, Enabled: true, Callback: cb}))

	injected := errors.New("idle engine offline")
	f.Device.failIdleConfig = injected

	err := fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdlePoll, Enabled: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, injected)
	assert.True(t, fwd.IdlePoolRunning())

	attrs, err := fwd.IdleAttributes(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, bfrt.IdleNotify, attrs.Mode)
	assert.NotNil(t, attrs.Callback)
}

// TestSetIdleAttributes_Validation verifies attribute errors.
func TestSetIdleAttributes_Validation(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	cb := func(context.Context, bfrt.Target, *bfrt.Key, any) {}
	simple := func(bfrt.Target, bfrt.EntryHandle, any) {}

	err := f.Table("acl").SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdlePoll, Enabled: true})
	assert.ErrorIs(t, err, bfrt.ErrNotSupported)

	_, err = f.Table("acl").IdleAttributes(ctx, tgt)
	assert.ErrorIs(t, err, bfrt.ErrNotSupported)

	tests := []struct {
		name  string
		attrs manager.IdleAttributes
	}{
		{name: "notify without callback", attrs: manager.IdleAttributes{Mode: bfrt.IdleNotify, Enabled: true}},
		{name: "both callbacks", attrs: manager.IdleAttributes{Mode: bfrt.IdleNotify, Enabled: true, Callback: cb, SimpleCallback: simple}},
		{name: "minimum above maximum", attrs: manager.IdleAttributes{Mode: bfrt.IdlePoll, Enabled: true, MinTTL: 10, MaxTTL: 5}},
		{name: "unknown mode", attrs: manager.IdleAttributes{Mode: bfrt.IdleMode(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Table("fwd").SetIdleAttributes(ctx, tgt, tt.attrs)
			assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)
		})
	}
	assert.NotContains(t, f.Device.Operations(), "SetIdleConfig", "invalid attributes never reach the device")
}

// TestClose_StopsPools verifies that closing the manager stops every
// worker pool.
func TestClose_StopsPools(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{
		Mode:     bfrt.IdleNotify,
		Enabled:  true,
		Callback: func(context.Context, bfrt.Target, *bfrt.Key, any) {},
	}))
	require.True(t, fwd.IdlePoolRunning())

	require.NoError(t, f.Manager.Close())
	assert.False(t, fwd.IdlePoolRunning())
}

// TestSetIdleAttributes_DrainDoesNotBlockReaders verifies that a pool
// draining during a reconfiguration leaves the bundle readable.
//
// Given fwd in notify mode with a callback that is still running,
// When aging is disabled,
// Then the callback can read the idle attributes, the device keeps
// sweeping and the disable completes once the callback returns.
func TestSetIdleAttributes_DrainDoesNotBlockReaders(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	started := make(chan struct{})
	release := make(chan struct{})
	read := make(chan error, 1)
	require.NoError(t, fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{
		Mode:    bfrt.IdleNotify,
		Enabled: true,
		Callback: func(ctx context.Context, tgt bfrt.Target, _ *bfrt.Key, _ any) {
			close(started)
			<-release
			_, err := fwd.IdleAttributes(ctx, tgt)
			_ = fwd.IdlePoolRunning()
			read <- err
		},
	}))

	short := f.FwdData(5)
	require.NoError(t, short.SetValue(testprog.FieldTTL, 100))
	_, err := fwd.Add(ctx, tgt, 0, f.FwdKey(10), short)
	require.NoError(t, err)
	long := f.FwdData(6)
	require.NoError(t, long.SetValue(testprog.FieldTTL, 1000))
	_, err = fwd.Add(ctx, tgt, 0, f.FwdKey(11), long)
	require.NoError(t, err)

	require.NoError(t, f.Model.Sweep(ctx, 200*time.Millisecond))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("idle callback did not run")
	}

	disabled := make(chan error, 1)
	go func() {
		disabled <- fwd.SetIdleAttributes(ctx, tgt, manager.IdleAttributes{Mode: bfrt.IdleDisabled})
	}()
	require.Eventually(t, func() bool { return !fwd.IdlePoolRunning() }, 5*time.Second, 5*time.Millisecond,
		"pool is detached while its callback runs")

	swept := make(chan error, 1)
	go func() { swept <- f.Model.Sweep(ctx, time.Second) }()
	select {
	case err := <-swept:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep blocked behind a draining pool")
	}

	close(release)
	select {
	case err := <-read:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("callback blocked reading idle attributes")
	}
	select {
	case err := <-disabled:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("disable did not complete")
	}

	attrs, err := fwd.IdleAttributes(ctx, tgt)
	require.NoError(t, err)
	assert.Equal(t, bfrt.IdleDisabled, attrs.Mode)
	assert.False(t, fwd.IdlePoolRunning())
}
