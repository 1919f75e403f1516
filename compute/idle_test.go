package compute_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/compute"
	"github.com/frobware/go-bfrt/internal/testprog"
)

func TestCheckIdleField_ModeExclusivity(t *testing.T) {
	ttl := bfrt.DataField{ID: testprog.FieldTTL, Name: bfrt.FieldEntryTTL, Dest: bfrt.DestTTL}
	hit := bfrt.DataField{ID: testprog.FieldHitState, Name: bfrt.FieldEntryHitState, Dest: bfrt.DestHitState}
	port := bfrt.DataField{ID: testprog.FwdParamPort, Name: "port", Dest: bfrt.DestValue}

	poll := bfrt.IdleConfig{Mode: bfrt.IdlePoll, Enabled: true}
	notify := bfrt.IdleConfig{Mode: bfrt.IdleNotify, Enabled: true}
	disabled := bfrt.IdleConfig{}

	assert.ErrorIs(t, compute.CheckIdleField("fwd", poll, ttl), bfrt.ErrInvalidArgument)
	assert.NoError(t, compute.CheckIdleField("fwd", poll, hit))
	assert.NoError(t, compute.CheckIdleField("fwd", notify, ttl))
	assert.ErrorIs(t, compute.CheckIdleField("fwd", notify, hit), bfrt.ErrInvalidArgument)
	assert.Error(t, compute.CheckIdleField("fwd", disabled, ttl))
	assert.Error(t, compute.CheckIdleField("fwd", disabled, hit))
	assert.NoError(t, compute.CheckIdleField("fwd", disabled, port))

	var notApplicable bfrt.ErrFieldNotApplicable
	require.ErrorAs(t, compute.CheckIdleField("fwd", poll, ttl), &notApplicable)
	assert.Equal(t, bfrt.FieldEntryTTL, notApplicable.Field)
}

func TestInitialIdleValue(t *testing.T) {
	ts := testprog.Fwd()

	d, err := bfrt.NewData(ts, testprog.FwdSetPort)
	require.NoError(t, err)
	require.NoError(t, d.SetValue(testprog.FieldHitState, 1))

	v, err := compute.InitialIdleValue(bfrt.IdleConfig{Mode: bfrt.IdlePoll, Enabled: true}, d)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v, "poll mode starts active when hit state is set")

	_, err = compute.InitialIdleValue(bfrt.IdleConfig{Mode: bfrt.IdleNotify, Enabled: true}, d)
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument, "hit state is not applicable in notify mode")

	d2, err := bfrt.NewData(ts, testprog.FwdSetPort)
	require.NoError(t, err)
	require.NoError(t, d2.SetValue(testprog.FieldTTL, 2000))

	notify := bfrt.IdleConfig{Mode: bfrt.IdleNotify, Enabled: true, MinTTL: 100, MaxTTL: 10000}
	v, err = compute.InitialIdleValue(notify, d2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), v)

	require.NoError(t, d2.SetValue(testprog.FieldTTL, 20000))
	_, err = compute.InitialIdleValue(notify, d2)
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)

	poll := bfrt.IdleConfig{Mode: bfrt.IdlePoll, Enabled: true}
	v, err = compute.InitialIdleValue(poll, d2)
	require.NoError(t, err)
	assert.Equal(t, uint32(bfrt.HitActive), v, "a ttl on add in poll mode starts the entry active")

	require.NoError(t, d2.SetValue(testprog.FieldTTL, 0))
	v, err = compute.InitialIdleValue(poll, d2)
	require.NoError(t, err)
	assert.Equal(t, uint32(bfrt.HitIdle), v)

	_, _, err = compute.IdleValue(poll, d2, compute.TouchedFields(d2))
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument, "a ttl outside add stays rejected in poll mode")

	d3, err := bfrt.NewData(ts, testprog.FwdSetPort)
	require.NoError(t, err)
	v, err = compute.InitialIdleValue(bfrt.IdleConfig{}, d3)
	require.NoError(t, err)
	assert.Zero(t, v)
}
