package manager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/internal/testprog"
)

// TestAdd_GetReturnsProgrammedEntry verifies the basic write and read
// path.
//
// Given an empty fwd table,
// When I add dst=10 -> set_port(5) and read it back with an all-fields
// record,
// Then the record is rebound to set_port with port 5, the counter reads
// zero and the register reads zero on every pipe.
func TestAdd_GetReturnsProgrammedEntry(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	f.AddFwd(10, 5)

	d, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(10), d))

	assert.Equal(t, testprog.FwdSetPort, d.ActionID())
	assert.Equal(t, uint64(5), value(t, d, testprog.FwdParamPort))
	assert.Equal(t, uint64(0), value(t, d, testprog.FieldBytes))
	assert.Equal(t, uint64(0), value(t, d, testprog.FieldPackets))

	regs, err := d.Values(testprog.FieldRegister)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 0, 0}, regs, "register is read back per pipe")

	assert.False(t, d.IsActive(testprog.FieldCIR), "set_port has no meter")
	assert.False(t, d.IsActive(testprog.FieldTTL), "aging is disabled")
	assert.False(t, d.IsActive(testprog.FieldHitState), "aging is disabled")
}

// TestAdd_DuplicateKeyRejected verifies that a key installs one entry.
//
// Given an installed entry dst=1,
// When I add dst=1 again,
// Then the add fails with an invalid argument and usage stays at one.
func TestAdd_DuplicateKeyRejected(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	f.AddFwd(1, 1)
	_, err := fwd.Add(ctx, tgt, 0, f.FwdKey(1), f.FwdData(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)

	n, err := fwd.Usage(ctx, tgt, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
}

// TestAdd_RejectsActionsAnEntryCannotCarry verifies action checks on
// add.
func TestAdd_RejectsActionsAnEntryCannotCarry(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	tests := []struct {
		name   string
		action bfrt.ActionID
	}{
		{name: "no action", action: 0},
		{name: "default-only action", action: testprog.FwdDefaultOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := fwd.NewData(tt.action)
			require.NoError(t, err)
			_, err = fwd.Add(ctx, tgt, 0, f.FwdKey(1), d)
			assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)
		})
	}
}

// TestAdd_ForeignKeyRejected verifies that keys and records are bound
// to the table that allocated them.
func TestAdd_ForeignKeyRejected(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	k := f.Table("nh").NewKey()
	require.NoError(t, k.SetExactUint(testprog.NhKeyVrf, 1))

	_, err := f.Table("fwd").Add(ctx, tgt, 0, k, f.FwdData(1))
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)
}

// TestAdd_SymmetricTableRejectsSinglePipeTarget verifies target checks.
func TestAdd_SymmetricTableRejectsSinglePipeTarget(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, err := f.Table("fwd").Add(ctx, bfrt.Target{Device: 0, Pipe: 1}, 0, f.FwdKey(1), f.FwdData(1))
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)

	_, err = f.Table("fwd").Add(ctx, bfrt.DeviceTarget(7), 0, f.FwdKey(1), f.FwdData(1))
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)
}

// TestModify_ReplacesActionAndResources verifies an all-fields modify.
//
// Given dst=10 -> set_port(5),
// When I modify it to set_port_metered(6) with register 7 and a CIR,
// Then a read returns the new action, its parameter, the meter and the
// register replicated on every pipe.
func TestModify_ReplacesActionAndResources(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	f.AddFwd(10, 5)

	d, err := fwd.NewData(testprog.FwdSetPortMeter)
	require.NoError(t, err)
	require.NoError(t, d.SetValue(testprog.FwdParamPort, 6))
	require.NoError(t, d.SetValue(testprog.FieldRegister, 7))
	require.NoError(t, d.SetValue(testprog.FieldCIR, 1000))
	require.NoError(t, fwd.Modify(ctx, tgt, 0, f.FwdKey(10), d))

	got, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(10), got))

	assert.Equal(t, testprog.FwdSetPortMeter, got.ActionID())
	assert.Equal(t, uint64(6), value(t, got, testprog.FwdParamPort))
	assert.Equal(t, uint64(1000), value(t, got, testprog.FieldCIR))
	regs, err := got.Values(testprog.FieldRegister)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 7, 7, 7}, regs)
}

// TestModify_MissingEntry verifies the typed not-found error.
func TestModify_MissingEntry(t *testing.T) {
	f := newTestFixture(t)

	err := f.Table("fwd").Modify(context.Background(), tgt, 0, f.FwdKey(42), f.FwdData(1))
	require.Error(t, err)

	var nf bfrt.ErrEntryNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "fwd", nf.Table)
	assert.ErrorIs(t, err, bfrt.ErrObjectNotFound)
}

// TestModify_OneWritePerCategory verifies that a selected-fields modify
// is partitioned by destination.
//
// Given dst=10 -> set_port_metered(5),
// When I modify only CIR, the register and the byte counter,
// Then the device sees one lookup, one resource write and one counter
// write, and the action is untouched.
func TestModify_OneWritePerCategory(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	d, err := fwd.NewData(testprog.FwdSetPortMeter)
	require.NoError(t, err)
	require.NoError(t, d.SetValue(testprog.FwdParamPort, 5))
	_, err = fwd.Add(ctx, tgt, 0, f.FwdKey(10), d)
	require.NoError(t, err)
	f.Device.ResetOperations()

	sel, err := fwd.NewDataWithFields(0, testprog.FieldCIR, testprog.FieldRegister, testprog.FieldBytes)
	require.NoError(t, err)
	require.NoError(t, sel.SetValue(testprog.FieldCIR, 2000))
	require.NoError(t, sel.SetValue(testprog.FieldRegister, 3))
	require.NoError(t, sel.SetValue(testprog.FieldBytes, 99))
	require.NoError(t, fwd.Modify(ctx, tgt, 0, f.FwdKey(10), sel))

	f.AssertOps([]string{"Lookup", "SetResources", "SetDirectCounter"})

	got, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(10), got))
	assert.Equal(t, testprog.FwdSetPortMeter, got.ActionID())
	assert.Equal(t, uint64(5), value(t, got, testprog.FwdParamPort))
	assert.Equal(t, uint64(2000), value(t, got, testprog.FieldCIR))
	assert.Equal(t, uint64(99), value(t, got, testprog.FieldBytes))
	regs, err := got.Values(testprog.FieldRegister)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 3, 3, 3}, regs)
}

// TestModify_EmptySelectionIsNoop verifies that a record touching
// nothing issues no writes.
func TestModify_EmptySelectionIsNoop(t *testing.T) {
	f := newTestFixture(t)
	fwd := f.Table("fwd")

	f.AddFwd(10, 5)
	f.Device.ResetOperations()

	sel, err := fwd.NewDataWithFields(0)
	require.NoError(t, err)
	require.NoError(t, fwd.Modify(context.Background(), tgt, 0, f.FwdKey(10), sel))

	f.AssertOps([]string{"Lookup"})
}

// TestModify_SkipCounterReset verifies counter retention across an
// action replacement.
//
// Given dst=10 whose counter reads 50 bytes,
// When I replace its action once with FlagSkipCounterReset and once
// without,
// Then the counter survives the first modify and is zeroed by the
// second.
func TestModify_SkipCounterReset(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	f.AddFwd(10, 5)
	sel, err := fwd.NewDataWithFields(0, testprog.FieldBytes)
	require.NoError(t, err)
	require.NoError(t, sel.SetValue(testprog.FieldBytes, 50))
	require.NoError(t, fwd.Modify(ctx, tgt, 0, f.FwdKey(10), sel))

	bytesNow := func() uint64 {
		got, err := fwd.NewDataWithFields(0, testprog.FieldBytes)
		require.NoError(t, err)
		require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(10), got))
		return value(t, got, testprog.FieldBytes)
	}

	require.NoError(t, fwd.Modify(ctx, tgt, bfrt.FlagSkipCounterReset, f.FwdKey(10), f.FwdData(6)))
	assert.Equal(t, uint64(50), bytesNow(), "counter retained")

	require.NoError(t, fwd.Modify(ctx, tgt, 0, f.FwdKey(10), f.FwdData(7)))
	assert.Equal(t, uint64(0), bytesNow(), "counter reset")
}

// TestAddOrModify_SingleLookup verifies that one lookup decides between
// add and modify.
func TestAddOrModify_SingleLookup(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	added, err := fwd.AddOrModify(ctx, tgt, 0, f.FwdKey(3), f.FwdData(1))
	require.NoError(t, err)
	assert.True(t, added)
	f.AssertOps([]string{"Lookup", "AddEntry"})

	f.Device.ResetOperations()
	added, err = fwd.AddOrModify(ctx, tgt, 0, f.FwdKey(3), f.FwdData(2))
	require.NoError(t, err)
	assert.False(t, added)
	f.AssertOps([]string{"Lookup", "SetAction"})

	got, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(ctx, tgt, 0, f.FwdKey(3), got))
	assert.Equal(t, uint64(2), value(t, got, testprog.FwdParamPort))
}

// TestGet_SelectedFieldsKeepConditionalFields verifies that a
// selected-fields read drops the fields the entry's action does not
// carry.
//
// Given dst=10 -> set_port(5), which has a counter but no meter,
// When I read bytes and CIR,
// Then bytes stays active and CIR is removed from the active set.
func TestGet_SelectedFieldsKeepConditionalFields(t *testing.T) {
	f := newTestFixture(t)
	fwd := f.Table("fwd")

	f.AddFwd(10, 5)

	sel, err := fwd.NewDataWithFields(0, testprog.FieldBytes, testprog.FieldCIR)
	require.NoError(t, err)
	require.NoError(t, fwd.Get(context.Background(), tgt, 0, f.FwdKey(10), sel))

	assert.Equal(t, testprog.FwdSetPort, sel.ActionID())
	assert.True(t, sel.IsActive(testprog.FieldBytes))
	assert.False(t, sel.IsActive(testprog.FieldCIR))
	assert.False(t, sel.IsActive(testprog.FwdParamPort), "parameters were not requested")
}

// TestGetByHandle_FillsKey verifies reads by handle.
func TestGetByHandle_FillsKey(t *testing.T) {
	f := newTestFixture(t)
	fwd := f.Table("fwd")

	h := f.AddFwd(77, 3)

	k := fwd.NewKey()
	d, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.GetByHandle(context.Background(), tgt, 0, h, k, d))

	assert.Equal(t, uint64(77), keyDst(t, k))
	assert.Equal(t, uint64(3), value(t, d, testprog.FwdParamPort))
}

// TestDelete_IgnoreNotFound verifies the delete flags.
func TestDelete_IgnoreNotFound(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	f.AddFwd(1, 1)
	require.NoError(t, fwd.Delete(ctx, tgt, 0, f.FwdKey(1)))

	err := fwd.Delete(ctx, tgt, 0, f.FwdKey(1))
	assert.ErrorIs(t, err, bfrt.ErrObjectNotFound)

	assert.NoError(t, fwd.Delete(ctx, tgt, bfrt.FlagIgnoreNotFound, f.FwdKey(1)))
}

// TestImmutableTable_RejectsWrites verifies that every entry write to a
// table with fixed entries fails without touching the device.
func TestImmutableTable_RejectsWrites(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	tbl := f.Table("const")

	k := tbl.NewKey()
	require.NoError(t, k.SetExactUint(testprog.ConstKeyPort, 1))
	d, err := tbl.NewData(testprog.ConstNoop)
	require.NoError(t, err)

	errs := []error{
		func() error { _, err := tbl.Add(ctx, tgt, 0, k, d); return err }(),
		tbl.Modify(ctx, tgt, 0, k, d),
		func() error { _, err := tbl.AddOrModify(ctx, tgt, 0, k, d); return err }(),
		tbl.Delete(ctx, tgt, 0, k),
		tbl.Clear(ctx, tgt, 0),
	}
	for _, err := range errs {
		var imm bfrt.ErrTableImmutable
		require.ErrorAs(t, err, &imm)
		assert.Equal(t, "const", imm.Table)
		assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)
	}
	assert.Empty(t, f.Device.Operations())
}

// TestClear_RemovesEntriesAndRestoresDefault verifies clear.
//
// Given three entries and a programmed default action,
// When I clear the table,
// Then usage is zero and the default reads back as the declared drop
// action.
func TestClear_RemovesEntriesAndRestoresDefault(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	for dst := uint64(1); dst <= 3; dst++ {
		f.AddFwd(dst, dst)
	}
	require.NoError(t, fwd.DefaultSet(ctx, tgt, 0, f.FwdData(9)))

	require.NoError(t, fwd.Clear(ctx, tgt, 0))

	n, err := fwd.Usage(ctx, tgt, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	d, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.DefaultGet(ctx, tgt, 0, d))
	assert.Equal(t, testprog.FwdDrop, d.ActionID())
}

// TestEntryScope_ChangesOnlyWhileEmpty verifies pipe partitioning.
func TestEntryScope_ChangesOnlyWhileEmpty(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	scope, err := fwd.EntryScope(ctx)
	require.NoError(t, err)
	assert.Equal(t, bfrt.ScopeAllPipes, scope)

	f.AddFwd(1, 1)
	err = fwd.SetEntryScope(ctx, bfrt.ScopeSinglePipe)
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)

	require.NoError(t, fwd.Delete(ctx, tgt, 0, f.FwdKey(1)))
	require.NoError(t, fwd.SetEntryScope(ctx, bfrt.ScopeSinglePipe))

	pipe2 := bfrt.Target{Device: 0, Pipe: 2}
	_, err = fwd.Add(ctx, pipe2, 0, f.FwdKey(1), f.FwdData(1))
	require.NoError(t, err)

	_, err = fwd.Add(ctx, tgt, 0, f.FwdKey(2), f.FwdData(1))
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument, "all-pipes target on an asymmetric table")

	n, err := fwd.Usage(ctx, bfrt.Target{Device: 0, Pipe: 1}, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "entries are partitioned per pipe")

	usage, err := f.Manager.TableUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), usage["fwd"])
}

// TestDefault_SetGetReset verifies the default entry lifecycle.
func TestDefault_SetGetReset(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	read := func() *bfrt.Data {
		d, err := fwd.NewData(0)
		require.NoError(t, err)
		require.NoError(t, fwd.DefaultGet(ctx, tgt, 0, d))
		return d
	}

	assert.Equal(t, testprog.FwdDrop, read().ActionID(), "declared default")

	require.NoError(t, fwd.DefaultSet(ctx, tgt, 0, f.FwdData(4)))
	d := read()
	assert.Equal(t, testprog.FwdSetPort, d.ActionID())
	assert.Equal(t, uint64(4), value(t, d, testprog.FwdParamPort))
	assert.False(t, d.IsActive(testprog.FieldTTL), "default entries do not age")

	punt, err := fwd.NewData(testprog.FwdDefaultOnly)
	require.NoError(t, err)
	require.NoError(t, fwd.DefaultSet(ctx, tgt, 0, punt), "default-only action")

	require.NoError(t, fwd.DefaultReset(ctx, tgt, 0))
	assert.Equal(t, testprog.FwdDrop, read().ActionID())
}

// TestDefault_ConstAndTableOnly verifies default entry restrictions.
func TestDefault_ConstAndTableOnly(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	cst := f.Table("const")
	d, err := cst.NewData(testprog.ConstNoop)
	require.NoError(t, err)
	err = cst.DefaultSet(ctx, tgt, 0, d)
	var imm bfrt.ErrTableImmutable
	require.ErrorAs(t, err, &imm)
	assert.NoError(t, cst.DefaultReset(ctx, tgt, 0), "reset of a const default is a no-op")

	acl := f.Table("acl")
	deny, err := acl.NewData(testprog.AclDeny)
	require.NoError(t, err)
	require.NoError(t, deny.SetValue(testprog.AclParamCode, 3))
	err = acl.DefaultSet(ctx, tgt, 0, deny)
	assert.ErrorIs(t, err, bfrt.ErrInvalidArgument)
	assert.False(t, errors.Is(err, bfrt.ErrObjectNotFound))
}
