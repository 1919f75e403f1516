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

// walk pages through fwd in batches of size and returns the dst of
// every entry visited.
func walk(t *testing.T, f *testFixture, sess bfrt.Session, size int) []uint64 {
	t.Helper()
	ctx := context.Background()
	fwd := f.Table("fwd")

	key := fwd.NewKey()
	d, err := fwd.NewData(0)
	require.NoError(t, err)
	require.NoError(t, fwd.GetFirst(ctx, sess, tgt, 0, key, d))
	seen := []uint64{keyDst(t, key)}

	slots, err := fwd.NewSlots(size)
	require.NoError(t, err)
	for {
		n, err := fwd.GetNextN(ctx, sess, tgt, 0, key, slots)
		require.NoError(t, err)
		if n == 0 {
			return seen
		}
		for _, s := range slots[:n] {
			require.False(t, s.Absent)
			seen = append(seen, keyDst(t, s.Key))
		}
		key = f.FwdKey(seen[len(seen)-1])
	}
}

// TestGetNextN_VisitsEveryEntry verifies pagination.
//
// Given ten entries,
// When I page through them three at a time,
// Then every entry is visited once in installation order.
func TestGetNextN_VisitsEveryEntry(t *testing.T) {
	f := newTestFixture(t)
	for dst := uint64(1); dst <= 10; dst++ {
		f.AddFwd(dst, dst)
	}

	got := walk(t, f, bfrt.NewSession(), 3)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

// TestGetNextN_SlotsCarryData verifies that each slot is filled with
// its entry's record.
func TestGetNextN_SlotsCarryData(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")
	sess := bfrt.NewSession()

	f.AddFwd(1, 11)
	f.AddFwd(2, 22)

	slots, err := fwd.NewSlots(4)
	require.NoError(t, err)
	n, err := fwd.GetNextN(ctx, sess, tgt, 0, f.FwdKey(1), slots)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, testprog.FwdSetPort, slots[0].Data.ActionID())
	assert.Equal(t, uint64(22), value(t, slots[0].Data, testprog.FwdParamPort))
}

// TestGetNextN_ResumesFromCursorAfterDelete verifies that iteration
// survives the deletion of the entry it stands on.
//
// Given five entries and a session positioned on dst=3,
// When dst=3 is deleted and the next batch is requested from its key,
// Then iteration resumes after the session cursor with dst=4 and dst=5.
func TestGetNextN_ResumesFromCursorAfterDelete(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")
	sess := bfrt.NewSession()

	for dst := uint64(1); dst <= 5; dst++ {
		f.AddFwd(dst, dst)
	}

	slots, err := fwd.NewSlots(2)
	require.NoError(t, err)
	n, err := fwd.GetNextN(ctx, sess, tgt, 0, f.FwdKey(1), slots)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, uint64(3), keyDst(t, slots[1].Key))

	require.NoError(t, fwd.Delete(ctx, tgt, 0, f.FwdKey(3)))

	n, err = fwd.GetNextN(ctx, sess, tgt, 0, f.FwdKey(3), slots)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, uint64(4), keyDst(t, slots[0].Key))
	assert.Equal(t, uint64(5), keyDst(t, slots[1].Key))
}

// TestGetNextN_UnreadableEntryIsAbsent verifies that a read failure
// inside a batch does not end it.
//
// Given six entries where dst=3 cannot be read,
// When I request four entries after dst=1,
// Then the dst=3 slot is absent, the slots after it are filled, all
// four are counted and the cursor stands on dst=5.
func TestGetNextN_UnreadableEntryIsAbsent(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")
	sess := bfrt.NewSession()

	handles := map[uint64]bfrt.EntryHandle{}
	for dst := uint64(1); dst <= 6; dst++ {
		handles[dst] = f.AddFwd(dst, dst*10)
	}
	f.Device.FailGet(handles[3], errors.New("entry read timed out"))

	slots, err := fwd.NewSlots(4)
	require.NoError(t, err)
	n, err := fwd.GetNextN(ctx, sess, tgt, 0, f.FwdKey(1), slots)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	assert.False(t, slots[0].Absent)
	assert.Equal(t, uint64(2), keyDst(t, slots[0].Key))
	assert.True(t, slots[1].Absent)
	for i, dst := range []uint64{4, 5} {
		s := slots[i+2]
		require.False(t, s.Absent)
		assert.Equal(t, dst, keyDst(t, s.Key))
		assert.Equal(t, dst*10, value(t, s.Data, testprog.FwdParamPort))
	}

	require.NoError(t, fwd.Delete(ctx, tgt, 0, f.FwdKey(5)))
	n, err = fwd.GetNextN(ctx, sess, tgt, 0, f.FwdKey(5), slots)
	require.NoError(t, err)
	require.Equal(t, 1, n, "iteration resumes after the cursor")
	assert.Equal(t, uint64(6), keyDst(t, slots[0].Key))
}

// TestGetNextN_CursorsArePerSession verifies that a session without a
// cursor cannot resume from a missing key.
func TestGetNextN_CursorsArePerSession(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	fwd := f.Table("fwd")

	f.AddFwd(1, 1)
	f.AddFwd(2, 2)

	slots, err := fwd.NewSlots(1)
	require.NoError(t, err)

	_, err = fwd.GetNextN(ctx, bfrt.NewSession(), tgt, 0, f.FwdKey(99), slots)
	assert.ErrorIs(t, err, bfrt.ErrObjectNotFound)

	n, err := fwd.GetNextN(ctx, bfrt.NewSession(), tgt, 0, f.FwdKey(1), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestGetFirst_EmptyTable verifies the first read of an empty table.
func TestGetFirst_EmptyTable(t *testing.T) {
	f := newTestFixture(t)
	fwd := f.Table("fwd")

	d, err := fwd.NewData(0)
	require.NoError(t, err)
	err = fwd.GetFirst(context.Background(), bfrt.NewSession(), tgt, 0, fwd.NewKey(), d)

	var nf bfrt.ErrEntryNotFound
	assert.ErrorAs(t, err, &nf)
}
