package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/action"
)

// scriptedExecutor records executed actions and fails the members
// listed in fail.
type scriptedExecutor struct {
	ran  []action.Action
	fail map[bfrt.MemberID]error
}

func (e *scriptedExecutor) Execute(_ context.Context, a action.Action) error {
	e.ran = append(e.ran, a)
	if dm, ok := a.(action.DeleteMember); ok {
		return e.fail[dm.Member]
	}
	return nil
}

func (e *scriptedExecutor) ExecuteAll(ctx context.Context, actions []action.Action) error {
	for _, a := range actions {
		if err := e.Execute(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestUndoStack_RunsNewestFirst(t *testing.T) {
	var undo undoStack
	for _, id := range []bfrt.MemberID{1, 2, 3} {
		undo.push(action.DeleteMember{Profile: 7, Member: id})
	}
	undo.push(action.DeleteGroup{Profile: 7, Group: 9})

	exec := &scriptedExecutor{}
	require.NoError(t, undo.rollback(context.Background(), exec, discard))
	assert.Equal(t, []action.Action{
		action.DeleteGroup{Profile: 7, Group: 9},
		action.DeleteMember{Profile: 7, Member: 3},
		action.DeleteMember{Profile: 7, Member: 2},
		action.DeleteMember{Profile: 7, Member: 1},
	}, exec.ran)
}

func TestUndoStack_ContinuesPastFailures(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	var undo undoStack
	for _, id := range []bfrt.MemberID{1, 2, 3} {
		undo.push(action.DeleteMember{Member: id})
	}

	exec := &scriptedExecutor{fail: map[bfrt.MemberID]error{1: errA, 3: errB}}
	err := undo.rollback(context.Background(), exec, discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, exec.ran, 3, "every step runs")
}

func TestUndoStack_EmptyIsNoop(t *testing.T) {
	var undo undoStack
	exec := &scriptedExecutor{}
	assert.NoError(t, undo.rollback(context.Background(), exec, discard))
	assert.Empty(t, exec.ran)
}
