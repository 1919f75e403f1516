package manager

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/action"
	"github.com/frobware/go-bfrt/compute"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// DefaultGet reads the default entry into data. When no default has
// been programmed the action the program declares is reported, with
// its direct resources at zero. Default entries do not age, so idle
// fields are never active.
func (t *Table) DefaultGet(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, data *bfrt.Data) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "default_get", start, err) }(time.Now())

	if err := t.checkData(data); err != nil {
		return err
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return err
	}
	mask := compute.FetchMaskFor(data)

	spec := bfrt.AcquireActionSpec()
	defer spec.Release()

	got, err := t.m.dev.GetDefaultEntry(ctx, t.schema.ID, tgt, mask)
	switch {
	case err == nil:
		*spec = got
	case errors.Is(err, store.ErrNotFound):
		spec.ActionID = t.schema.Default.Action
		maps.Copy(spec.Params, t.schema.Default.Params)
		if err := compute.ReconcileResources(t.dir, spec.ActionID, spec, true); err != nil {
			return fmt.Errorf("table %s: default entry: %w", t.schema.Name, err)
		}
	default:
		return fmt.Errorf("table %s: get default entry: %w", t.schema.Name, err)
	}

	e := bfrt.Entry{Action: *spec}
	return t.fill(&e, mask, bfrt.IdleConfig{Mode: bfrt.IdleDisabled}, data)
}

// DefaultSet programs the default entry. Tables with a const default
// reject it, as do table-only actions.
//
// Pattern: COMPUTE -> EXECUTE
func (t *Table) DefaultSet(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, data *bfrt.Data) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "default_set", start, err) }(time.Now())

	if t.schema.Default.Const {
		return bfrt.ErrTableImmutable{Table: t.schema.Name, Op: "default set"}
	}
	if err := t.checkData(data); err != nil {
		return err
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return err
	}
	if !t.schema.Kind.Indirect() {
		as, ok := t.schema.Action(data.ActionID())
		if !ok {
			return fmt.Errorf("%w: table %s: default entry needs an action", bfrt.ErrInvalidArgument, t.schema.Name)
		}
		if as.TableOnly {
			return fmt.Errorf("%w: table %s: action %s is table-only", bfrt.ErrInvalidArgument, t.schema.Name, as.Name)
		}
	}

	// COMPUTE
	spec := bfrt.AcquireActionSpec()
	defer spec.Release()

	if err := compute.BuildActionSpec(t.dir, data, spec); err != nil {
		return err
	}
	if t.schema.Kind.Indirect() && !spec.HasMember && !spec.HasGroup {
		return fmt.Errorf("%w: table %s: default entry needs %s or %s", bfrt.ErrInvalidArgument, t.schema.Name, bfrt.FieldMemberID, bfrt.FieldGroupID)
	}
	if err := compute.ReconcileResources(t.dir, spec.ActionID, spec, true); err != nil {
		return fmt.Errorf("table %s: %w", t.schema.Name, err)
	}
	if err := t.resolve(ctx, tgt, spec); err != nil {
		return err
	}

	// EXECUTE
	if err := t.m.executor.Execute(ctx, action.SetDefaultEntry{Table: t.schema.ID, Target: tgt, Spec: spec}); err != nil {
		return fmt.Errorf("table %s: set default entry: %w", t.schema.Name, err)
	}
	t.logger.DebugContext(ctx, "default entry set", "target", tgt, "action", spec.ActionID)
	return nil
}

// DefaultReset restores the default action the program declares. It is
// a no-op when that action is const.
func (t *Table) DefaultReset(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "default_reset", start, err) }(time.Now())

	if err := t.checkTarget(ctx, tgt); err != nil {
		return err
	}
	if t.schema.Default.Const {
		return nil
	}
	if err := t.m.executor.Execute(ctx, action.ResetDefaultEntry{Table: t.schema.ID, Target: tgt}); err != nil {
		return fmt.Errorf("table %s: reset default entry: %w", t.schema.Name, err)
	}
	t.logger.DebugContext(ctx, "default entry reset", "target", tgt)
	return nil
}
