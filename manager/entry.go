package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/action"
	"github.com/frobware/go-bfrt/compute"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// clearBatch is the number of handles fetched per round trip while
// collecting the entries a clear deletes.
const clearBatch = 256

// idleConfig returns the aging configuration of the target. Tables
// without aging support always report disabled.
func (t *Table) idleConfig(ctx context.Context, tgt bfrt.Target) (bfrt.IdleConfig, error) {
	if !t.schema.Idle {
		return bfrt.IdleConfig{Mode: bfrt.IdleDisabled}, nil
	}
	cfg, err := t.m.dev.IdleConfig(ctx, t.schema.ID, tgt)
	if err != nil {
		return bfrt.IdleConfig{}, fmt.Errorf("table %s: idle config: %w", t.schema.Name, err)
	}
	return cfg, nil
}

// checkWritableAction rejects the actions an explicit entry cannot
// carry.
func (t *Table) checkWritableAction(id bfrt.ActionID) error {
	if t.schema.Kind.Indirect() {
		return nil
	}
	if id == 0 {
		return fmt.Errorf("%w: table %s: no action selected", bfrt.ErrInvalidArgument, t.schema.Name)
	}
	as, ok := t.schema.Action(id)
	if !ok {
		return fmt.Errorf("%w: table %s: unknown action %d", bfrt.ErrInvalidArgument, t.schema.Name, id)
	}
	if as.DefaultOnly {
		return fmt.Errorf("%w: table %s: action %s is default-only", bfrt.ErrInvalidArgument, t.schema.Name, as.Name)
	}
	return nil
}

// Add installs an entry and returns its handle.
func (t *Table) Add(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, key *bfrt.Key, data *bfrt.Data) (h bfrt.EntryHandle, err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "add", start, err) }(time.Now())

	if t.schema.Immutable {
		return 0, bfrt.ErrTableImmutable{Table: t.schema.Name, Op: "add"}
	}
	if err := t.checkEntryArgs(ctx, tgt, key, data); err != nil {
		return 0, err
	}
	return t.add(ctx, tgt, key, data)
}

func (t *Table) checkEntryArgs(ctx context.Context, tgt bfrt.Target, key *bfrt.Key, data *bfrt.Data) error {
	if err := t.checkKey(key); err != nil {
		return err
	}
	if err := t.checkData(data); err != nil {
		return err
	}
	return t.checkTarget(ctx, tgt)
}

func (t *Table) add(ctx context.Context, tgt bfrt.Target, key *bfrt.Key, data *bfrt.Data) (bfrt.EntryHandle, error) {
	// FETCH
	if err := t.checkWritableAction(data.ActionID()); err != nil {
		return 0, err
	}
	match, err := key.MatchSpec()
	if err != nil {
		return 0, err
	}
	cfg, err := t.idleConfig(ctx, tgt)
	if err != nil {
		return 0, err
	}

	// COMPUTE
	idle, err := compute.InitialIdleValue(cfg, data)
	if err != nil {
		return 0, err
	}
	spec := bfrt.AcquireActionSpec()
	defer spec.Release()

	if err := compute.BuildActionSpec(t.dir, data, spec); err != nil {
		return 0, err
	}
	if t.schema.Kind.Indirect() && !spec.HasMember && !spec.HasGroup {
		return 0, fmt.Errorf("%w: table %s: entry needs %s or %s", bfrt.ErrInvalidArgument, t.schema.Name, bfrt.FieldMemberID, bfrt.FieldGroupID)
	}
	if err := compute.ReconcileResources(t.dir, spec.ActionID, spec, false); err != nil {
		return 0, fmt.Errorf("table %s: %w", t.schema.Name, err)
	}
	if err := t.resolve(ctx, tgt, spec); err != nil {
		return 0, err
	}

	// EXECUTE
	h, err := t.m.dev.AddEntry(ctx, t.schema.ID, tgt, match, spec, idle)
	if err != nil {
		return 0, fmt.Errorf("table %s: add entry: %w", t.schema.Name, err)
	}
	t.logger.DebugContext(ctx, "entry added", "target", tgt, "handle", h, "action", spec.ActionID)
	return h, nil
}

// Modify updates the entry a key matches.
func (t *Table) Modify(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, key *bfrt.Key, data *bfrt.Data) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "modify", start, err) }(time.Now())

	if t.schema.Immutable {
		return bfrt.ErrTableImmutable{Table: t.schema.Name, Op: "modify"}
	}
	if err := t.checkEntryArgs(ctx, tgt, key, data); err != nil {
		return err
	}
	h, err := t.lookup(ctx, tgt, key)
	if err != nil {
		return err
	}
	return t.modifyHandle(ctx, tgt, flags, h, data)
}

// AddOrModify modifies the entry a key matches, or adds it when there is
// none. added reports which happened. A single lookup decides.
func (t *Table) AddOrModify(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, key *bfrt.Key, data *bfrt.Data) (added bool, err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "add_or_modify", start, err) }(time.Now())

	if t.schema.Immutable {
		return false, bfrt.ErrTableImmutable{Table: t.schema.Name, Op: "add-or-modify"}
	}
	if err := t.checkEntryArgs(ctx, tgt, key, data); err != nil {
		return false, err
	}
	h, err := t.lookup(ctx, tgt, key)
	switch {
	case err == nil:
		return false, t.modifyHandle(ctx, tgt, flags, h, data)
	case errors.Is(err, bfrt.ErrObjectNotFound):
		if _, err := t.add(ctx, tgt, key, data); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, err
	}
}

// modifyHandle applies a record to an installed entry. Touched fields
// are partitioned by destination and each category is programmed with
// at most one write.
//
// Pattern: FETCH -> COMPUTE -> EXECUTE
func (t *Table) modifyHandle(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, h bfrt.EntryHandle, data *bfrt.Data) error {
	indirect := t.schema.Kind.Indirect()
	touched := compute.TouchedFields(data)
	p := compute.PartitionFields(touched)
	// A direct-table record for action 0 only carries common fields and
	// cannot replace the action.
	allFields := data.AllFields() && (indirect || data.ActionID() != 0)
	if !allFields && p.Empty() {
		return nil
	}

	// FETCH
	cfg, err := t.idleConfig(ctx, tgt)
	if err != nil {
		return err
	}
	var current *bfrt.Entry
	fetchCurrent := func() (*bfrt.Entry, error) {
		if current != nil {
			return current, nil
		}
		e, err := t.m.dev.GetEntry(ctx, t.schema.ID, tgt, h, 0)
		if errors.Is(err, store.ErrNotFound) {
			return nil, bfrt.ErrEntryNotFound{Table: t.schema.Name}
		}
		if err != nil {
			return nil, fmt.Errorf("table %s: get entry %d: %w", t.schema.Name, h, err)
		}
		current = &e
		return current, nil
	}

	// COMPUTE
	idle, _, err := compute.IdleValue(cfg, data, p.Idle)
	if err != nil {
		return err
	}
	spec := bfrt.AcquireActionSpec()
	defer spec.Release()

	in := compute.ModifyInput{
		Table:     t.schema.ID,
		Target:    tgt,
		Handle:    h,
		AllFields: allFields,
		Partition: p,
		Spec:      spec,
		Idle:      idle,
		Flags:     flags,
	}
	if compute.ReplacesAction(allFields, p) {
		if err := t.checkWritableAction(data.ActionID()); err != nil {
			return err
		}
		if err := compute.BuildActionSpec(t.dir, data, spec); err != nil {
			return err
		}
		if indirect && !spec.HasMember && !spec.HasGroup {
			e, err := fetchCurrent()
			if err != nil {
				return err
			}
			spec.MemberID, spec.HasMember = e.Action.MemberID, e.Action.HasMember
			spec.GroupID, spec.HasGroup = e.Action.GroupID, e.Action.HasGroup
		}
		if err := compute.ReconcileResources(t.dir, spec.ActionID, spec, false); err != nil {
			return fmt.Errorf("table %s: %w", t.schema.Name, err)
		}
		if err := t.resolve(ctx, tgt, spec); err != nil {
			return err
		}
		if flags.Has(bfrt.FlagSkipCounterReset) {
			compute.RetainCounters(spec, touched)
		}
	} else {
		if len(p.Resources) > 0 {
			programmed := data.ActionID()
			if !indirect && programmed == 0 {
				e, err := fetchCurrent()
				if err != nil {
					return err
				}
				programmed = e.Action.ActionID
			}
			if in.Resources, err = compute.ResourceSpecs(t.dir, programmed, data, p.Resources); err != nil {
				return err
			}
		}
		if in.Counter, err = compute.CounterValue(data, p.Counter); err != nil {
			return err
		}
	}
	actions := compute.ModifyActions(in)

	// EXECUTE
	if err := t.m.executor.ExecuteAll(ctx, actions); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %w", bfrt.ErrEntryNotFound{Table: t.schema.Name}, err)
		}
		return fmt.Errorf("table %s: modify entry %d: %w", t.schema.Name, h, err)
	}
	t.logger.DebugContext(ctx, "entry modified", "target", tgt, "handle", h, "writes", len(actions))
	return nil
}

// Delete removes the entry a key matches. With FlagIgnoreNotFound an
// absent entry is not an error.
func (t *Table) Delete(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, key *bfrt.Key) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "delete", start, err) }(time.Now())

	if t.schema.Immutable {
		return bfrt.ErrTableImmutable{Table: t.schema.Name, Op: "delete"}
	}
	if err := t.checkKey(key); err != nil {
		return err
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return err
	}
	ignore := flags.Has(bfrt.FlagIgnoreNotFound)

	h, err := t.lookup(ctx, tgt, key)
	if err != nil {
		if ignore && errors.Is(err, bfrt.ErrObjectNotFound) {
			return nil
		}
		return err
	}
	err = t.m.executor.Execute(ctx, action.DeleteEntry{Table: t.schema.ID, Target: tgt, Handle: h})
	if errors.Is(err, store.ErrNotFound) {
		// Deleted between the lookup and the delete.
		if ignore {
			return nil
		}
		return bfrt.ErrEntryNotFound{Table: t.schema.Name}
	}
	if err != nil {
		return fmt.Errorf("table %s: delete entry %d: %w", t.schema.Name, h, err)
	}
	t.logger.DebugContext(ctx, "entry deleted", "target", tgt, "handle", h)
	return nil
}

// Get reads the entry a key matches into data. An all-fields record is
// rebound to the entry's action; a selected-fields record keeps the
// requested fields that are valid for it. Fields whose condition does
// not hold are removed from the active set.
func (t *Table) Get(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, key *bfrt.Key, data *bfrt.Data) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "get", start, err) }(time.Now())

	if err := t.checkEntryArgs(ctx, tgt, key, data); err != nil {
		return err
	}
	h, err := t.lookup(ctx, tgt, key)
	if err != nil {
		return err
	}
	return t.read(ctx, tgt, h, nil, data)
}

// GetByHandle reads an entry by handle. key, when not nil, receives the
// entry's match key.
func (t *Table) GetByHandle(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags, h bfrt.EntryHandle, key *bfrt.Key, data *bfrt.Data) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "get", start, err) }(time.Now())

	if key != nil {
		if err := t.checkKey(key); err != nil {
			return err
		}
	}
	if err := t.checkData(data); err != nil {
		return err
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return err
	}
	return t.read(ctx, tgt, h, key, data)
}

// read fetches an entry with the fetch mask data needs and fills key
// and data from it.
//
// Pattern: FETCH -> COMPUTE
func (t *Table) read(ctx context.Context, tgt bfrt.Target, h bfrt.EntryHandle, key *bfrt.Key, data *bfrt.Data) error {
	cfg, err := t.idleConfig(ctx, tgt)
	if err != nil {
		return err
	}
	if !data.AllFields() {
		for _, f := range data.Fields() {
			if err := compute.CheckIdleField(t.schema.Name, cfg, f); err != nil {
				return err
			}
		}
	}
	mask := compute.FetchMaskFor(data)

	e, err := t.m.dev.GetEntry(ctx, t.schema.ID, tgt, h, mask)
	if errors.Is(err, store.ErrNotFound) {
		return bfrt.ErrEntryNotFound{Table: t.schema.Name}
	}
	if err != nil {
		return fmt.Errorf("table %s: get entry %d: %w", t.schema.Name, h, err)
	}
	if key != nil {
		if err := key.SetMatchSpec(e.Match); err != nil {
			return err
		}
	}
	return t.fill(&e, mask, cfg, data)
}

// fill demultiplexes an entry read from the device into a record.
func (t *Table) fill(e *bfrt.Entry, mask bfrt.FetchMask, cfg bfrt.IdleConfig, data *bfrt.Data) error {
	act := e.Action.ActionID
	if t.schema.Kind.Indirect() {
		act = 0
	}
	if data.AllFields() {
		if err := data.Reset(act); err != nil {
			return err
		}
	} else {
		var keep []bfrt.FieldID
		for _, id := range data.ActiveFields() {
			if _, ok := t.schema.DataField(act, id); ok {
				keep = append(keep, id)
			}
		}
		if err := data.ResetWithFields(act, keep...); err != nil {
			return err
		}
	}

	for _, f := range data.Fields() {
		var err error
		switch f.Dest {
		case bfrt.DestValue, bfrt.DestIndirectIndex:
			if v, ok := e.Action.Params[f.ID]; ok {
				err = data.SetBytes(f.ID, v)
			} else {
				err = data.SetValue(f.ID, 0)
			}
		case bfrt.DestMemberID:
			if e.Action.HasMember {
				err = data.SetValue(f.ID, uint64(e.Action.MemberID))
			} else {
				data.Deactivate(f.ID)
			}
		case bfrt.DestGroupID:
			if e.Action.HasGroup {
				err = data.SetValue(f.ID, uint64(e.Action.GroupID))
			} else {
				data.Deactivate(f.ID)
			}
		case bfrt.DestCounter, bfrt.DestMeter, bfrt.DestRegister:
			r, ok := e.Action.Resource(f.Resource)
			if !compute.FetchFor(mask, f) || !ok || r.Indirect {
				data.Deactivate(f.ID)
				continue
			}
			vs, ferr := compute.FieldValue(r, f)
			if ferr != nil {
				return ferr
			}
			if f.Dest == bfrt.DestRegister {
				err = data.SetValues(f.ID, vs)
			} else {
				err = data.SetValue(f.ID, vs[0])
			}
		case bfrt.DestTTL:
			if cfg.Mode != bfrt.IdleNotify {
				data.Deactivate(f.ID)
				continue
			}
			err = data.SetValue(f.ID, uint64(e.Idle.Remaining))
		case bfrt.DestHitState:
			if cfg.Mode != bfrt.IdlePoll {
				data.Deactivate(f.ID)
				continue
			}
			err = data.SetValue(f.ID, uint64(e.Idle.Hit))
		default:
			return fmt.Errorf("%w: table %s: field %s has unknown destination %s", bfrt.ErrUnexpected, t.schema.Name, f.Name, f.Dest)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes every entry of the target and restores the default
// entry.
func (t *Table) Clear(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "clear", start, err) }(time.Now())

	if t.schema.Immutable {
		return bfrt.ErrTableImmutable{Table: t.schema.Name, Op: "clear"}
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return err
	}

	// FETCH
	handles, err := t.handles(ctx, tgt)
	if err != nil {
		return err
	}

	// COMPUTE
	actions := compute.ClearActions(t.schema.ID, tgt, handles, !t.schema.Default.Const)

	// EXECUTE
	if err := t.m.executor.ExecuteAll(ctx, actions); err != nil {
		return fmt.Errorf("table %s: clear: %w", t.schema.Name, err)
	}
	t.logger.InfoContext(ctx, "table cleared", "target", tgt, "entries", len(handles))
	return nil
}

// handles returns every installed handle of the target in iteration
// order.
func (t *Table) handles(ctx context.Context, tgt bfrt.Target) ([]bfrt.EntryHandle, error) {
	first, err := t.m.dev.FirstHandle(ctx, t.schema.ID, tgt)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("table %s: first handle: %w", t.schema.Name, err)
	}
	out := []bfrt.EntryHandle{first}
	for {
		next, err := t.m.dev.NextHandles(ctx, t.schema.ID, tgt, out[len(out)-1], clearBatch)
		if err != nil {
			return nil, fmt.Errorf("table %s: next handles: %w", t.schema.Name, err)
		}
		out = append(out, next...)
		if len(next) < clearBatch {
			return out, nil
		}
	}
}
