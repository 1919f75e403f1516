package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// resourceRow is one row of entry_resources.
type resourceRow struct {
	id       bfrt.ResourceID
	kind     bfrt.ResourceKind
	indirect bool
	index    uint32
	counter  bfrt.CounterValue
	meter    bfrt.MeterValue
	reg      uint64
}

func rowFromSpec(r bfrt.ResourceSpec) resourceRow {
	row := resourceRow{
		id:       r.ID,
		kind:     r.Kind,
		indirect: r.Indirect,
		index:    r.Index,
		counter:  r.Counter,
		meter:    r.Meter,
	}
	if len(r.Register.Values) > 0 {
		row.reg = r.Register.Values[0]
	}
	return row
}

// spec converts a stored row back to a resource spec. Register values
// are replicated once per covered pipe.
func (r resourceRow) spec(pipes int) bfrt.ResourceSpec {
	rs := bfrt.ResourceSpec{
		Kind:     r.kind,
		ID:       r.id,
		Tag:      bfrt.TagAttached,
		Indirect: r.indirect,
		Index:    r.index,
	}
	if r.indirect {
		return rs
	}
	switch r.kind {
	case bfrt.ResourceCounter:
		rs.Counter = r.counter
	case bfrt.ResourceMeter:
		rs.Meter = r.meter
	case bfrt.ResourceRegister:
		rs.Register.Values = make([]uint64, pipes)
		for i := range rs.Register.Values {
			rs.Register.Values[i] = r.reg
		}
	}
	return rs
}

func wanted(r resourceRow, mask bfrt.FetchMask) bool {
	if r.indirect {
		return true
	}
	switch r.kind {
	case bfrt.ResourceCounter:
		return mask.Has(bfrt.FetchCounter)
	case bfrt.ResourceMeter:
		return mask.Has(bfrt.FetchMeter)
	case bfrt.ResourceRegister:
		return mask.Has(bfrt.FetchRegister)
	}
	return false
}

// encodeAction marshals the inline part of an action spec. Resources
// are stored in entry_resources.
func encodeAction(spec *bfrt.ActionSpec) (string, error) {
	a := *spec
	a.Resources = nil
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal action: %w", err)
	}
	return string(b), nil
}

func decodeAction(s string) (bfrt.ActionSpec, error) {
	var a bfrt.ActionSpec
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return bfrt.ActionSpec{}, fmt.Errorf("unmarshal action: %w", err)
	}
	return a, nil
}

func nullHandle(set bool, h bfrt.EntryHandle) sql.NullInt64 {
	if !set || h == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(h), Valid: true}
}

// Lookup resolves a match spec to an installed handle.
func (d *Device) Lookup(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, match bfrt.MatchSpec) (bfrt.EntryHandle, error) {
	if err := d.checkTarget(tgt); err != nil {
		return 0, err
	}
	start := time.Now()
	var h int64
	err := d.stmts.lookup.QueryRowContext(ctx, uint32(table), tgt.Pipe, match.Canonical()).Scan(&h)
	d.trace("Lookup", start, err, "table", table, "target", tgt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup entry: %w", err)
	}
	return bfrt.EntryHandle(h), nil
}

// AddEntry installs an entry with its resource attachments. idle is the
// initial TTL in notify mode or hit state in poll mode and is ignored
// otherwise.
func (d *Device) AddEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, match bfrt.MatchSpec, spec *bfrt.ActionSpec, idle uint32) (bfrt.EntryHandle, error) {
	if err := d.checkTarget(tgt); err != nil {
		return 0, err
	}
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return 0, fmt.Errorf("marshal match spec: %w", err)
	}
	actionJSON, err := encodeAction(spec)
	if err != nil {
		return 0, err
	}
	key := match.Canonical()

	var handle bfrt.EntryHandle
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.StmtContext(ctx, d.stmts.lookup).QueryRowContext(ctx, uint32(table), tgt.Pipe, key).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: entry already exists with handle %d", bfrt.ErrInvalidArgument, existing)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup entry: %w", err)
		}

		cfg, err := d.idleConfigTx(ctx, tx, table, tgt)
		if err != nil {
			return err
		}
		var ttl, remaining, hit uint32
		if cfg.Active() {
			switch cfg.Mode {
			case bfrt.IdleNotify:
				ttl, remaining = idle, idle
			case bfrt.IdlePoll:
				hit = idle
			}
		}

		start := time.Now()
		res, err := tx.StmtContext(ctx, d.stmts.insertEntry).ExecContext(ctx,
			uint32(table), tgt.Pipe, key, string(matchJSON), actionJSON,
			nullHandle(spec.HasMember, spec.MemberHandle),
			nullHandle(spec.HasGroup, spec.GroupHandle),
			ttl, remaining, hit)
		d.trace("InsertEntry", start, err, "table", table, "target", tgt)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("entry handle: %w", err)
		}
		handle = bfrt.EntryHandle(id)

		rows := make([]resourceRow, 0, len(spec.Resources))
		for _, r := range spec.Resources {
			switch r.Tag {
			case bfrt.TagRemoved:
				continue
			case bfrt.TagNoChange:
				rows = append(rows, resourceRow{id: r.ID, kind: r.Kind, indirect: r.Indirect, index: r.Index})
			default:
				rows = append(rows, rowFromSpec(r))
			}
		}
		return d.writeResources(ctx, tx, handle, rows)
	})
	if err != nil {
		return 0, err
	}
	d.logger.Debug("added entry", "table", table, "target", tgt, "handle", handle, "action", spec.ActionID)
	return handle, nil
}

func (d *Device) writeResources(ctx context.Context, tx *sql.Tx, h bfrt.EntryHandle, rows []resourceRow) error {
	stmt := tx.StmtContext(ctx, d.stmts.upsertResource)
	for pos, r := range rows {
		start := time.Now()
		_, err := stmt.ExecContext(ctx, uint32(h), uint32(r.id), pos, uint8(r.kind), r.indirect, r.index,
			i64(r.counter.Bytes), i64(r.counter.Packets),
			i64(r.meter.CIR), i64(r.meter.PIR), i64(r.meter.CBS), i64(r.meter.PBS),
			i64(r.reg))
		d.trace("UpsertResource", start, err, "handle", h, "resource", r.id)
		if err != nil {
			return fmt.Errorf("write resource %d: %w", r.id, err)
		}
	}
	return nil
}

// loadResources reads every resource row of an entry in position order.
func (d *Device) loadResources(ctx context.Context, q *sql.Stmt, h bfrt.EntryHandle) ([]resourceRow, error) {
	rows, err := q.QueryContext(ctx, uint32(h))
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []resourceRow
	for rows.Next() {
		var r resourceRow
		var bytes, packets, cir, pir, cbs, pbs, rg int64
		if err := rows.Scan(&r.id, &r.kind, &r.indirect, &r.index, &bytes, &packets, &cir, &pir, &cbs, &pbs, &rg); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		r.counter = bfrt.CounterValue{Bytes: uint64(bytes), Packets: uint64(packets)}
		r.meter = bfrt.MeterValue{CIR: uint64(cir), PIR: uint64(pir), CBS: uint64(cbs), PBS: uint64(pbs)}
		r.reg = uint64(rg)
		out = append(out, r)
	}
	return out, rows.Err()
}

// entryExists reports whether a handle is installed in the table and
// pipe.
func (d *Device) entryExists(ctx context.Context, q *sql.Stmt, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle) (bool, error) {
	var (
		match, action       string
		ttl, remaining, hit int64
	)
	err := q.QueryRowContext(ctx, uint32(h), uint32(table), tgt.Pipe).Scan(&match, &action, &ttl, &remaining, &hit)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get entry: %w", err)
	}
	return true, nil
}

// SetAction replaces the action and resource attachments of an entry.
// Resources tagged no-change keep their stored value; resources the
// spec no longer names are detached.
func (d *Device) SetAction(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, spec *bfrt.ActionSpec) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	actionJSON, err := encodeAction(spec)
	if err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		start := time.Now()
		res, err := tx.StmtContext(ctx, d.stmts.updateAction).ExecContext(ctx, actionJSON,
			nullHandle(spec.HasMember, spec.MemberHandle),
			nullHandle(spec.HasGroup, spec.GroupHandle),
			uint32(h), uint32(table), tgt.Pipe)
		d.trace("UpdateAction", start, err, "handle", h)
		if err != nil {
			return fmt.Errorf("update action: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}

		current, err := d.loadResources(ctx, tx.StmtContext(ctx, d.stmts.listResources), h)
		if err != nil {
			return err
		}
		rows := make([]resourceRow, 0, len(spec.Resources))
		for _, r := range spec.Resources {
			switch r.Tag {
			case bfrt.TagRemoved:
				continue
			case bfrt.TagNoChange:
				i := slices.IndexFunc(current, func(c resourceRow) bool { return c.id == r.ID })
				if i >= 0 {
					kept := current[i]
					kept.index = r.Index
					rows = append(rows, kept)
				} else {
					rows = append(rows, resourceRow{id: r.ID, kind: r.Kind, indirect: r.Indirect, index: r.Index})
				}
			default:
				rows = append(rows, rowFromSpec(r))
			}
		}
		if _, err := tx.StmtContext(ctx, d.stmts.clearResources).ExecContext(ctx, uint32(h)); err != nil {
			return fmt.Errorf("clear resources: %w", err)
		}
		return d.writeResources(ctx, tx, h, rows)
	})
}

// SetResources programs direct meter and register values. A resource
// that is not yet attached is appended.
func (d *Device) SetResources(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, resources []bfrt.ResourceSpec) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	for _, r := range resources {
		if r.Indirect || r.Kind == bfrt.ResourceCounter {
			return fmt.Errorf("%w: SetResources takes direct meters and registers, got %s %d", bfrt.ErrInvalidArgument, r.Kind, r.ID)
		}
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := d.entryExists(ctx, tx.StmtContext(ctx, d.stmts.getEntry), table, tgt, h)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		current, err := d.loadResources(ctx, tx.StmtContext(ctx, d.stmts.listResources), h)
		if err != nil {
			return err
		}
		for _, r := range resources {
			if r.Tag != bfrt.TagAttached {
				continue
			}
			i := slices.IndexFunc(current, func(c resourceRow) bool { return c.id == r.ID })
			if i >= 0 {
				current[i] = rowFromSpec(r)
			} else {
				current = append(current, rowFromSpec(r))
			}
		}
		return d.writeResources(ctx, tx, h, current)
	})
}

// SetDirectCounter sets the direct counter of an entry.
func (d *Device) SetDirectCounter(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, v bfrt.CounterValue) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := d.entryExists(ctx, tx.StmtContext(ctx, d.stmts.getEntry), table, tgt, h)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		start := time.Now()
		res, err := tx.StmtContext(ctx, d.stmts.setCounter).ExecContext(ctx,
			i64(v.Bytes), i64(v.Packets), uint32(h), uint8(bfrt.ResourceCounter))
		d.trace("SetCounter", start, err, "handle", h)
		if err != nil {
			return fmt.Errorf("set counter: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: entry %d has no direct counter", bfrt.ErrInvalidArgument, h)
		}
		return nil
	})
}

// DeleteEntry removes an entry and its resource attachments.
func (d *Device) DeleteEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	start := time.Now()
	res, err := d.stmts.deleteEntry.ExecContext(ctx, uint32(h), uint32(table), tgt.Pipe)
	d.trace("DeleteEntry", start, err, "handle", h)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	d.logger.Debug("deleted entry", "table", table, "target", tgt, "handle", h)
	return nil
}

// GetEntry reads an entry. Indirect resource indexes are part of the
// action and always returned; direct resources and idle state only
// when mask selects them.
func (d *Device) GetEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, mask bfrt.FetchMask) (bfrt.Entry, error) {
	if err := d.checkTarget(tgt); err != nil {
		return bfrt.Entry{}, err
	}
	var (
		matchJSON, actionJSON string
		ttl, remaining, hit   int64
	)
	start := time.Now()
	err := d.stmts.getEntry.QueryRowContext(ctx, uint32(h), uint32(table), tgt.Pipe).Scan(&matchJSON, &actionJSON, &ttl, &remaining, &hit)
	d.trace("GetEntry", start, err, "handle", h)
	if errors.Is(err, sql.ErrNoRows) {
		return bfrt.Entry{}, store.ErrNotFound
	}
	if err != nil {
		return bfrt.Entry{}, fmt.Errorf("get entry: %w", err)
	}

	e := bfrt.Entry{Handle: h}
	if err := json.Unmarshal([]byte(matchJSON), &e.Match); err != nil {
		return bfrt.Entry{}, fmt.Errorf("unmarshal match spec: %w", err)
	}
	if e.Action, err = decodeAction(actionJSON); err != nil {
		return bfrt.Entry{}, err
	}
	rows, err := d.loadResources(ctx, d.stmts.listResources, h)
	if err != nil {
		return bfrt.Entry{}, err
	}
	pipes := d.pipesCovered(tgt)
	for _, r := range rows {
		if wanted(r, mask) {
			e.Action.Resources = append(e.Action.Resources, r.spec(pipes))
		}
	}
	if mask.Has(bfrt.FetchIdle) {
		e.Idle = bfrt.IdleState{TTL: uint32(ttl), Remaining: uint32(remaining), Hit: bfrt.HitState(hit)}
	}
	return e, nil
}

// FirstHandle returns the lowest installed handle of the table.
func (d *Device) FirstHandle(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) (bfrt.EntryHandle, error) {
	if err := d.checkTarget(tgt); err != nil {
		return 0, err
	}
	var h int64
	start := time.Now()
	err := d.stmts.firstHandle.QueryRowContext(ctx, uint32(table), tgt.Pipe).Scan(&h)
	d.trace("FirstHandle", start, err, "table", table)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("first handle: %w", err)
	}
	return bfrt.EntryHandle(h), nil
}

// NextHandles returns up to n handles above h in ascending order.
func (d *Device) NextHandles(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, n int) ([]bfrt.EntryHandle, error) {
	if err := d.checkTarget(tgt); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := d.stmts.nextHandles.QueryContext(ctx, uint32(table), tgt.Pipe, uint32(h), n)
	d.trace("NextHandles", start, err, "table", table, "after", h, "n", n)
	if err != nil {
		return nil, fmt.Errorf("next handles: %w", err)
	}
	defer rows.Close()

	out := make([]bfrt.EntryHandle, 0, n)
	for rows.Next() {
		var next int64
		if err := rows.Scan(&next); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		out = append(out, bfrt.EntryHandle(next))
	}
	return out, rows.Err()
}

// Usage returns the number of installed entries.
func (d *Device) Usage(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) (uint32, error) {
	if err := d.checkTarget(tgt); err != nil {
		return 0, err
	}
	var n int64
	start := time.Now()
	err := d.stmts.usage.QueryRowContext(ctx, uint32(table), tgt.Pipe).Scan(&n)
	d.trace("Usage", start, err, "table", table)
	if err != nil {
		return 0, fmt.Errorf("usage: %w", err)
	}
	return uint32(n), nil
}
