package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/action"
	"github.com/frobware/go-bfrt/directory"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// cursorKey identifies the pagination cursor of one session on one
// pipe partition.
type cursorKey struct {
	session bfrt.Session
	pipe    uint16
}

// Table is the per-table context. It is safe for concurrent use; the
// caller serialises conflicting writes to the same key.
type Table struct {
	m      *Manager
	schema *bfrt.TableSchema
	dir    *directory.Directory
	logger *slog.Logger

	cursorMu sync.Mutex
	cursors  map[cursorKey]bfrt.EntryHandle

	idle idleState
}

func newTable(m *Manager, ts *bfrt.TableSchema, dir *directory.Directory) *Table {
	return &Table{
		m:       m,
		schema:  ts,
		dir:     dir,
		logger:  m.logger.With("component", "table", "table", ts.Name),
		cursors: make(map[cursorKey]bfrt.EntryHandle),
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.schema.Name }

// Schema returns the table schema.
func (t *Table) Schema() *bfrt.TableSchema { return t.schema }

// Directory returns the resource directory of the table.
func (t *Table) Directory() *directory.Directory { return t.dir }

// Size returns the number of entries the table can hold.
func (t *Table) Size() uint32 { return t.schema.Size }

// NewKey allocates an empty key.
func (t *Table) NewKey() *bfrt.Key { return bfrt.NewKey(t.schema) }

// NewData allocates an all-fields record for an action. Indirect
// tables take action 0.
func (t *Table) NewData(action bfrt.ActionID) (*bfrt.Data, error) {
	return bfrt.NewData(t.schema, action)
}

// NewDataWithFields allocates a selected-fields record.
func (t *Table) NewDataWithFields(action bfrt.ActionID, fields ...bfrt.FieldID) (*bfrt.Data, error) {
	return bfrt.NewDataWithFields(t.schema, action, fields...)
}

// NewSlots allocates n pagination slots, each with a key and an
// all-fields record.
func (t *Table) NewSlots(n int) ([]Slot, error) {
	slots := make([]Slot, n)
	for i := range slots {
		d, err := t.NewData(0)
		if err != nil {
			return nil, err
		}
		slots[i] = Slot{Key: t.NewKey(), Data: d}
	}
	return slots, nil
}

func (t *Table) checkKey(k *bfrt.Key) error {
	if k == nil {
		return fmt.Errorf("%w: table %s: nil key", bfrt.ErrInvalidArgument, t.schema.Name)
	}
	if k.Table() != t.schema {
		return fmt.Errorf("%w: key belongs to table %s, not %s", bfrt.ErrInvalidArgument, k.Table().Name, t.schema.Name)
	}
	return nil
}

func (t *Table) checkData(d *bfrt.Data) error {
	if d == nil {
		return fmt.Errorf("%w: table %s: nil data", bfrt.ErrInvalidArgument, t.schema.Name)
	}
	if d.Table() != t.schema {
		return fmt.Errorf("%w: data belongs to table %s, not %s", bfrt.ErrInvalidArgument, d.Table().Name, t.schema.Name)
	}
	return nil
}

// checkTarget validates a target against the device and the entry
// scope: symmetric tables take the all-pipes target, asymmetric tables
// a single pipe.
func (t *Table) checkTarget(ctx context.Context, tgt bfrt.Target) error {
	dev := t.m.dev
	if tgt.Device != dev.ID() {
		return fmt.Errorf("%w: table %s: device %d, manager runs device %d", bfrt.ErrInvalidArgument, t.schema.Name, tgt.Device, dev.ID())
	}
	scope, err := dev.EntryScope(ctx, t.schema.ID)
	if err != nil {
		return fmt.Errorf("table %s: entry scope: %w", t.schema.Name, err)
	}
	switch scope {
	case bfrt.ScopeAllPipes:
		if tgt.Pipe != bfrt.AllPipes {
			return fmt.Errorf("%w: table %s is symmetric; target must address all pipes, not %s", bfrt.ErrInvalidArgument, t.schema.Name, tgt)
		}
	case bfrt.ScopeSinglePipe:
		if tgt.Pipe == bfrt.AllPipes || tgt.Pipe >= dev.Pipes() {
			return fmt.Errorf("%w: table %s is asymmetric; target must address one of %d pipes, not %s", bfrt.ErrInvalidArgument, t.schema.Name, dev.Pipes(), tgt)
		}
	}
	return nil
}

// lookup resolves a key to the handle of an installed entry.
func (t *Table) lookup(ctx context.Context, tgt bfrt.Target, key *bfrt.Key) (bfrt.EntryHandle, error) {
	match, err := key.MatchSpec()
	if err != nil {
		return 0, err
	}
	h, err := t.m.dev.Lookup(ctx, t.schema.ID, tgt, match)
	if errors.Is(err, store.ErrNotFound) {
		return 0, bfrt.ErrEntryNotFound{Table: t.schema.Name}
	}
	if err != nil {
		return 0, fmt.Errorf("table %s: lookup: %w", t.schema.Name, err)
	}
	return h, nil
}

// HandleOf returns the handle of the entry a key matches.
func (t *Table) HandleOf(ctx context.Context, tgt bfrt.Target, key *bfrt.Key) (bfrt.EntryHandle, error) {
	if err := t.checkKey(key); err != nil {
		return 0, err
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return 0, err
	}
	return t.lookup(ctx, tgt, key)
}

// KeyOf returns the key of an installed entry.
func (t *Table) KeyOf(ctx context.Context, tgt bfrt.Target, h bfrt.EntryHandle) (*bfrt.Key, error) {
	if err := t.checkTarget(ctx, tgt); err != nil {
		return nil, err
	}
	e, err := t.m.dev.GetEntry(ctx, t.schema.ID, tgt, h, 0)
	if errors.Is(err, store.ErrNotFound) {
		return nil, bfrt.ErrEntryNotFound{Table: t.schema.Name}
	}
	if err != nil {
		return nil, fmt.Errorf("table %s: get entry %d: %w", t.schema.Name, h, err)
	}
	key := t.NewKey()
	if err := key.SetMatchSpec(e.Match); err != nil {
		return nil, err
	}
	return key, nil
}

// Usage returns the number of entries installed for the target.
func (t *Table) Usage(ctx context.Context, tgt bfrt.Target, flags bfrt.Flags) (n uint32, err error) {
	defer func(start time.Time) { t.m.observe(t.schema.Name, "usage", start, err) }(time.Now())

	if err := t.checkTarget(ctx, tgt); err != nil {
		return 0, err
	}
	n, err = t.m.dev.Usage(ctx, t.schema.ID, tgt)
	if err != nil {
		return 0, fmt.Errorf("table %s: usage: %w", t.schema.Name, err)
	}
	return n, nil
}

// usageAllPartitions counts entries on the all-pipes partition and on
// every single pipe.
func (t *Table) usageAllPartitions(ctx context.Context) (uint32, error) {
	dev := t.m.dev
	total, err := dev.Usage(ctx, t.schema.ID, bfrt.DeviceTarget(dev.ID()))
	if err != nil {
		return 0, err
	}
	for pipe := uint16(0); pipe < dev.Pipes(); pipe++ {
		n, err := dev.Usage(ctx, t.schema.ID, bfrt.Target{Device: dev.ID(), Pipe: pipe})
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// EntryScope returns how the table is partitioned across pipes.
func (t *Table) EntryScope(ctx context.Context) (bfrt.EntryScope, error) {
	return t.m.dev.EntryScope(ctx, t.schema.ID)
}

// SetEntryScope changes how the table is partitioned across pipes. The
// table must be empty on every partition.
func (t *Table) SetEntryScope(ctx context.Context, scope bfrt.EntryScope) (err error) {
	defer func(start time.Time) { t.m.observe(t.schema.Name, "set_scope", start, err) }(time.Now())

	// FETCH
	n, err := t.usageAllPartitions(ctx)
	if err != nil {
		return fmt.Errorf("table %s: usage: %w", t.schema.Name, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: table %s: entry scope can only change while empty, %d entries installed", bfrt.ErrInvalidArgument, t.schema.Name, n)
	}

	// EXECUTE
	if err := t.m.executor.Execute(ctx, action.SetEntryScope{Table: t.schema.ID, Scope: scope}); err != nil {
		return fmt.Errorf("table %s: set entry scope: %w", t.schema.Name, err)
	}
	t.logger.InfoContext(ctx, "entry scope changed", "scope", scope)
	return nil
}
