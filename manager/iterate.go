package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// Slot receives one entry of a GetNextN batch. Absent is set when the
// entry could not be read, typically because it was deleted after its
// handle was returned.
type Slot struct {
	Key    *bfrt.Key
	Data   *bfrt.Data
	Absent bool
}

func (t *Table) cursor(sess bfrt.Session, tgt bfrt.Target) (bfrt.EntryHandle, bool) {
	t.cursorMu.Lock()
	defer t.cursorMu.Unlock()
	h, ok := t.cursors[cursorKey{session: sess, pipe: tgt.Pipe}]
	return h, ok
}

func (t *Table) setCursor(sess bfrt.Session, tgt bfrt.Target, h bfrt.EntryHandle) {
	t.cursorMu.Lock()
	defer t.cursorMu.Unlock()
	t.cursors[cursorKey{session: sess, pipe: tgt.Pipe}] = h
}

// GetFirst reads the first entry of the target into key and data and
// makes it the session's cursor.
func (t *Table) GetFirst(ctx context.Context, sess bfrt.Session, tgt bfrt.Target, flags bfrt.Flags, key *bfrt.Key, data *bfrt.Data) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "get_first", start, err) }(time.Now())

	if err := t.checkEntryArgs(ctx, tgt, key, data); err != nil {
		return err
	}
	h, err := t.m.dev.FirstHandle(ctx, t.schema.ID, tgt)
	if errors.Is(err, store.ErrNotFound) {
		return bfrt.ErrEntryNotFound{Table: t.schema.Name}
	}
	if err != nil {
		return fmt.Errorf("table %s: first handle: %w", t.schema.Name, err)
	}
	t.setCursor(sess, tgt, h)
	return t.read(ctx, tgt, h, key, data)
}

// GetNextN reads up to len(slots) entries that follow the entry key
// matches. When that entry no longer exists iteration resumes from the
// session's cursor instead. A slot whose entry cannot be read is marked
// Absent and the batch continues. n is the number of slots written;
// the cursor moves to the last handle returned.
func (t *Table) GetNextN(ctx context.Context, sess bfrt.Session, tgt bfrt.Target, flags bfrt.Flags, key *bfrt.Key, slots []Slot) (n int, err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { t.m.observe(t.schema.Name, "get_next_n", start, err) }(time.Now())

	if err := t.checkKey(key); err != nil {
		return 0, err
	}
	if err := t.checkTarget(ctx, tgt); err != nil {
		return 0, err
	}
	for i := range slots {
		if err := t.checkKey(slots[i].Key); err != nil {
			return 0, err
		}
		if err := t.checkData(slots[i].Data); err != nil {
			return 0, err
		}
	}
	if len(slots) == 0 {
		return 0, nil
	}

	// FETCH
	from, err := t.lookup(ctx, tgt, key)
	if errors.Is(err, bfrt.ErrObjectNotFound) {
		h, ok := t.cursor(sess, tgt)
		if !ok {
			return 0, err
		}
		t.logger.DebugContext(ctx, "resuming from cursor", "session", sess, "target", tgt, "handle", h)
		from = h
	} else if err != nil {
		return 0, err
	}
	handles, err := t.m.dev.NextHandles(ctx, t.schema.ID, tgt, from, len(slots))
	if err != nil {
		return 0, fmt.Errorf("table %s: next handles: %w", t.schema.Name, err)
	}
	if len(handles) > len(slots) {
		return 0, fmt.Errorf("%w: table %s: %d handles returned for %d slots", bfrt.ErrUnexpected, t.schema.Name, len(handles), len(slots))
	}

	for i, h := range handles {
		s := &slots[i]
		s.Absent = false
		if err := t.read(ctx, tgt, h, s.Key, s.Data); err != nil {
			t.logger.DebugContext(ctx, "entry vanished during iteration", "target", tgt, "handle", h, "error", err)
			s.Absent = true
		}
	}
	if len(handles) > 0 {
		t.setCursor(sess, tgt, handles[len(handles)-1])
	}
	return len(handles), nil
}
