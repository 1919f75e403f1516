package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
	"github.com/frobware/go-bfrt/manager"
)

const (
	// DefaultPageSize is the GetEntries batch size when count is unset.
	DefaultPageSize = 16

	listBatch = 64
)

// call holds the parsed table, target and flags of a table request.
type call struct {
	req   request
	table *manager.Table
	tgt   bfrt.Target
	flags bfrt.Flags
}

func (s *Server) deviceID() uint32 {
	return s.mgr.Device().ID()
}

func (s *Server) tableCall(in *structpb.Struct) (call, error) {
	r := request{in}
	name, err := r.required(FieldTable)
	if err != nil {
		return call{}, err
	}
	tbl, err := s.mgr.Table(name)
	if err != nil {
		return call{}, err
	}
	tgt, err := r.target(s.deviceID())
	if err != nil {
		return call{}, err
	}
	flags, err := r.flags()
	if err != nil {
		return call{}, err
	}
	return call{req: r, table: tbl, tgt: tgt, flags: flags}, nil
}

func (c call) key() (*bfrt.Key, error) {
	items, err := c.req.items(FieldKey)
	if err != nil {
		return nil, err
	}
	k := c.table.NewKey()
	if err := entryfmt.SetKey(k, items); err != nil {
		return nil, err
	}
	return k, nil
}

// data builds the record of a write. With selected set only the named
// fields are written.
func (c call) data() (*bfrt.Data, error) {
	items, err := c.req.items(FieldData)
	if err != nil {
		return nil, err
	}
	if c.req.bool(FieldSelected) {
		return entryfmt.NewSelectedData(c.table.Schema(), items)
	}
	return entryfmt.NewData(c.table.Schema(), items)
}

// readData builds the record a read fills in: every field, or the
// fields listed under fields.
func (c call) readData() (*bfrt.Data, error) {
	if !c.req.has(FieldFields) {
		return c.table.NewData(0)
	}
	names, err := c.req.strings(FieldFields)
	if err != nil {
		return nil, err
	}
	items := make([]entryfmt.Item, 0, len(names))
	for _, n := range names {
		name, value, _ := strings.Cut(n, "=")
		items = append(items, entryfmt.Item{Name: name, Value: value})
	}
	return entryfmt.NewSelectedData(c.table.Schema(), items)
}

func entry(key *bfrt.Key, data *bfrt.Data) map[string]any {
	return map[string]any{
		FieldKey:  itemList(entryfmt.KeyItems(key)),
		FieldData: itemList(entryfmt.DataItems(data)),
	}
}

func (s *Server) describe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	prog := s.mgr.Program()
	tables := make([]any, 0, len(prog.Tables))
	for _, ts := range prog.Tables {
		keys := make([]any, len(ts.Key))
		for i, kf := range ts.Key {
			keys[i] = fmt.Sprintf("%s:%s/%d", kf.Name, kf.Match, kf.Width)
		}
		actions := make([]any, len(ts.Actions))
		for i, a := range ts.Actions {
			actions[i] = a.Name
		}
		tables = append(tables, map[string]any{
			FieldName:      ts.Name,
			FieldKind:      ts.Kind.String(),
			FieldSize:      float64(ts.Size),
			FieldKey:       keys,
			FieldActions:   actions,
			FieldIdle:      ts.Idle,
			FieldImmutable: ts.Immutable,
		})
	}
	profiles := make([]any, 0, len(prog.Profiles))
	for _, ps := range prog.Profiles {
		profiles = append(profiles, map[string]any{
			FieldName:     ps.Name,
			FieldSize:     float64(ps.Size),
			FieldSelector: ps.Selector,
		})
	}
	return response(map[string]any{
		FieldName:     prog.Name,
		FieldDevice:   float64(s.deviceID()),
		FieldTables:   tables,
		FieldProfiles: profiles,
	})
}

func (s *Server) addEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	data, err := c.data()
	if err != nil {
		return nil, err
	}
	h, err := c.table.Add(ctx, c.tgt, c.flags, key, data)
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldHandle: float64(h)})
}

func (s *Server) modifyEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	data, err := c.data()
	if err != nil {
		return nil, err
	}
	if err := c.table.Modify(ctx, c.tgt, c.flags, key, data); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) addOrModifyEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	data, err := c.data()
	if err != nil {
		return nil, err
	}
	added, err := c.table.AddOrModify(ctx, c.tgt, c.flags, key, data)
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldAdded: added})
}

func (s *Server) deleteEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	if err := c.table.Delete(ctx, c.tgt, c.flags, key); err != nil {
		return nil, err
	}
	return empty()
}

// getEntry reads one entry by key, or by handle when no key is given.
func (s *Server) getEntry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	data, err := c.readData()
	if err != nil {
		return nil, err
	}
	if !c.req.has(FieldKey) && c.req.has(FieldHandle) {
		h, err := c.req.uint32(FieldHandle)
		if err != nil {
			return nil, err
		}
		key := c.table.NewKey()
		if err := c.table.GetByHandle(ctx, c.tgt, c.flags, bfrt.EntryHandle(h), key, data); err != nil {
			return nil, err
		}
		return response(entry(key, data))
	}
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	if err := c.table.Get(ctx, c.tgt, c.flags, key, data); err != nil {
		return nil, err
	}
	return response(entry(key, data))
}

// getEntries returns one page of entries. Without a key the page starts
// at the first entry; with one it continues after it. The session
// carries the cursor between pages and is created when absent.
func (s *Server) getEntries(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	sess := bfrt.NewSession()
	if v := c.req.string(FieldSession); v != "" {
		if sess, err = bfrt.ParseSession(v); err != nil {
			return nil, err
		}
	}
	count, err := c.req.uint32(FieldCount)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		count = DefaultPageSize
	}

	var entries []any
	var key *bfrt.Key
	if c.req.has(FieldKey) {
		if key, err = c.key(); err != nil {
			return nil, err
		}
	} else {
		key = c.table.NewKey()
		data, err := c.table.NewData(0)
		if err != nil {
			return nil, err
		}
		err = c.table.GetFirst(ctx, sess, c.tgt, c.flags, key, data)
		var nf bfrt.ErrEntryNotFound
		if errors.As(err, &nf) {
			return response(map[string]any{FieldSession: sess.String(), FieldEntries: []any{}})
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry(key, data))
		count--
	}

	if count > 0 {
		slots, err := c.table.NewSlots(int(count))
		if err != nil {
			return nil, err
		}
		n, err := c.table.GetNextN(ctx, sess, c.tgt, c.flags, key, slots)
		if err != nil {
			return nil, err
		}
		for _, slot := range slots[:n] {
			entries = append(entries, entry(slot.Key, slot.Data))
		}
	}
	if entries == nil {
		entries = []any{}
	}
	return response(map[string]any{FieldSession: sess.String(), FieldEntries: entries})
}

// listEntries returns every entry of the target partition.
func (s *Server) listEntries(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	entries, err := listAll(ctx, c)
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldEntries: entries})
}

func listAll(ctx context.Context, c call) ([]any, error) {
	sess := bfrt.NewSession()
	entries := []any{}

	cur := c.table.NewKey()
	data, err := c.table.NewData(0)
	if err != nil {
		return nil, err
	}
	err = c.table.GetFirst(ctx, sess, c.tgt, c.flags, cur, data)
	var nf bfrt.ErrEntryNotFound
	if errors.As(err, &nf) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	entries = append(entries, entry(cur, data))

	slots, err := c.table.NewSlots(listBatch)
	if err != nil {
		return nil, err
	}
	for {
		n, err := c.table.GetNextN(ctx, sess, c.tgt, c.flags, cur, slots)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return entries, nil
		}
		for _, slot := range slots[:n] {
			entries = append(entries, entry(slot.Key, slot.Data))
		}
		// The cursor key must not alias a slot the next batch overwrites.
		last, err := slots[n-1].Key.MatchSpec()
		if err != nil {
			return nil, err
		}
		if err := cur.SetMatchSpec(last); err != nil {
			return nil, err
		}
	}
}

func (s *Server) clearTable(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	if err := c.table.Clear(ctx, c.tgt, c.flags); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) getDefault(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	data, err := c.readData()
	if err != nil {
		return nil, err
	}
	if err := c.table.DefaultGet(ctx, c.tgt, c.flags, data); err != nil {
		return nil, err
	}
	return response(map[string]any{FieldData: itemList(entryfmt.DataItems(data))})
}

func (s *Server) setDefault(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	data, err := c.data()
	if err != nil {
		return nil, err
	}
	if err := c.table.DefaultSet(ctx, c.tgt, c.flags, data); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) resetDefault(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	if err := c.table.DefaultReset(ctx, c.tgt, c.flags); err != nil {
		return nil, err
	}
	return empty()
}

func idleResponse(a manager.IdleAttributes) (*structpb.Struct, error) {
	return response(map[string]any{
		FieldMode:          a.Mode.String(),
		FieldEnabled:       a.Enabled,
		FieldQueryInterval: float64(a.QueryInterval),
		FieldMaxTTL:        float64(a.MaxTTL),
		FieldMinTTL:        float64(a.MinTTL),
	})
}

// idleAttributes reads the mode and thresholds of an idle request.
func idleAttributes(r request) (manager.IdleAttributes, error) {
	var a manager.IdleAttributes
	mode, ok := bfrt.ParseIdleMode(r.string(FieldMode))
	if !ok {
		return a, fmt.Errorf("%w: unknown idle mode %q", bfrt.ErrInvalidArgument, r.string(FieldMode))
	}
	a.Mode = mode
	a.Enabled = r.bool(FieldEnabled)
	var err error
	if a.QueryInterval, err = r.uint32(FieldQueryInterval); err != nil {
		return a, err
	}
	if a.MaxTTL, err = r.uint32(FieldMaxTTL); err != nil {
		return a, err
	}
	if a.MinTTL, err = r.uint32(FieldMinTTL); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Server) getIdle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	a, err := c.table.IdleAttributes(ctx, c.tgt)
	if err != nil {
		return nil, err
	}
	return idleResponse(a)
}

// setIdle configures disabled or poll mode. Notify mode needs a
// receiver for the timeouts and is set up by WatchIdle.
func (s *Server) setIdle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	a, err := idleAttributes(c.req)
	if err != nil {
		return nil, err
	}
	if a.Mode == bfrt.IdleNotify {
		return nil, fmt.Errorf("%w: table %s: notify mode is configured by %s", bfrt.ErrInvalidArgument, c.table.Name(), MethodWatchIdle)
	}
	if err := c.table.SetIdleAttributes(ctx, c.tgt, a); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) getScope(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	scope, err := c.table.EntryScope(ctx)
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldScope: scope.String()})
}

func (s *Server) setScope(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	text := c.req.string(FieldScope)
	scope, ok := bfrt.ParseEntryScope(text)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entry scope %q", bfrt.ErrInvalidArgument, text)
	}
	if err := c.table.SetEntryScope(ctx, scope); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) usage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	if r.string(FieldTable) == "" {
		all, err := s.mgr.TableUsage(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(all))
		for name, n := range all {
			out[name] = float64(n)
		}
		return response(map[string]any{FieldUsage: out})
	}
	c, err := s.tableCall(in)
	if err != nil {
		return nil, err
	}
	n, err := c.table.Usage(ctx, c.tgt, c.flags)
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldUsage: float64(n)})
}
