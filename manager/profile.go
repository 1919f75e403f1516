package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/action"
	"github.com/frobware/go-bfrt/compute"
	"github.com/frobware/go-bfrt/directory"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// ActionProfile programs the members of an action profile. Member data
// is built against a table schema derived from the profile, so records
// and specs follow the same rules as direct table entries.
type ActionProfile struct {
	m      *Manager
	schema *bfrt.ProfileSchema
	table  *bfrt.TableSchema
	dir    *directory.Directory
	logger *slog.Logger
}

// MemberData pairs a member id with the record it is created from.
type MemberData struct {
	ID   bfrt.MemberID
	Data *bfrt.Data
}

func newActionProfile(m *Manager, ps *bfrt.ProfileSchema) *ActionProfile {
	ts := &bfrt.TableSchema{
		Name:      ps.Name,
		Kind:      bfrt.KindMatchDirect,
		Size:      ps.Size,
		Actions:   ps.Actions,
		Resources: ps.Resources,
	}
	return &ActionProfile{
		m:      m,
		schema: ps,
		table:  ts,
		dir:    directory.New(ts),
		logger: m.logger.With("component", "profile", "profile", ps.Name),
	}
}

// ActionProfile returns the action profile with the given name.
func (m *Manager) ActionProfile(name string) (*ActionProfile, error) {
	p, ok := m.actionProfiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: action profile %q", bfrt.ErrObjectNotFound, name)
	}
	return p, nil
}

func (m *Manager) checkDevice(tgt bfrt.Target) error {
	if tgt.Device != m.dev.ID() {
		return fmt.Errorf("%w: device %d, manager runs device %d", bfrt.ErrInvalidArgument, tgt.Device, m.dev.ID())
	}
	return nil
}

// Name returns the profile name.
func (p *ActionProfile) Name() string { return p.schema.Name }

// Schema returns the profile schema.
func (p *ActionProfile) Schema() *bfrt.ProfileSchema { return p.schema }

// MemberSchema returns the table schema member records are built
// against.
func (p *ActionProfile) MemberSchema() *bfrt.TableSchema { return p.table }

// NewData allocates a member record for an action.
func (p *ActionProfile) NewData(action bfrt.ActionID) (*bfrt.Data, error) {
	return bfrt.NewData(p.table, action)
}

// AddMember creates a member from a record.
func (p *ActionProfile) AddMember(ctx context.Context, tgt bfrt.Target, id bfrt.MemberID, data *bfrt.Data) (h bfrt.EntryHandle, err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { p.m.observe(p.schema.Name, "add_member", start, err) }(time.Now())

	if err := p.m.checkDevice(tgt); err != nil {
		return 0, err
	}
	if data == nil || data.Table() != p.table {
		return 0, fmt.Errorf("%w: action profile %s: data was not allocated by this profile", bfrt.ErrInvalidArgument, p.schema.Name)
	}
	if data.ActionID() == 0 {
		return 0, fmt.Errorf("%w: action profile %s: member %d has no action", bfrt.ErrInvalidArgument, p.schema.Name, id)
	}

	spec := bfrt.AcquireActionSpec()
	defer spec.Release()

	if err := compute.BuildActionSpec(p.dir, data, spec); err != nil {
		return 0, err
	}
	if err := compute.ReconcileResources(p.dir, spec.ActionID, spec, false); err != nil {
		return 0, fmt.Errorf("action profile %s: %w", p.schema.Name, err)
	}
	h, err = p.m.dev.AddMember(ctx, p.schema.ID, tgt, id, spec)
	if err != nil {
		return 0, fmt.Errorf("action profile %s: add member %d: %w", p.schema.Name, id, err)
	}
	p.logger.DebugContext(ctx, "member added", "target", tgt, "member", id, "handle", h)
	return h, nil
}

// AddMembers creates several members. If one fails the members already
// created by this call are removed again.
func (p *ActionProfile) AddMembers(ctx context.Context, tgt bfrt.Target, members []MemberData) error {
	ctx = WithOpID(ctx)
	var undo undoStack
	for _, md := range members {
		if _, err := p.AddMember(ctx, tgt, md.ID, md.Data); err != nil {
			if rbErr := undo.rollback(ctx, p.m.executor, p.logger); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			}
			return err
		}
		undo.push(action.DeleteMember{Profile: p.schema.ID, Target: tgt, Member: md.ID})
	}
	return nil
}

// DeleteMember removes a member. Members still referenced by an entry
// or a group are rejected by the device.
func (p *ActionProfile) DeleteMember(ctx context.Context, tgt bfrt.Target, id bfrt.MemberID) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { p.m.observe(p.schema.Name, "delete_member", start, err) }(time.Now())

	if err := p.m.checkDevice(tgt); err != nil {
		return err
	}
	err = p.m.dev.DeleteMember(ctx, p.schema.ID, tgt, id)
	if errors.Is(err, store.ErrNotFound) {
		return bfrt.ErrMemberNotFound{Profile: p.schema.Name, MemberID: id}
	}
	if err != nil {
		return fmt.Errorf("action profile %s: delete member %d: %w", p.schema.Name, id, err)
	}
	p.logger.DebugContext(ctx, "member deleted", "target", tgt, "member", id)
	return nil
}

// Member reads a member and returns its record.
func (p *ActionProfile) Member(ctx context.Context, tgt bfrt.Target, id bfrt.MemberID) (*bfrt.Data, error) {
	if err := p.m.checkDevice(tgt); err != nil {
		return nil, err
	}
	m, err := p.m.dev.Member(ctx, p.schema.ID, tgt, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, bfrt.ErrMemberNotFound{Profile: p.schema.Name, MemberID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("action profile %s: member %d: %w", p.schema.Name, id, err)
	}
	return p.memberData(m)
}

func (p *ActionProfile) memberData(m bfrt.Member) (*bfrt.Data, error) {
	d, err := p.NewData(m.Action.ActionID)
	if err != nil {
		return nil, err
	}
	for _, f := range d.Fields() {
		if v, ok := m.Action.Params[f.ID]; ok {
			if err := d.SetBytes(f.ID, v); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// Members returns the ids of every member in id order.
func (p *ActionProfile) Members(ctx context.Context, tgt bfrt.Target) ([]bfrt.MemberID, error) {
	if err := p.m.checkDevice(tgt); err != nil {
		return nil, err
	}
	var out []bfrt.MemberID
	for m, err := range p.m.dev.Members(ctx, p.schema.ID, tgt) {
		if err != nil {
			return nil, fmt.Errorf("action profile %s: list members: %w", p.schema.Name, err)
		}
		out = append(out, m.ID)
	}
	return out, nil
}

// Selector programs the groups of an action profile with a selector.
type Selector struct {
	m      *Manager
	schema *bfrt.ProfileSchema
	logger *slog.Logger
}

// Selector returns the selector with the given name.
func (m *Manager) Selector(name string) (*Selector, error) {
	ps, ok := m.profiles[name]
	if !ok || !ps.Selector {
		return nil, fmt.Errorf("%w: selector %q", bfrt.ErrObjectNotFound, name)
	}
	return &Selector{
		m:      m,
		schema: ps,
		logger: m.logger.With("component", "selector", "selector", ps.Name),
	}, nil
}

// Name returns the selector name.
func (s *Selector) Name() string { return s.schema.Name }

// AddGroup creates an empty group. A zero maxSize takes the profile's
// maximum group size.
func (s *Selector) AddGroup(ctx context.Context, tgt bfrt.Target, id bfrt.GroupID, maxSize uint32) (h bfrt.EntryHandle, err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { s.m.observe(s.schema.Name, "add_group", start, err) }(time.Now())

	if err := s.m.checkDevice(tgt); err != nil {
		return 0, err
	}
	if maxSize == 0 {
		maxSize = s.schema.MaxGroupSize
	}
	if s.schema.MaxGroupSize != 0 && maxSize > s.schema.MaxGroupSize {
		return 0, fmt.Errorf("%w: selector %s: group size %d above maximum %d", bfrt.ErrInvalidArgument, s.schema.Name, maxSize, s.schema.MaxGroupSize)
	}
	h, err = s.m.dev.AddGroup(ctx, s.schema.ID, tgt, id, maxSize)
	if err != nil {
		return 0, fmt.Errorf("selector %s: add group %d: %w", s.schema.Name, id, err)
	}
	s.logger.DebugContext(ctx, "group added", "target", tgt, "group", id, "max_size", maxSize, "handle", h)
	return h, nil
}

// AddGroupWithMembers creates a group and sets its members. The group
// is removed again if the membership cannot be set.
func (s *Selector) AddGroupWithMembers(ctx context.Context, tgt bfrt.Target, id bfrt.GroupID, maxSize uint32, members []bfrt.MemberID) (bfrt.EntryHandle, error) {
	ctx = WithOpID(ctx)
	var undo undoStack

	h, err := s.AddGroup(ctx, tgt, id, maxSize)
	if err != nil {
		return 0, err
	}
	undo.push(action.DeleteGroup{Profile: s.schema.ID, Target: tgt, Group: id})
	if err := s.SetMembers(ctx, tgt, id, members); err != nil {
		if rbErr := undo.rollback(ctx, s.m.executor, s.logger); rbErr != nil {
			return 0, errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return 0, err
	}
	return h, nil
}

// SetMembers replaces the membership of a group.
//
// Pattern: FETCH -> EXECUTE
func (s *Selector) SetMembers(ctx context.Context, tgt bfrt.Target, id bfrt.GroupID, members []bfrt.MemberID) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { s.m.observe(s.schema.Name, "set_members", start, err) }(time.Now())

	if err := s.m.checkDevice(tgt); err != nil {
		return err
	}

	// FETCH
	if _, err := s.group(ctx, tgt, id); err != nil {
		return err
	}
	for _, mid := range members {
		_, err := s.m.dev.Member(ctx, s.schema.ID, tgt, mid)
		if errors.Is(err, store.ErrNotFound) {
			return bfrt.ErrMemberNotFound{Profile: s.schema.Name, MemberID: mid}
		}
		if err != nil {
			return fmt.Errorf("selector %s: member %d: %w", s.schema.Name, mid, err)
		}
	}

	// EXECUTE
	if err := s.m.dev.SetGroupMembers(ctx, s.schema.ID, tgt, id, members); err != nil {
		return fmt.Errorf("selector %s: set group %d members: %w", s.schema.Name, id, err)
	}
	s.logger.DebugContext(ctx, "group members set", "target", tgt, "group", id, "members", len(members))
	return nil
}

// DeleteGroup removes a group. Groups still referenced by an entry are
// rejected by the device.
func (s *Selector) DeleteGroup(ctx context.Context, tgt bfrt.Target, id bfrt.GroupID) (err error) {
	ctx = WithOpID(ctx)
	defer func(start time.Time) { s.m.observe(s.schema.Name, "delete_group", start, err) }(time.Now())

	if err := s.m.checkDevice(tgt); err != nil {
		return err
	}
	err = s.m.dev.DeleteGroup(ctx, s.schema.ID, tgt, id)
	if errors.Is(err, store.ErrNotFound) {
		return bfrt.ErrGroupNotFound{Selector: s.schema.Name, GroupID: id}
	}
	if err != nil {
		return fmt.Errorf("selector %s: delete group %d: %w", s.schema.Name, id, err)
	}
	s.logger.DebugContext(ctx, "group deleted", "target", tgt, "group", id)
	return nil
}

// Group reads a group.
func (s *Selector) Group(ctx context.Context, tgt bfrt.Target, id bfrt.GroupID) (bfrt.Group, error) {
	if err := s.m.checkDevice(tgt); err != nil {
		return bfrt.Group{}, err
	}
	return s.group(ctx, tgt, id)
}

func (s *Selector) group(ctx context.Context, tgt bfrt.Target, id bfrt.GroupID) (bfrt.Group, error) {
	g, err := s.m.dev.Group(ctx, s.schema.ID, tgt, id)
	if errors.Is(err, store.ErrNotFound) {
		return bfrt.Group{}, bfrt.ErrGroupNotFound{Selector: s.schema.Name, GroupID: id}
	}
	if err != nil {
		return bfrt.Group{}, fmt.Errorf("selector %s: group %d: %w", s.schema.Name, id, err)
	}
	return g, nil
}

// Groups returns every group in id order.
func (s *Selector) Groups(ctx context.Context, tgt bfrt.Target) ([]bfrt.Group, error) {
	if err := s.m.checkDevice(tgt); err != nil {
		return nil, err
	}
	var out []bfrt.Group
	for g, err := range s.m.dev.Groups(ctx, s.schema.ID, tgt) {
		if err != nil {
			return nil, fmt.Errorf("selector %s: list groups: %w", s.schema.Name, err)
		}
		out = append(out, g)
	}
	return out, nil
}
