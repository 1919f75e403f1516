package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter/store"
)

func (d *Device) getMemberTx(ctx context.Context, q *sql.Stmt, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.MemberID) (bfrt.Member, error) {
	var (
		h      int64
		action string
	)
	start := time.Now()
	err := q.QueryRowContext(ctx, uint32(profile), tgt.Pipe, uint32(id)).Scan(&h, &action)
	d.trace("GetMember", start, err, "profile", profile, "member", id)
	if errors.Is(err, sql.ErrNoRows) {
		return bfrt.Member{}, store.ErrNotFound
	}
	if err != nil {
		return bfrt.Member{}, fmt.Errorf("get member: %w", err)
	}
	m := bfrt.Member{ID: id, Handle: bfrt.EntryHandle(h)}
	if err := json.Unmarshal([]byte(action), &m.Action); err != nil {
		return bfrt.Member{}, fmt.Errorf("unmarshal member action: %w", err)
	}
	return m, nil
}

func (d *Device) getGroupTx(ctx context.Context, q, members *sql.Stmt, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID) (bfrt.Group, error) {
	var h, maxSize int64
	start := time.Now()
	err := q.QueryRowContext(ctx, uint32(profile), tgt.Pipe, uint32(id)).Scan(&h, &maxSize)
	d.trace("GetGroup", start, err, "profile", profile, "group", id)
	if errors.Is(err, sql.ErrNoRows) {
		return bfrt.Group{}, store.ErrNotFound
	}
	if err != nil {
		return bfrt.Group{}, fmt.Errorf("get group: %w", err)
	}
	g := bfrt.Group{ID: id, Handle: bfrt.EntryHandle(h), MaxSize: uint32(maxSize)}
	if g.Members, err = d.groupMembers(ctx, members, g.Handle); err != nil {
		return bfrt.Group{}, err
	}
	return g, nil
}

func (d *Device) groupMembers(ctx context.Context, q *sql.Stmt, h bfrt.EntryHandle) ([]bfrt.MemberID, error) {
	rows, err := q.QueryContext(ctx, uint32(h))
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var out []bfrt.MemberID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		out = append(out, bfrt.MemberID(id))
	}
	return out, rows.Err()
}

// Member returns an action-profile member by id.
func (d *Device) Member(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.MemberID) (bfrt.Member, error) {
	if err := d.checkTarget(tgt); err != nil {
		return bfrt.Member{}, err
	}
	return d.getMemberTx(ctx, d.stmts.getMember, profile, tgt, id)
}

// Group returns a selector group by id with its members in insertion
// order.
func (d *Device) Group(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID) (bfrt.Group, error) {
	if err := d.checkTarget(tgt); err != nil {
		return bfrt.Group{}, err
	}
	return d.getGroupTx(ctx, d.stmts.getGroup, d.stmts.groupMembers, profile, tgt, id)
}

// Members iterates the members of a profile in id order. The rows are
// read before the first yield.
func (d *Device) Members(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target) iter.Seq2[bfrt.Member, error] {
	return func(yield func(bfrt.Member, error) bool) {
		members, err := d.listMembers(ctx, profile, tgt)
		if err != nil {
			yield(bfrt.Member{}, err)
			return
		}
		for _, m := range members {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (d *Device) listMembers(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target) ([]bfrt.Member, error) {
	if err := d.checkTarget(tgt); err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := d.stmts.listMembers.QueryContext(ctx, uint32(profile), tgt.Pipe)
	d.trace("ListMembers", start, err, "profile", profile)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []bfrt.Member
	for rows.Next() {
		var (
			id, h  int64
			action string
		)
		if err := rows.Scan(&id, &h, &action); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m := bfrt.Member{ID: bfrt.MemberID(id), Handle: bfrt.EntryHandle(h)}
		if err := json.Unmarshal([]byte(action), &m.Action); err != nil {
			return nil, fmt.Errorf("unmarshal member action: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Groups iterates the groups of a selector in id order. The rows are
// read before the first yield.
func (d *Device) Groups(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target) iter.Seq2[bfrt.Group, error] {
	return func(yield func(bfrt.Group, error) bool) {
		groups, err := d.listGroups(ctx, profile, tgt)
		if err != nil {
			yield(bfrt.Group{}, err)
			return
		}
		for _, g := range groups {
			if !yield(g, nil) {
				return
			}
		}
	}
}

func (d *Device) listGroups(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target) ([]bfrt.Group, error) {
	if err := d.checkTarget(tgt); err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := d.stmts.listGroups.QueryContext(ctx, uint32(profile), tgt.Pipe)
	d.trace("ListGroups", start, err, "profile", profile)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	var groups []bfrt.Group
	for rows.Next() {
		var id, h, maxSize int64
		if err := rows.Scan(&id, &h, &maxSize); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, bfrt.Group{ID: bfrt.GroupID(id), Handle: bfrt.EntryHandle(h), MaxSize: uint32(maxSize)})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	// Membership is read after the group cursor is closed.
	for i := range groups {
		if groups[i].Members, err = d.groupMembers(ctx, d.stmts.groupMembers, groups[i].Handle); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// AddMember creates an action-profile member.
func (d *Device) AddMember(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.MemberID, spec *bfrt.ActionSpec) (bfrt.EntryHandle, error) {
	if err := d.checkTarget(tgt); err != nil {
		return 0, err
	}
	stored := spec.Clone()
	b, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("marshal member action: %w", err)
	}

	var handle bfrt.EntryHandle
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := d.getMemberTx(ctx, tx.StmtContext(ctx, d.stmts.getMember), profile, tgt, id)
		if err == nil {
			return fmt.Errorf("%w: member %d already exists", bfrt.ErrInvalidArgument, id)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		start := time.Now()
		res, err := tx.StmtContext(ctx, d.stmts.insertMember).ExecContext(ctx, uint32(profile), tgt.Pipe, uint32(id), string(b))
		d.trace("InsertMember", start, err, "profile", profile, "member", id)
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		h, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("member handle: %w", err)
		}
		handle = bfrt.EntryHandle(h)
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.logger.Debug("added member", "profile", profile, "target", tgt, "member", id, "handle", handle)
	return handle, nil
}

// DeleteMember removes a member. A member still referenced by an entry
// or a group cannot be removed.
func (d *Device) DeleteMember(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.MemberID) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		m, err := d.getMemberTx(ctx, tx.StmtContext(ctx, d.stmts.getMember), profile, tgt, id)
		if err != nil {
			return err
		}
		var refs int64
		if err := tx.StmtContext(ctx, d.stmts.memberRefs).QueryRowContext(ctx, uint32(m.Handle)).Scan(&refs); err != nil {
			return fmt.Errorf("count member references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: member %d in use by %d references", bfrt.ErrInvalidArgument, id, refs)
		}
		start := time.Now()
		_, err = tx.StmtContext(ctx, d.stmts.deleteMember).ExecContext(ctx, uint32(m.Handle))
		d.trace("DeleteMember", start, err, "member", id)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		return nil
	})
}

// AddGroup creates an empty selector group.
func (d *Device) AddGroup(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID, maxSize uint32) (bfrt.EntryHandle, error) {
	if err := d.checkTarget(tgt); err != nil {
		return 0, err
	}
	if maxSize == 0 {
		return 0, fmt.Errorf("%w: group %d has zero max size", bfrt.ErrInvalidArgument, id)
	}
	var handle bfrt.EntryHandle
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := d.getGroupTx(ctx, tx.StmtContext(ctx, d.stmts.getGroup), tx.StmtContext(ctx, d.stmts.groupMembers), profile, tgt, id)
		if err == nil {
			return fmt.Errorf("%w: group %d already exists", bfrt.ErrInvalidArgument, id)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		start := time.Now()
		res, err := tx.StmtContext(ctx, d.stmts.insertGroup).ExecContext(ctx, uint32(profile), tgt.Pipe, uint32(id), maxSize)
		d.trace("InsertGroup", start, err, "profile", profile, "group", id)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		h, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("group handle: %w", err)
		}
		handle = bfrt.EntryHandle(h)
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.logger.Debug("added group", "profile", profile, "target", tgt, "group", id, "handle", handle)
	return handle, nil
}

// SetGroupMembers replaces the membership of a group. Every member must
// exist and the group size limit holds.
func (d *Device) SetGroupMembers(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID, members []bfrt.MemberID) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		g, err := d.getGroupTx(ctx, tx.StmtContext(ctx, d.stmts.getGroup), tx.StmtContext(ctx, d.stmts.groupMembers), profile, tgt, id)
		if err != nil {
			return err
		}
		if uint32(len(members)) > g.MaxSize {
			return fmt.Errorf("%w: group %d takes at most %d members, got %d", bfrt.ErrInvalidArgument, id, g.MaxSize, len(members))
		}
		seen := make(map[bfrt.MemberID]bool, len(members))
		handles := make([]bfrt.EntryHandle, len(members))
		getMember := tx.StmtContext(ctx, d.stmts.getMember)
		for i, mid := range members {
			if seen[mid] {
				return fmt.Errorf("%w: member %d listed twice in group %d", bfrt.ErrInvalidArgument, mid, id)
			}
			seen[mid] = true
			m, err := d.getMemberTx(ctx, getMember, profile, tgt, mid)
			if err != nil {
				return fmt.Errorf("group %d member %d: %w", id, mid, err)
			}
			handles[i] = m.Handle
		}

		if _, err := tx.StmtContext(ctx, d.stmts.clearGroupMembers).ExecContext(ctx, uint32(g.Handle)); err != nil {
			return fmt.Errorf("clear group members: %w", err)
		}
		insert := tx.StmtContext(ctx, d.stmts.insertGroupMember)
		for pos, mid := range members {
			start := time.Now()
			_, err := insert.ExecContext(ctx, uint32(g.Handle), uint32(handles[pos]), uint32(mid), pos)
			d.trace("InsertGroupMember", start, err, "group", id, "member", mid)
			if err != nil {
				return fmt.Errorf("insert group member: %w", err)
			}
		}
		return nil
	})
}

// DeleteGroup removes a group. A group still referenced by an entry
// cannot be removed.
func (d *Device) DeleteGroup(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID) error {
	if err := d.checkTarget(tgt); err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		g, err := d.getGroupTx(ctx, tx.StmtContext(ctx, d.stmts.getGroup), tx.StmtContext(ctx, d.stmts.groupMembers), profile, tgt, id)
		if err != nil {
			return err
		}
		var refs int64
		if err := tx.StmtContext(ctx, d.stmts.groupRefs).QueryRowContext(ctx, uint32(g.Handle)).Scan(&refs); err != nil {
			return fmt.Errorf("count group references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: group %d in use by %d entries", bfrt.ErrInvalidArgument, id, refs)
		}
		start := time.Now()
		_, err = tx.StmtContext(ctx, d.stmts.deleteGroup).ExecContext(ctx, uint32(g.Handle))
		d.trace("DeleteGroup", start, err, "group", id)
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		return nil
	})
}
