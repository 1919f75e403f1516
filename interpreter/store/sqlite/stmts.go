package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// statements holds every prepared statement of the device model.
type statements struct {
	// Match entries
	lookup         *sql.Stmt
	insertEntry    *sql.Stmt
	getEntry       *sql.Stmt
	updateAction   *sql.Stmt
	deleteEntry    *sql.Stmt
	firstHandle    *sql.Stmt
	nextHandles    *sql.Stmt
	usage          *sql.Stmt
	listResources  *sql.Stmt
	clearResources *sql.Stmt
	upsertResource *sql.Stmt
	deleteResource *sql.Stmt
	setCounter     *sql.Stmt

	// Default entries
	getDefault    *sql.Stmt
	saveDefault   *sql.Stmt
	deleteDefault *sql.Stmt

	// Action profiles and selectors
	insertMember      *sql.Stmt
	getMember         *sql.Stmt
	listMembers       *sql.Stmt
	deleteMember      *sql.Stmt
	memberRefs        *sql.Stmt
	insertGroup       *sql.Stmt
	getGroup          *sql.Stmt
	listGroups        *sql.Stmt
	deleteGroup       *sql.Stmt
	groupRefs         *sql.Stmt
	clearGroupMembers *sql.Stmt
	insertGroupMember *sql.Stmt
	groupMembers      *sql.Stmt

	// Idle-time engine
	getIdleConfig   *sql.Stmt
	saveIdleConfig  *sql.Stmt
	notifyConfigs   *sql.Stmt
	setTTLReset     *sql.Stmt
	setTTLKeep      *sql.Stmt
	setHit          *sql.Stmt
	ageEntries      *sql.Stmt
	expireEntries   *sql.Stmt
	markHit         *sql.Stmt

	// Entry scope
	getScope  *sql.Stmt
	saveScope *sql.Stmt
}

func (s *statements) all() []**sql.Stmt {
	return []**sql.Stmt{
		&s.lookup, &s.insertEntry, &s.getEntry, &s.updateAction, &s.deleteEntry,
		&s.firstHandle, &s.nextHandles, &s.usage, &s.listResources, &s.clearResources,
		&s.upsertResource, &s.deleteResource, &s.setCounter,
		&s.getDefault, &s.saveDefault, &s.deleteDefault,
		&s.insertMember, &s.getMember, &s.listMembers, &s.deleteMember, &s.memberRefs,
		&s.insertGroup, &s.getGroup, &s.listGroups, &s.deleteGroup, &s.groupRefs,
		&s.clearGroupMembers, &s.insertGroupMember, &s.groupMembers,
		&s.getIdleConfig, &s.saveIdleConfig, &s.notifyConfigs, &s.setTTLReset, &s.setTTLKeep,
		&s.setHit, &s.ageEntries, &s.expireEntries, &s.markHit,
		&s.getScope, &s.saveScope,
	}
}

// close closes every prepared statement. Close errors are ignored
// because the database is about to be closed.
func (s *statements) close() {
	for _, stmt := range s.all() {
		if *stmt != nil {
			(*stmt).Close()
		}
	}
}

func (s *statements) prepare(ctx context.Context, db *sql.DB) error {
	prep := func(dst **sql.Stmt, name, query string) error {
		stmt, err := db.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
		*dst = stmt
		return nil
	}

	steps := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&s.lookup, "Lookup",
			"SELECT handle FROM entries WHERE table_id = ? AND pipe = ? AND match_key = ?"},
		{&s.insertEntry, "InsertEntry", `
			INSERT INTO entries
			(table_id, pipe, match_key, match_spec, action, member_handle, group_handle, ttl, remaining, hit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.getEntry, "GetEntry", `
			SELECT match_spec, action, ttl, remaining, hit
			FROM entries WHERE handle = ? AND table_id = ? AND pipe = ?`},
		{&s.updateAction, "UpdateAction", `
			UPDATE entries SET action = ?, member_handle = ?, group_handle = ?
			WHERE handle = ? AND table_id = ? AND pipe = ?`},
		{&s.deleteEntry, "DeleteEntry",
			"DELETE FROM entries WHERE handle = ? AND table_id = ? AND pipe = ?"},
		{&s.firstHandle, "FirstHandle",
			"SELECT handle FROM entries WHERE table_id = ? AND pipe = ? ORDER BY handle LIMIT 1"},
		{&s.nextHandles, "NextHandles",
			"SELECT handle FROM entries WHERE table_id = ? AND pipe = ? AND handle > ? ORDER BY handle LIMIT ?"},
		{&s.usage, "Usage",
			"SELECT COUNT(*) FROM entries WHERE table_id = ? AND pipe = ?"},
		{&s.listResources, "ListResources", `
			SELECT resource_id, kind, indirect, idx, bytes, packets, cir, pir, cbs, pbs, reg
			FROM entry_resources WHERE handle = ? ORDER BY position`},
		{&s.clearResources, "ClearResources",
			"DELETE FROM entry_resources WHERE handle = ?"},
		{&s.upsertResource, "UpsertResource", `
			INSERT INTO entry_resources
			(handle, resource_id, position, kind, indirect, idx, bytes, packets, cir, pir, cbs, pbs, reg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(handle, resource_id) DO UPDATE SET
			  idx = excluded.idx,
			  bytes = excluded.bytes,
			  packets = excluded.packets,
			  cir = excluded.cir,
			  pir = excluded.pir,
			  cbs = excluded.cbs,
			  pbs = excluded.pbs,
			  reg = excluded.reg`},
		{&s.deleteResource, "DeleteResource",
			"DELETE FROM entry_resources WHERE handle = ? AND resource_id = ?"},
		{&s.setCounter, "SetCounter", `
			UPDATE entry_resources SET bytes = ?, packets = ?
			WHERE handle = ? AND kind = ? AND indirect = 0`},

		{&s.getDefault, "GetDefault",
			"SELECT action FROM default_entries WHERE table_id = ? AND pipe = ?"},
		{&s.saveDefault, "SaveDefault", `
			INSERT INTO default_entries (table_id, pipe, action) VALUES (?, ?, ?)
			ON CONFLICT(table_id, pipe) DO UPDATE SET action = excluded.action`},
		{&s.deleteDefault, "DeleteDefault",
			"DELETE FROM default_entries WHERE table_id = ? AND pipe = ?"},

		{&s.insertMember, "InsertMember",
			"INSERT INTO members (profile_id, pipe, member_id, action) VALUES (?, ?, ?, ?)"},
		{&s.getMember, "GetMember",
			"SELECT handle, action FROM members WHERE profile_id = ? AND pipe = ? AND member_id = ?"},
		{&s.listMembers, "ListMembers",
			"SELECT member_id, handle, action FROM members WHERE profile_id = ? AND pipe = ? ORDER BY member_id"},
		{&s.deleteMember, "DeleteMember",
			"DELETE FROM members WHERE handle = ?"},
		{&s.memberRefs, "MemberRefs", `
			SELECT (SELECT COUNT(*) FROM entries WHERE member_handle = ?1)
			     + (SELECT COUNT(*) FROM group_members WHERE member_handle = ?1)`},
		{&s.insertGroup, "InsertGroup",
			"INSERT INTO selector_groups (profile_id, pipe, group_id, max_size) VALUES (?, ?, ?, ?)"},
		{&s.getGroup, "GetGroup",
			"SELECT handle, max_size FROM selector_groups WHERE profile_id = ? AND pipe = ? AND group_id = ?"},
		{&s.listGroups, "ListGroups",
			"SELECT group_id, handle, max_size FROM selector_groups WHERE profile_id = ? AND pipe = ? ORDER BY group_id"},
		{&s.deleteGroup, "DeleteGroup",
			"DELETE FROM selector_groups WHERE handle = ?"},
		{&s.groupRefs, "GroupRefs",
			"SELECT COUNT(*) FROM entries WHERE group_handle = ?"},
		{&s.clearGroupMembers, "ClearGroupMembers",
			"DELETE FROM group_members WHERE group_handle = ?"},
		{&s.insertGroupMember, "InsertGroupMember",
			"INSERT INTO group_members (group_handle, member_handle, member_id, position) VALUES (?, ?, ?, ?)"},
		{&s.groupMembers, "GroupMembers",
			"SELECT member_id FROM group_members WHERE group_handle = ? ORDER BY position"},

		{&s.getIdleConfig, "GetIdleConfig", `
			SELECT mode, enabled, query_interval, max_ttl, min_ttl
			FROM idle_config WHERE table_id = ? AND pipe = ?`},
		{&s.saveIdleConfig, "SaveIdleConfig", `
			INSERT INTO idle_config (table_id, pipe, mode, enabled, query_interval, max_ttl, min_ttl)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(table_id, pipe) DO UPDATE SET
			  mode = excluded.mode,
			  enabled = excluded.enabled,
			  query_interval = excluded.query_interval,
			  max_ttl = excluded.max_ttl,
			  min_ttl = excluded.min_ttl`},
		{&s.notifyConfigs, "NotifyConfigs",
			"SELECT table_id, pipe FROM idle_config WHERE mode = ? AND enabled = 1 ORDER BY table_id, pipe"},
		{&s.setTTLReset, "SetTTLReset", `
			UPDATE entries SET ttl = ?1, remaining = ?1, notified = 0
			WHERE handle = ?2 AND table_id = ?3 AND pipe = ?4`},
		{&s.setTTLKeep, "SetTTLKeep", `
			UPDATE entries SET ttl = ?1, remaining = MIN(remaining, ?1)
			WHERE handle = ?2 AND table_id = ?3 AND pipe = ?4`},
		{&s.setHit, "SetHit",
			"UPDATE entries SET hit = ? WHERE handle = ? AND table_id = ? AND pipe = ?"},
		{&s.ageEntries, "AgeEntries", `
			UPDATE entries SET remaining = MAX(remaining - ?, 0)
			WHERE table_id = ? AND pipe = ? AND ttl > 0 AND notified = 0`},
		{&s.expireEntries, "ExpireEntries", `
			UPDATE entries SET notified = 1
			WHERE table_id = ? AND pipe = ? AND ttl > 0 AND notified = 0 AND remaining = 0
			RETURNING handle`},
		{&s.markHit, "MarkHit", `
			UPDATE entries SET hit = 1, remaining = ttl, notified = 0
			WHERE handle = ? AND table_id = ? AND pipe = ?`},

		{&s.getScope, "GetScope",
			"SELECT scope FROM entry_scope WHERE table_id = ?"},
		{&s.saveScope, "SaveScope", `
			INSERT INTO entry_scope (table_id, scope) VALUES (?, ?)
			ON CONFLICT(table_id) DO UPDATE SET scope = excluded.scope`},
	}
	for _, step := range steps {
		if err := prep(step.dst, step.name, step.query); err != nil {
			return err
		}
	}
	return nil
}
