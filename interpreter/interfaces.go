// Package interpreter contains the hardware resource layer boundary and
// the executor for reified writes. This is the only package that
// performs actual I/O.
package interpreter

import (
	"context"
	"io"
	"iter"

	"github.com/frobware/go-bfrt"
)

// MatchEngine programs and reads match table entries. Entries are
// partitioned by target pipe; symmetric tables use the all-pipes
// target.
type MatchEngine interface {
	// Lookup resolves a match spec to the handle of an installed entry.
	// Returns store.ErrNotFound if no entry has this match spec.
	Lookup(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, match bfrt.MatchSpec) (bfrt.EntryHandle, error)

	// AddEntry installs an entry and returns its handle. The spec is
	// borrowed for the duration of the call.
	AddEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, match bfrt.MatchSpec, spec *bfrt.ActionSpec, idle uint32) (bfrt.EntryHandle, error)

	// SetAction replaces the action spec and resource attachments of an
	// entry. Resources tagged no-change keep their current value.
	SetAction(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, spec *bfrt.ActionSpec) error

	// SetResources programs direct meter and register attachments.
	SetResources(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, resources []bfrt.ResourceSpec) error

	// SetDirectCounter sets the direct counter of an entry.
	SetDirectCounter(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, v bfrt.CounterValue) error

	// DeleteEntry removes an entry. Returns store.ErrNotFound if the
	// handle is not installed.
	DeleteEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle) error

	// GetEntry reads an entry. Only the resource categories in mask are
	// filled in.
	GetEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, mask bfrt.FetchMask) (bfrt.Entry, error)

	// FirstHandle returns the lowest installed handle.
	// Returns store.ErrNotFound on an empty table.
	FirstHandle(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) (bfrt.EntryHandle, error)

	// NextHandles returns up to n installed handles that follow h. h
	// itself need not be installed.
	NextHandles(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, n int) ([]bfrt.EntryHandle, error)

	// Usage returns the number of installed entries.
	Usage(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) (uint32, error)
}

// DefaultEntryEngine programs the per-table default entry.
type DefaultEntryEngine interface {
	// SetDefaultEntry programs the default action.
	SetDefaultEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, spec *bfrt.ActionSpec) error

	// GetDefaultEntry reads the programmed default action. Returns
	// store.ErrNotFound when the program-declared default is in place.
	GetDefaultEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, mask bfrt.FetchMask) (bfrt.ActionSpec, error)

	// ResetDefaultEntry drops the programmed default action so the
	// program-declared one applies again.
	ResetDefaultEntry(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) error
}

// ActionProfileEngine reads action-profile members and selector groups.
type ActionProfileEngine interface {
	// Member returns a member by id.
	// Returns store.ErrNotFound if the member does not exist.
	Member(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.MemberID) (bfrt.Member, error)

	// Group returns a group by id, with its members in insertion order.
	// Returns store.ErrNotFound if the group does not exist.
	Group(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID) (bfrt.Group, error)

	// Members iterates the members of a profile in id order.
	Members(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target) iter.Seq2[bfrt.Member, error]

	// Groups iterates the groups of a selector in id order.
	Groups(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target) iter.Seq2[bfrt.Group, error]
}

// ActionProfileWriter creates and removes members and groups.
type ActionProfileWriter interface {
	AddMember(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.MemberID, spec *bfrt.ActionSpec) (bfrt.EntryHandle, error)
	DeleteMember(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.MemberID) error
	AddGroup(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID, maxSize uint32) (bfrt.EntryHandle, error)
	// SetGroupMembers replaces the membership of a group.
	SetGroupMembers(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID, members []bfrt.MemberID) error
	DeleteGroup(ctx context.Context, profile bfrt.ProfileID, tgt bfrt.Target, id bfrt.GroupID) error
}

// IdleCallback receives hardware-originated idle timeouts. It runs on
// the engine's event goroutine and must not block.
type IdleCallback func(tgt bfrt.Target, h bfrt.EntryHandle)

// IdleEngine is the hardware idle-time engine.
type IdleEngine interface {
	// SetIdleConfig pushes a mode and thresholds for a table.
	SetIdleConfig(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, cfg bfrt.IdleConfig) error

	// IdleConfig returns the configuration last pushed. Tables never
	// configured report disabled.
	IdleConfig(ctx context.Context, table bfrt.TableID, tgt bfrt.Target) (bfrt.IdleConfig, error)

	// SetIdle sets the TTL in notify mode or the hit state in poll mode.
	// reset restarts a running timer.
	SetIdle(ctx context.Context, table bfrt.TableID, tgt bfrt.Target, h bfrt.EntryHandle, value uint32, reset bool) error

	// RegisterIdleCallback installs the timeout callback of a table,
	// replacing any previous one. A nil callback unregisters.
	RegisterIdleCallback(table bfrt.TableID, cb IdleCallback)
}

// ScopeEngine stores the pipe partitioning of a table.
type ScopeEngine interface {
	EntryScope(ctx context.Context, table bfrt.TableID) (bfrt.EntryScope, error)
	SetEntryScope(ctx context.Context, table bfrt.TableID, scope bfrt.EntryScope) error
}

// Device combines every hardware resource layer operation for one
// device.
type Device interface {
	io.Closer
	MatchEngine
	DefaultEntryEngine
	ActionProfileEngine
	ActionProfileWriter
	IdleEngine
	ScopeEngine

	// ID returns the device id.
	ID() uint32
	// Pipes returns the number of pipes of the device.
	Pipes() uint16
}
