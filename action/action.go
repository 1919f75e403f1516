// Package action contains reified hardware writes - descriptions of
// what to program without programming it. These are pure data
// structures; the interpreter executes them.
package action

import (
	"github.com/frobware/go-bfrt"
)

// Action represents an effect to be executed.
// Actions are data - they describe what to do, not how.
type Action interface {
	isAction()
}

// Match entry actions - operations on installed entries

// SetAction replaces the action spec of an entry, including its
// resource attachments. Spec is borrowed for the duration of the call.
type SetAction struct {
	Table  bfrt.TableID
	Target bfrt.Target
	Handle bfrt.EntryHandle
	Spec   *bfrt.ActionSpec
}

func (SetAction) isAction() {}

// SetResources programs direct meter and register attachments of an
// entry without touching its action.
type SetResources struct {
	Table     bfrt.TableID
	Target    bfrt.Target
	Handle    bfrt.EntryHandle
	Resources []bfrt.ResourceSpec
}

func (SetResources) isAction() {}

// SetDirectCounter sets the direct counter of an entry.
type SetDirectCounter struct {
	Table  bfrt.TableID
	Target bfrt.Target
	Handle bfrt.EntryHandle
	Value  bfrt.CounterValue
}

func (SetDirectCounter) isAction() {}

// SetIdle sets the TTL (notify mode) or hit state (poll mode) of an
// entry. Reset restarts the running timer.
type SetIdle struct {
	Table  bfrt.TableID
	Target bfrt.Target
	Handle bfrt.EntryHandle
	Value  uint32
	Reset  bool
}

func (SetIdle) isAction() {}

// DeleteEntry removes an entry.
type DeleteEntry struct {
	Table  bfrt.TableID
	Target bfrt.Target
	Handle bfrt.EntryHandle
}

func (DeleteEntry) isAction() {}

// Default entry actions

// SetDefaultEntry programs the default entry of a table.
type SetDefaultEntry struct {
	Table  bfrt.TableID
	Target bfrt.Target
	Spec   *bfrt.ActionSpec
}

func (SetDefaultEntry) isAction() {}

// ResetDefaultEntry restores the default entry the program declares.
type ResetDefaultEntry struct {
	Table  bfrt.TableID
	Target bfrt.Target
}

func (ResetDefaultEntry) isAction() {}

// Table attribute actions

// SetIdleConfig pushes an aging configuration to the idle-time engine.
type SetIdleConfig struct {
	Table  bfrt.TableID
	Target bfrt.Target
	Config bfrt.IdleConfig
}

func (SetIdleConfig) isAction() {}

// SetEntryScope changes how a table is partitioned across pipes.
type SetEntryScope struct {
	Table bfrt.TableID
	Scope bfrt.EntryScope
}

func (SetEntryScope) isAction() {}

// Action profile actions

// DeleteMember removes an action-profile member.
type DeleteMember struct {
	Profile bfrt.ProfileID
	Target  bfrt.Target
	Member  bfrt.MemberID
}

func (DeleteMember) isAction() {}

// DeleteGroup removes a selector group.
type DeleteGroup struct {
	Profile bfrt.ProfileID
	Target  bfrt.Target
	Group   bfrt.GroupID
}

func (DeleteGroup) isAction() {}

// Sequence executes actions in order, stopping on first error.
type Sequence struct {
	Actions []Action
}

func (Sequence) isAction() {}
