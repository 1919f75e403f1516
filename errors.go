package bfrt

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the table runtime matches
// exactly one of these through errors.Is; the typed errors below carry
// the identifier that failed so callers can branch on it.
var (
	// ErrInvalidArgument reports a malformed key or data object, an
	// immutability violation, or a field that is not valid in the
	// current mode.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrObjectNotFound reports an absent entry, member, group or key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrNotSupported reports an attribute or operation that does not
	// apply to this table type.
	ErrNotSupported = errors.New("not supported")

	// ErrUnexpected reports a violated internal invariant. It is a
	// programming error and is never retried.
	ErrUnexpected = errors.New("unexpected")

	// ErrUnavailable reports a hardware layer that cannot serve the
	// request right now.
	ErrUnavailable = errors.New("unavailable")
)

// ErrEntryNotFound is returned when a key does not resolve to an
// installed entry.
type ErrEntryNotFound struct {
	Table string
}

func (e ErrEntryNotFound) Error() string {
	return fmt.Sprintf("table %s: entry does not exist", e.Table)
}

func (e ErrEntryNotFound) Is(target error) bool { return target == ErrObjectNotFound }

// ErrMemberNotFound is returned when an action-profile member id does
// not exist. This is a dangling reference in the caller's data.
type ErrMemberNotFound struct {
	Profile  string
	MemberID MemberID
}

func (e ErrMemberNotFound) Error() string {
	return fmt.Sprintf("action profile %s: member %d does not exist", e.Profile, e.MemberID)
}

func (e ErrMemberNotFound) Is(target error) bool { return target == ErrObjectNotFound }

// ErrGroupNotFound is returned when a selector group id does not exist.
type ErrGroupNotFound struct {
	Selector string
	GroupID  GroupID
}

func (e ErrGroupNotFound) Error() string {
	return fmt.Sprintf("selector %s: group %d does not exist", e.Selector, e.GroupID)
}

func (e ErrGroupNotFound) Is(target error) bool { return target == ErrObjectNotFound }

// ErrGroupEmpty is returned when a selector group exists but has no
// members to pick a representative from. Membership may be changing
// concurrently, so this is retryable.
type ErrGroupEmpty struct {
	Selector string
	GroupID  GroupID
}

func (e ErrGroupEmpty) Error() string {
	return fmt.Sprintf("selector %s: group %d has no members", e.Selector, e.GroupID)
}

func (e ErrGroupEmpty) Is(target error) bool { return target == ErrObjectNotFound }

// ErrTableImmutable is returned for writes to a table whose entries are
// fixed by the program.
type ErrTableImmutable struct {
	Table string
	Op    string
}

func (e ErrTableImmutable) Error() string {
	return fmt.Sprintf("table %s is immutable: %s not permitted", e.Table, e.Op)
}

func (e ErrTableImmutable) Is(target error) bool { return target == ErrInvalidArgument }

// ErrFieldNotApplicable is returned when a data field is set or
// requested while the table state makes it meaningless, for example a
// TTL field while aging is in poll mode.
type ErrFieldNotApplicable struct {
	Table  string
	Field  string
	Reason string
}

func (e ErrFieldNotApplicable) Error() string {
	return fmt.Sprintf("table %s: field %s not applicable: %s", e.Table, e.Field, e.Reason)
}

func (e ErrFieldNotApplicable) Is(target error) bool { return target == ErrInvalidArgument }

// ErrResourceMismatch is returned when the programmed resource set of
// an explicit entry cannot be reconciled with what its action declares.
type ErrResourceMismatch struct {
	Action     ActionID
	Programmed int
	Declared   int
}

func (e ErrResourceMismatch) Error() string {
	return fmt.Sprintf("action %d: %d direct resources programmed but %d declared", e.Action, e.Programmed, e.Declared)
}

func (e ErrResourceMismatch) Is(target error) bool { return target == ErrUnexpected }

// invalidf builds an ErrInvalidArgument with context.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
