// Package client provides a unified interface to the bfrt table runtime.
//
// Use Dial to connect to a running bfrt daemon:
//
//	c, err := client.Dial(client.DefaultSocketPath())
//	c, err := client.Dial("localhost:50052")
//
// Use Open to drive the device model in-process:
//
//	c, err := client.Open(client.WithProgram("/etc/bfrt/switch.p4info.txt"))
//
// Both return a Client that can be used identically.
package client

import (
	"context"
	"io"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
)

// Ref names a table, action profile or selector and the target the
// operation addresses. A nil Target addresses every pipe of the
// server's device.
type Ref struct {
	Name   string
	Target *bfrt.Target
	Flags  bfrt.Flags
}

// Table returns a reference to a table on the default target.
func Table(name string) Ref {
	return Ref{Name: name}
}

// On returns a copy of r addressing tgt.
func (r Ref) On(tgt bfrt.Target) Ref {
	r.Target = &tgt
	return r
}

// With returns a copy of r carrying flags.
func (r Ref) With(flags bfrt.Flags) Ref {
	r.Flags = flags
	return r
}

// Entry is a table entry in its text form.
type Entry struct {
	Key  []entryfmt.Item
	Data []entryfmt.Item
}

// Page is one batch of GetEntries. Session continues the walk.
type Page struct {
	Session string
	Entries []Entry
}

// TableInfo describes one table of the running program.
type TableInfo struct {
	Name      string
	Kind      string
	Size      uint32
	Key       []string
	Actions   []string
	Idle      bool
	Immutable bool
}

// ProfileInfo describes one action profile.
type ProfileInfo struct {
	Name     string
	Size     uint32
	Selector bool
}

// Program describes the program a server runs.
type Program struct {
	Name     string
	Device   uint32
	Tables   []TableInfo
	Profiles []ProfileInfo
}

// IdleTimeout reports an entry that aged out in notify mode.
type IdleTimeout struct {
	Table  string
	Target string
	Key    []entryfmt.Item
}

// Client provides a transport-agnostic interface to the table runtime.
// Commands use this interface and remain unaware of whether they are
// operating in-process or against a daemon.
type Client interface {
	io.Closer

	Describe(ctx context.Context) (Program, error)

	// Entry operations
	AddEntry(ctx context.Context, table Ref, key, data []entryfmt.Item) (bfrt.EntryHandle, error)
	// ModifyEntry rewrites an entry. With selected set only the fields
	// in data are touched.
	ModifyEntry(ctx context.Context, table Ref, key, data []entryfmt.Item, selected bool) error
	AddOrModifyEntry(ctx context.Context, table Ref, key, data []entryfmt.Item) (added bool, err error)
	DeleteEntry(ctx context.Context, table Ref, key []entryfmt.Item) error
	// GetEntry reads one entry. A non-empty fields list restricts the
	// read to the named fields; "action=name" selects the action.
	GetEntry(ctx context.Context, table Ref, key []entryfmt.Item, fields []string) (Entry, error)
	GetEntryByHandle(ctx context.Context, table Ref, h bfrt.EntryHandle) (Entry, error)
	// GetEntries returns up to count entries. With an empty key the
	// page starts at the first entry, otherwise after key.
	GetEntries(ctx context.Context, table Ref, session string, after []entryfmt.Item, count uint32) (Page, error)
	ListEntries(ctx context.Context, table Ref) ([]Entry, error)
	ClearTable(ctx context.Context, table Ref) error

	// Default entry operations
	GetDefault(ctx context.Context, table Ref) ([]entryfmt.Item, error)
	SetDefault(ctx context.Context, table Ref, data []entryfmt.Item) error
	ResetDefault(ctx context.Context, table Ref) error

	// Aging
	GetIdle(ctx context.Context, table Ref) (bfrt.IdleConfig, error)
	SetIdle(ctx context.Context, table Ref, cfg bfrt.IdleConfig) error
	// WatchIdle puts the table in notify mode and calls fn for every
	// timeout until ctx is done. Aging is disabled when it returns.
	WatchIdle(ctx context.Context, table Ref, cfg bfrt.IdleConfig, fn func(IdleTimeout)) error

	// Pipe partitioning
	GetScope(ctx context.Context, table Ref) (bfrt.EntryScope, error)
	SetScope(ctx context.Context, table Ref, scope bfrt.EntryScope) error

	// Action profiles and selectors
	AddMember(ctx context.Context, profile Ref, id bfrt.MemberID, data []entryfmt.Item) (bfrt.EntryHandle, error)
	DeleteMember(ctx context.Context, profile Ref, id bfrt.MemberID) error
	GetMember(ctx context.Context, profile Ref, id bfrt.MemberID) ([]entryfmt.Item, error)
	ListMembers(ctx context.Context, profile Ref) ([]bfrt.MemberID, error)
	AddGroup(ctx context.Context, selector Ref, id bfrt.GroupID, maxSize uint32, members []bfrt.MemberID) (bfrt.EntryHandle, error)
	SetGroupMembers(ctx context.Context, selector Ref, id bfrt.GroupID, members []bfrt.MemberID) error
	DeleteGroup(ctx context.Context, selector Ref, id bfrt.GroupID) error
	ListGroups(ctx context.Context, selector Ref) ([]bfrt.Group, error)

	// Usage returns the entry count of a table on its target.
	Usage(ctx context.Context, table Ref) (uint32, error)
	// AllUsage returns the entry count of every table across all
	// partitions.
	AllUsage(ctx context.Context) (map[string]uint32, error)
}
