package bfrt

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
)

// MatchField is the encoded value of one key field. Mask is set for
// ternary fields, High for range fields (Value holds the low bound) and
// PrefixLen for LPM fields.
type MatchField struct {
	ID        FieldID `json:"id"`
	Value     []byte  `json:"value"`
	Mask      []byte  `json:"mask,omitempty"`
	High      []byte  `json:"high,omitempty"`
	PrefixLen uint16  `json:"prefix_len,omitempty"`
}

// MatchSpec is the encoded match part of an entry, one field per schema
// key field in schema order.
type MatchSpec struct {
	Fields   []MatchField `json:"fields"`
	Priority uint32       `json:"priority,omitempty"`
}

// Canonical returns a byte encoding that is equal for equal match specs.
// It is the identity the hardware layer uses to detect duplicates.
func (m MatchSpec) Canonical() []byte {
	var b []byte
	for _, f := range m.Fields {
		b = binary.BigEndian.AppendUint32(b, uint32(f.ID))
		b = appendChunk(b, f.Value)
		b = appendChunk(b, f.Mask)
		b = appendChunk(b, f.High)
		b = binary.BigEndian.AppendUint16(b, f.PrefixLen)
	}
	return binary.BigEndian.AppendUint32(b, m.Priority)
}

func appendChunk(b, chunk []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(chunk)))
	return append(b, chunk...)
}

// WidthBits returns the total number of value bits in the spec.
func (m MatchSpec) WidthBits() int {
	n := 0
	for _, f := range m.Fields {
		n += 8 * len(f.Value)
	}
	return n
}

// ResourceTag says what a resource attachment does to the entry.
type ResourceTag uint8

const (
	TagAttached ResourceTag = iota
	TagNoChange
	TagRemoved
)

func (t ResourceTag) String() string {
	switch t {
	case TagAttached:
		return "attached"
	case TagNoChange:
		return "no-change"
	case TagRemoved:
		return "removed"
	default:
		return fmt.Sprintf("ResourceTag(%d)", t)
	}
}

// CounterValue is a byte and packet count pair.
type CounterValue struct {
	Bytes   uint64 `json:"bytes"`
	Packets uint64 `json:"packets"`
}

// MeterValue holds committed and peak rates and burst sizes.
type MeterValue struct {
	CIR uint64 `json:"cir"`
	PIR uint64 `json:"pir"`
	CBS uint64 `json:"cbs"`
	PBS uint64 `json:"pbs"`
}

// RegisterValue holds one register value per pipe on reads and a single
// value on writes.
type RegisterValue struct {
	Values []uint64 `json:"values"`
}

// ResourceSpec is one resource attachment of an action spec. Direct
// resources carry a value; indirect ones carry an index.
type ResourceSpec struct {
	Kind     ResourceKind  `json:"kind"`
	ID       ResourceID    `json:"id"`
	Tag      ResourceTag   `json:"tag"`
	Indirect bool          `json:"indirect,omitempty"`
	Index    uint32        `json:"index,omitempty"`
	Counter  CounterValue  `json:"counter"`
	Meter    MeterValue    `json:"meter"`
	Register RegisterValue `json:"register"`
}

// ActionSpec is the action part of an entry as programmed into the
// hardware layer. For indirect tables exactly one of MemberID and
// GroupID is set and the handles are filled in by resolution. A group
// reference also carries the handle of the group's first member.
type ActionSpec struct {
	ActionID     ActionID           `json:"action_id"`
	Params       map[FieldID][]byte `json:"params,omitempty"`
	MemberID     MemberID           `json:"member_id,omitempty"`
	MemberHandle EntryHandle        `json:"member_handle,omitempty"`
	GroupID      GroupID            `json:"group_id,omitempty"`
	GroupHandle  EntryHandle        `json:"group_handle,omitempty"`
	HasMember    bool               `json:"has_member,omitempty"`
	HasGroup     bool               `json:"has_group,omitempty"`
	Resources    []ResourceSpec     `json:"resources,omitempty"`
}

// DirectResourceCount returns the number of direct resource
// attachments.
func (s *ActionSpec) DirectResourceCount() int {
	n := 0
	for _, r := range s.Resources {
		if !r.Indirect {
			n++
		}
	}
	return n
}

// Resource returns the attachment for a resource id.
func (s *ActionSpec) Resource(id ResourceID) (ResourceSpec, bool) {
	for _, r := range s.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return ResourceSpec{}, false
}

// Clone returns a deep copy of the spec that does not share memory
// with pooled storage.
func (s *ActionSpec) Clone() ActionSpec {
	out := *s
	if s.Params != nil {
		out.Params = make(map[FieldID][]byte, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = slices.Clone(v)
		}
	}
	out.Resources = make([]ResourceSpec, len(s.Resources))
	for i, r := range s.Resources {
		r.Register.Values = slices.Clone(r.Register.Values)
		out.Resources[i] = r
	}
	return out
}

func (s *ActionSpec) reset() {
	clear(s.Params)
	params := s.Params
	resources := s.Resources[:0]
	*s = ActionSpec{Params: params, Resources: resources}
	if s.Params == nil {
		s.Params = make(map[FieldID][]byte)
	}
}

var actionSpecPool = sync.Pool{
	New: func() any { return &ActionSpec{Params: make(map[FieldID][]byte)} },
}

// AcquireActionSpec returns an empty spec from the pool. The caller owns
// it until Release; the hardware layer must not retain it past the call
// it was passed to.
func AcquireActionSpec() *ActionSpec {
	s := actionSpecPool.Get().(*ActionSpec)
	s.reset()
	return s
}

// Release returns the spec to the pool. Safe on nil.
func (s *ActionSpec) Release() {
	if s == nil {
		return
	}
	s.reset()
	actionSpecPool.Put(s)
}

// FetchMask selects the resource categories read back by a get.
type FetchMask uint8

const (
	FetchCounter FetchMask = 1 << iota
	FetchMeter
	FetchRegister
	FetchIdle

	FetchAll = FetchCounter | FetchMeter | FetchRegister | FetchIdle
)

// Has reports whether all bits of m2 are set in m.
func (m FetchMask) Has(m2 FetchMask) bool { return m&m2 == m2 }

// HitState is the poll-mode activity bit of an entry.
type HitState uint8

const (
	HitIdle HitState = iota
	HitActive
)

func (h HitState) String() string {
	if h == HitActive {
		return "active"
	}
	return "idle"
}

// IdleState is the aging state of an entry as read from the device.
type IdleState struct {
	TTL       uint32   `json:"ttl"`
	Remaining uint32   `json:"remaining"`
	Hit       HitState `json:"hit"`
}

// Entry is an installed entry as read from the hardware layer.
type Entry struct {
	Handle EntryHandle
	Match  MatchSpec
	Action ActionSpec
	Idle   IdleState
}

// IdleMode is the aging mode of a table.
type IdleMode uint8

const (
	IdleDisabled IdleMode = iota
	IdlePoll
	IdleNotify
)

func (m IdleMode) String() string {
	switch m {
	case IdleDisabled:
		return "disabled"
	case IdlePoll:
		return "poll"
	case IdleNotify:
		return "notify"
	default:
		return fmt.Sprintf("IdleMode(%d)", m)
	}
}

// ParseIdleMode parses an idle mode name.
func ParseIdleMode(s string) (IdleMode, bool) {
	switch s {
	case "disabled", "":
		return IdleDisabled, true
	case "poll":
		return IdlePoll, true
	case "notify":
		return IdleNotify, true
	default:
		return IdleDisabled, false
	}
}

// IdleConfig is the aging configuration pushed to the hardware idle-time
// engine. Durations are in milliseconds.
type IdleConfig struct {
	Mode          IdleMode `json:"mode"`
	Enabled       bool     `json:"enabled"`
	QueryInterval uint32   `json:"query_interval_ms"`
	MaxTTL        uint32   `json:"max_ttl_ms"`
	MinTTL        uint32   `json:"min_ttl_ms"`
}

// Active reports whether per-entry aging state is meaningful: the mode
// is poll or notify and aging is enabled.
func (c IdleConfig) Active() bool {
	return c.Enabled && c.Mode != IdleDisabled
}

// EntryScope says whether a table is programmed symmetrically across
// all pipes or independently per pipe.
type EntryScope uint8

const (
	ScopeAllPipes EntryScope = iota
	ScopeSinglePipe
)

func (s EntryScope) String() string {
	if s == ScopeSinglePipe {
		return "single-pipe"
	}
	return "all-pipes"
}

// ParseEntryScope parses the form printed by EntryScope.String.
func ParseEntryScope(s string) (EntryScope, bool) {
	switch s {
	case "all-pipes", "symmetric":
		return ScopeAllPipes, true
	case "single-pipe", "asymmetric":
		return ScopeSinglePipe, true
	default:
		return ScopeAllPipes, false
	}
}

// Member is an action-profile member as known to the hardware layer.
// Its action spec carries the indirect resources the member references.
type Member struct {
	ID     MemberID
	Handle EntryHandle
	Action ActionSpec
}

// Group is a selector group as known to the hardware layer.
type Group struct {
	ID      GroupID
	Handle  EntryHandle
	MaxSize uint32
	Members []MemberID
}
