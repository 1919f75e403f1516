package bfrt

import (
	"fmt"
)

// Identifiers assigned by the program schema.
type (
	TableID    uint32
	ActionID   uint32
	FieldID    uint32
	ResourceID uint32
	ProfileID  uint32
)

// Identifiers assigned by the caller for action-profile members and
// selector groups.
type (
	MemberID uint32
	GroupID  uint32
)

// EntryHandle is the opaque hardware identifier of an installed entry.
// It is stable for the lifetime of the entry; zero is never valid.
type EntryHandle uint32

// TableKind is the closed set of match table shapes.
type TableKind uint8

const (
	// KindMatchDirect tables carry the action and its parameters in
	// every entry.
	KindMatchDirect TableKind = iota
	// KindMatchIndirect tables reference action-profile members.
	KindMatchIndirect
	// KindMatchIndirectSelector tables reference members or selector
	// groups.
	KindMatchIndirectSelector
)

func (k TableKind) String() string {
	switch k {
	case KindMatchDirect:
		return "match-direct"
	case KindMatchIndirect:
		return "match-indirect"
	case KindMatchIndirectSelector:
		return "match-indirect-selector"
	default:
		return fmt.Sprintf("TableKind(%d)", k)
	}
}

// Indirect reports whether entries reference action-profile state
// instead of carrying their action inline.
func (k TableKind) Indirect() bool {
	return k == KindMatchIndirect || k == KindMatchIndirectSelector
}

// MatchType is the match kind of a key field.
type MatchType uint8

const (
	MatchExact MatchType = iota
	MatchTernary
	MatchRange
	MatchLPM
)

func (m MatchType) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchTernary:
		return "ternary"
	case MatchRange:
		return "range"
	case MatchLPM:
		return "lpm"
	default:
		return fmt.Sprintf("MatchType(%d)", m)
	}
}

// Destination tags a data field with the part of the hardware state it
// programs.
type Destination uint8

const (
	DestValue Destination = iota
	DestCounter
	DestMeter
	DestRegister
	DestMemberID
	DestGroupID
	DestTTL
	DestHitState
	// DestIndirectIndex is an action parameter that indexes an indirect
	// counter, meter or register.
	DestIndirectIndex
)

func (d Destination) String() string {
	switch d {
	case DestValue:
		return "value"
	case DestCounter:
		return "counter"
	case DestMeter:
		return "meter"
	case DestRegister:
		return "register"
	case DestMemberID:
		return "member-id"
	case DestGroupID:
		return "group-id"
	case DestTTL:
		return "ttl"
	case DestHitState:
		return "hit-state"
	case DestIndirectIndex:
		return "indirect-index"
	default:
		return fmt.Sprintf("Destination(%d)", d)
	}
}

// DirectResource reports whether the destination programs a direct
// resource bound to the entry.
func (d Destination) DirectResource() bool {
	return d == DestCounter || d == DestMeter || d == DestRegister
}

// ResourceKind is the kind of a stateful resource.
type ResourceKind uint8

const (
	ResourceCounter ResourceKind = iota
	ResourceMeter
	ResourceRegister
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceCounter:
		return "counter"
	case ResourceMeter:
		return "meter"
	case ResourceRegister:
		return "register"
	default:
		return fmt.Sprintf("ResourceKind(%d)", k)
	}
}

// Resource field components.
const (
	ComponentBytes   = "bytes"
	ComponentPackets = "packets"
	ComponentCIR     = "cir"
	ComponentPIR     = "pir"
	ComponentCBS     = "cbs"
	ComponentPBS     = "pbs"
	ComponentValue   = "value"
)

// Well-known common field names.
const (
	FieldMatchPriority = "$MATCH_PRIORITY"
	FieldMemberID      = "$ACTION_MEMBER_ID"
	FieldGroupID       = "$SELECTOR_GROUP_ID"
	FieldEntryTTL      = "$ENTRY_TTL"
	FieldEntryHitState = "$ENTRY_HIT_STATE"
)

// KeyField describes one field of a table key. Width is in bits.
type KeyField struct {
	ID    FieldID
	Name  string
	Width uint16
	Match MatchType
}

// DataField describes one data field. Resource and Component are set
// for fields that program a resource; Component names the part of the
// resource value the field carries.
type DataField struct {
	ID        FieldID
	Name      string
	Width     uint16
	Dest      Destination
	Resource  ResourceID
	Component string
}

// ResourceDecl declares a counter, meter or register used by a table.
// Direct resources have one instance per entry; indirect ones are
// indexed from action data.
type ResourceDecl struct {
	ID     ResourceID
	Name   string
	Kind   ResourceKind
	Direct bool
	Size   uint32
}

// ActionSchema describes one action. Resources lists every resource the
// action uses, direct and indirect.
type ActionSchema struct {
	ID          ActionID
	Name        string
	Params      []DataField
	Resources   []ResourceID
	DefaultOnly bool
	TableOnly   bool
}

// DefaultAction is the action installed when the default entry is reset.
type DefaultAction struct {
	Action ActionID
	Params map[FieldID][]byte
	Const  bool
}

// TableSchema is the immutable description of a match table.
type TableSchema struct {
	ID        TableID
	Name      string
	Kind      TableKind
	Size      uint32
	Key       []KeyField
	Actions   []ActionSchema
	Common    []DataField
	Resources []ResourceDecl
	Profile   ProfileID
	Selector  ProfileID
	Immutable bool
	Default   DefaultAction
	Idle      bool
}

// ProfileSchema describes an action profile, optionally with a selector.
type ProfileSchema struct {
	ID           ProfileID
	Name         string
	Size         uint32
	Selector     bool
	MaxGroupSize uint32
	Actions      []ActionSchema
	Resources    []ResourceDecl
}

// Program is the set of tables and profiles loaded for one device.
type Program struct {
	Name     string
	Tables   []*TableSchema
	Profiles []*ProfileSchema
}

// Table returns the table schema with the given name.
func (p *Program) Table(name string) (*TableSchema, bool) {
	for _, t := range p.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Profile returns the profile schema with the given id.
func (p *Program) Profile(id ProfileID) (*ProfileSchema, bool) {
	for _, ps := range p.Profiles {
		if ps.ID == id {
			return ps, true
		}
	}
	return nil, false
}

// Action returns the action schema with the given id.
func (t *TableSchema) Action(id ActionID) (*ActionSchema, bool) {
	for i := range t.Actions {
		if t.Actions[i].ID == id {
			return &t.Actions[i], true
		}
	}
	return nil, false
}

// ActionByName returns the action schema with the given name.
func (t *TableSchema) ActionByName(name string) (*ActionSchema, bool) {
	for i := range t.Actions {
		if t.Actions[i].Name == name {
			return &t.Actions[i], true
		}
	}
	return nil, false
}

// KeyField returns the key field with the given id.
func (t *TableSchema) KeyField(id FieldID) (KeyField, bool) {
	for _, kf := range t.Key {
		if kf.ID == id {
			return kf, true
		}
	}
	return KeyField{}, false
}

// KeyFieldByName returns the key field with the given name.
func (t *TableSchema) KeyFieldByName(name string) (KeyField, bool) {
	for _, kf := range t.Key {
		if kf.Name == name {
			return kf, true
		}
	}
	return KeyField{}, false
}

// Resource returns the resource declaration with the given id.
func (t *TableSchema) Resource(id ResourceID) (ResourceDecl, bool) {
	for _, r := range t.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return ResourceDecl{}, false
}

// NeedsPriority reports whether keys of this table carry a match
// priority. Overlapping match kinds require one.
func (t *TableSchema) NeedsPriority() bool {
	for _, kf := range t.Key {
		if kf.Match == MatchTernary || kf.Match == MatchRange {
			return true
		}
	}
	return false
}

// usesResource reports whether the action declares the resource.
func (a *ActionSchema) usesResource(id ResourceID) bool {
	for _, r := range a.Resources {
		if r == id {
			return true
		}
	}
	return false
}

// DataFields returns the ordered data fields valid for the action:
// action parameters first, then the applicable common fields. Action 0
// selects only common fields and is how indirect tables address data.
func (t *TableSchema) DataFields(id ActionID) ([]DataField, error) {
	var act *ActionSchema
	if id != 0 {
		a, ok := t.Action(id)
		if !ok {
			return nil, invalidf("table %s: unknown action %d", t.Name, id)
		}
		act = a
	}

	var fields []DataField
	if act != nil {
		fields = append(fields, act.Params...)
	}
	for _, f := range t.Common {
		if t.commonApplies(act, f) {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// DataField returns the data field with the given id if it is valid for
// the action.
func (t *TableSchema) DataField(id ActionID, fid FieldID) (DataField, bool) {
	fields, err := t.DataFields(id)
	if err != nil {
		return DataField{}, false
	}
	for _, f := range fields {
		if f.ID == fid {
			return f, true
		}
	}
	return DataField{}, false
}

// DataFieldByName returns the data field with the given name if it is
// valid for the action.
func (t *TableSchema) DataFieldByName(id ActionID, name string) (DataField, bool) {
	fields, err := t.DataFields(id)
	if err != nil {
		return DataField{}, false
	}
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return DataField{}, false
}

func (t *TableSchema) commonApplies(act *ActionSchema, f DataField) bool {
	switch f.Dest {
	case DestCounter, DestMeter, DestRegister:
		if t.Kind.Indirect() || act == nil {
			return true
		}
		return act.usesResource(f.Resource)
	case DestMemberID:
		return t.Kind.Indirect() && act == nil
	case DestGroupID:
		return t.Kind == KindMatchIndirectSelector && act == nil
	case DestTTL, DestHitState:
		return t.Idle
	default:
		return true
	}
}

// Validate checks the schema for internal consistency.
func (t *TableSchema) Validate() error {
	if t.Name == "" {
		return invalidf("table %d: empty name", t.ID)
	}
	seen := make(map[FieldID]bool)
	for _, kf := range t.Key {
		if kf.Width == 0 {
			return invalidf("table %s: key field %s has zero width", t.Name, kf.Name)
		}
		if seen[kf.ID] {
			return invalidf("table %s: duplicate key field id %d", t.Name, kf.ID)
		}
		seen[kf.ID] = true
	}
	resources := make(map[ResourceID]bool)
	for _, r := range t.Resources {
		resources[r.ID] = true
	}
	actions := make(map[ActionID]bool)
	for _, a := range t.Actions {
		if a.ID == 0 {
			return invalidf("table %s: action %s uses reserved id 0", t.Name, a.Name)
		}
		if actions[a.ID] {
			return invalidf("table %s: duplicate action id %d", t.Name, a.ID)
		}
		actions[a.ID] = true
		for _, r := range a.Resources {
			if !resources[r] {
				return invalidf("table %s: action %s references unknown resource %d", t.Name, a.Name, r)
			}
		}
	}
	for _, f := range t.Common {
		if f.Dest.DirectResource() && !resources[f.Resource] {
			return invalidf("table %s: field %s references unknown resource %d", t.Name, f.Name, f.Resource)
		}
	}
	if t.Default.Action != 0 && !actions[t.Default.Action] {
		return invalidf("table %s: default action %d not declared", t.Name, t.Default.Action)
	}
	return nil
}
