// Package p4info builds table schemas from a P4Runtime P4Info.
//
// Objects are named by their P4Info alias when one is set, so the CLI
// can address "fwd" instead of "Ingress.fwd". Direct counters and
// meters become common data fields of the table they attach to. An
// action parameter annotated @indirect("name") indexes the named
// counter, meter or register.
package p4info

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/frobware/go-bfrt"
)

// Common data fields are numbered above every P4Info parameter id.
const (
	FieldCounterBytes bfrt.FieldID = 0x10000 + iota + 1
	FieldCounterPackets
	FieldMeterCIR
	FieldMeterPIR
	FieldMeterCBS
	FieldMeterPBS
	FieldEntryTTL
	FieldEntryHitState
	FieldMemberID
	FieldGroupID
)

// NoAction is the action P4 compilers add to every table.
const NoAction = "NoAction"

const indirectAnnotation = "@indirect("

// Load reads a P4Info file in text or binary form and builds the
// program it describes.
func Load(path string) (*bfrt.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read p4info: %w", err)
	}
	info, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Program(info)
}

// Decode parses a P4Info. Text format is tried first; input that is not
// valid text is decoded as the binary wire format.
func Decode(data []byte) (*configv1.P4Info, error) {
	info := &configv1.P4Info{}
	textErr := errors.New("not UTF-8")
	if utf8.Valid(data) {
		if textErr = prototext.Unmarshal(data, info); textErr == nil {
			return info, nil
		}
	}
	info.Reset()
	if err := proto.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("decode p4info: text: %v; binary: %w", textErr, err)
	}
	return info, nil
}

func name(p *configv1.Preamble) string {
	if p.GetAlias() != "" {
		return p.GetAlias()
	}
	return p.GetName()
}

// builder holds the P4Info indexed by id.
type builder struct {
	info           *configv1.P4Info
	actions        map[uint32]*configv1.Action
	profiles       map[uint32]*configv1.ActionProfile
	directCounters map[uint32]*configv1.DirectCounter
	directMeters   map[uint32]*configv1.DirectMeter
	indirect       map[string]bfrt.ResourceDecl
}

func newBuilder(info *configv1.P4Info) *builder {
	b := &builder{
		info:           info,
		actions:        make(map[uint32]*configv1.Action),
		profiles:       make(map[uint32]*configv1.ActionProfile),
		directCounters: make(map[uint32]*configv1.DirectCounter),
		directMeters:   make(map[uint32]*configv1.DirectMeter),
		indirect:       make(map[string]bfrt.ResourceDecl),
	}
	for _, a := range info.GetActions() {
		b.actions[a.GetPreamble().GetId()] = a
	}
	for _, p := range info.GetActionProfiles() {
		b.profiles[p.GetPreamble().GetId()] = p
	}
	for _, c := range info.GetDirectCounters() {
		b.directCounters[c.GetPreamble().GetId()] = c
	}
	for _, m := range info.GetDirectMeters() {
		b.directMeters[m.GetPreamble().GetId()] = m
	}
	for _, c := range info.GetCounters() {
		b.addIndirect(c.GetPreamble(), bfrt.ResourceCounter, uint32(c.GetSize()))
	}
	for _, m := range info.GetMeters() {
		b.addIndirect(m.GetPreamble(), bfrt.ResourceMeter, uint32(m.GetSize()))
	}
	for _, r := range info.GetRegisters() {
		b.addIndirect(r.GetPreamble(), bfrt.ResourceRegister, uint32(r.GetSize()))
	}
	return b
}

func (b *builder) addIndirect(p *configv1.Preamble, kind bfrt.ResourceKind, size uint32) {
	decl := bfrt.ResourceDecl{
		ID:   bfrt.ResourceID(p.GetId()),
		Name: name(p),
		Kind: kind,
		Size: size,
	}
	b.indirect[p.GetName()] = decl
	if p.GetAlias() != "" {
		b.indirect[p.GetAlias()] = decl
	}
}

// Program builds the tables and action profiles of info.
func Program(info *configv1.P4Info) (*bfrt.Program, error) {
	b := newBuilder(info)
	prog := &bfrt.Program{Name: info.GetPkgInfo().GetName()}

	profileActions := make(map[uint32][]bfrt.ActionSchema)
	for _, t := range info.GetTables() {
		ts, err := b.table(t)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.GetPreamble().GetName(), err)
		}
		if ts.Kind.Indirect() {
			actions, err := b.tableActions(t, nil)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", t.GetPreamble().GetName(), err)
			}
			id := t.GetImplementationId()
			for _, a := range actions {
				if !slices.ContainsFunc(profileActions[id], func(x bfrt.ActionSchema) bool { return x.ID == a.ID }) {
					profileActions[id] = append(profileActions[id], a)
				}
			}
		}
		if err := ts.Validate(); err != nil {
			return nil, err
		}
		prog.Tables = append(prog.Tables, ts)
	}

	for _, p := range info.GetActionProfiles() {
		id := p.GetPreamble().GetId()
		ps := &bfrt.ProfileSchema{
			ID:       bfrt.ProfileID(id),
			Name:     name(p.GetPreamble()),
			Size:     uint32(p.GetSize()),
			Selector: p.GetWithSelector(),
			Actions:  profileActions[id],
		}
		if ps.Selector {
			ps.MaxGroupSize = uint32(p.GetMaxGroupSize())
		}
		ps.Resources = indirectResources(ps.Actions, b)
		prog.Profiles = append(prog.Profiles, ps)
	}
	return prog, nil
}

func (b *builder) table(t *configv1.Table) (*bfrt.TableSchema, error) {
	ts := &bfrt.TableSchema{
		ID:        bfrt.TableID(t.GetPreamble().GetId()),
		Name:      name(t.GetPreamble()),
		Kind:      bfrt.KindMatchDirect,
		Size:      uint32(t.GetSize()),
		Immutable: t.GetIsConstTable(),
		Idle:      t.GetIdleTimeoutBehavior() == configv1.Table_NOTIFY_CONTROL,
	}

	for _, mf := range t.GetMatchFields() {
		kf, err := keyField(mf)
		if err != nil {
			return nil, err
		}
		ts.Key = append(ts.Key, kf)
	}

	if impl := t.GetImplementationId(); impl != 0 {
		p, ok := b.profiles[impl]
		if !ok {
			return nil, fmt.Errorf("%w: implementation %d is not an action profile", bfrt.ErrNotSupported, impl)
		}
		ts.Kind = bfrt.KindMatchIndirect
		ts.Profile = bfrt.ProfileID(impl)
		ts.Common = append(ts.Common, bfrt.DataField{ID: FieldMemberID, Name: bfrt.FieldMemberID, Width: 32, Dest: bfrt.DestMemberID})
		if p.GetWithSelector() {
			ts.Kind = bfrt.KindMatchIndirectSelector
			ts.Selector = bfrt.ProfileID(impl)
			ts.Common = append(ts.Common, bfrt.DataField{ID: FieldGroupID, Name: bfrt.FieldGroupID, Width: 32, Dest: bfrt.DestGroupID})
		}
	}

	var direct []bfrt.ResourceID
	for _, id := range t.GetDirectResourceIds() {
		decl, fields, err := b.directResource(id)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if slices.ContainsFunc(ts.Common, func(x bfrt.DataField) bool { return x.ID == f.ID }) {
				return nil, fmt.Errorf("%w: more than one direct %s", bfrt.ErrNotSupported, decl.Kind)
			}
		}
		ts.Resources = append(ts.Resources, decl)
		ts.Common = append(ts.Common, fields...)
		direct = append(direct, decl.ID)
	}

	if ts.Idle {
		ts.Common = append(ts.Common,
			bfrt.DataField{ID: FieldEntryTTL, Name: bfrt.FieldEntryTTL, Width: 32, Dest: bfrt.DestTTL},
			bfrt.DataField{ID: FieldEntryHitState, Name: bfrt.FieldEntryHitState, Width: 1, Dest: bfrt.DestHitState},
		)
	}

	if ts.Kind.Indirect() {
		return ts, nil
	}

	actions, err := b.tableActions(t, direct)
	if err != nil {
		return nil, err
	}
	ts.Actions = actions
	ts.Resources = append(ts.Resources, indirectResources(actions, b)...)

	if id := t.GetConstDefaultActionId(); id != 0 {
		ts.Default = bfrt.DefaultAction{Action: bfrt.ActionID(id), Const: true}
	} else if a, ok := ts.ActionByName(NoAction); ok && !a.TableOnly {
		ts.Default = bfrt.DefaultAction{Action: a.ID}
	}
	return ts, nil
}

func keyField(mf *configv1.MatchField) (bfrt.KeyField, error) {
	kf := bfrt.KeyField{
		ID:    bfrt.FieldID(mf.GetId()),
		Name:  mf.GetName(),
		Width: uint16(mf.GetBitwidth()),
	}
	switch mf.GetMatchType() {
	case configv1.MatchField_EXACT:
		kf.Match = bfrt.MatchExact
	case configv1.MatchField_TERNARY, configv1.MatchField_OPTIONAL:
		kf.Match = bfrt.MatchTernary
	case configv1.MatchField_RANGE:
		kf.Match = bfrt.MatchRange
	case configv1.MatchField_LPM:
		kf.Match = bfrt.MatchLPM
	default:
		return bfrt.KeyField{}, fmt.Errorf("%w: match field %s has match type %s", bfrt.ErrNotSupported, mf.GetName(), mf.GetMatchType())
	}
	return kf, nil
}

func (b *builder) directResource(id uint32) (bfrt.ResourceDecl, []bfrt.DataField, error) {
	rid := bfrt.ResourceID(id)
	if c, ok := b.directCounters[id]; ok {
		decl := bfrt.ResourceDecl{ID: rid, Name: name(c.GetPreamble()), Kind: bfrt.ResourceCounter, Direct: true}
		bytes := bfrt.DataField{ID: FieldCounterBytes, Name: "$COUNTER_SPEC_BYTES", Width: 64, Dest: bfrt.DestCounter, Resource: rid, Component: bfrt.ComponentBytes}
		pkts := bfrt.DataField{ID: FieldCounterPackets, Name: "$COUNTER_SPEC_PKTS", Width: 64, Dest: bfrt.DestCounter, Resource: rid, Component: bfrt.ComponentPackets}
		switch c.GetSpec().GetUnit() {
		case configv1.CounterSpec_BYTES:
			return decl, []bfrt.DataField{bytes}, nil
		case configv1.CounterSpec_PACKETS:
			return decl, []bfrt.DataField{pkts}, nil
		default:
			return decl, []bfrt.DataField{bytes, pkts}, nil
		}
	}
	if m, ok := b.directMeters[id]; ok {
		decl := bfrt.ResourceDecl{ID: rid, Name: name(m.GetPreamble()), Kind: bfrt.ResourceMeter, Direct: true}
		meter := func(fid bfrt.FieldID, field, component string) bfrt.DataField {
			return bfrt.DataField{ID: fid, Name: field, Width: 64, Dest: bfrt.DestMeter, Resource: rid, Component: component}
		}
		return decl, []bfrt.DataField{
			meter(FieldMeterCIR, "$METER_SPEC_CIR_KBPS", bfrt.ComponentCIR),
			meter(FieldMeterPIR, "$METER_SPEC_PIR_KBPS", bfrt.ComponentPIR),
			meter(FieldMeterCBS, "$METER_SPEC_CBS_KBITS", bfrt.ComponentCBS),
			meter(FieldMeterPBS, "$METER_SPEC_PBS_KBITS", bfrt.ComponentPBS),
		}, nil
	}
	return bfrt.ResourceDecl{}, nil, fmt.Errorf("%w: direct resource %d is neither a direct counter nor a direct meter", bfrt.ErrNotSupported, id)
}

// tableActions returns the actions a table references. Every action
// uses the table's direct resources.
func (b *builder) tableActions(t *configv1.Table, direct []bfrt.ResourceID) ([]bfrt.ActionSchema, error) {
	var out []bfrt.ActionSchema
	for _, ref := range t.GetActionRefs() {
		a, ok := b.actions[ref.GetId()]
		if !ok {
			return nil, fmt.Errorf("%w: unknown action %d", bfrt.ErrInvalidArgument, ref.GetId())
		}
		as := bfrt.ActionSchema{
			ID:          bfrt.ActionID(ref.GetId()),
			Name:        name(a.GetPreamble()),
			Resources:   slices.Clone(direct),
			TableOnly:   ref.GetScope() == configv1.ActionRef_TABLE_ONLY,
			DefaultOnly: ref.GetScope() == configv1.ActionRef_DEFAULT_ONLY,
		}
		for _, p := range a.GetParams() {
			f := bfrt.DataField{
				ID:    bfrt.FieldID(p.GetId()),
				Name:  p.GetName(),
				Width: uint16(p.GetBitwidth()),
				Dest:  bfrt.DestValue,
			}
			if target, ok := indirectTarget(p.GetAnnotations()); ok {
				decl, found := b.indirect[target]
				if !found {
					return nil, fmt.Errorf("%w: action %s: parameter %s indexes unknown resource %q", bfrt.ErrInvalidArgument, as.Name, p.GetName(), target)
				}
				f.Dest = bfrt.DestIndirectIndex
				f.Resource = decl.ID
				as.Resources = append(as.Resources, decl.ID)
			}
			as.Params = append(as.Params, f)
		}
		out = append(out, as)
	}
	return out, nil
}

// indirectTarget extracts the resource named by @indirect("name").
func indirectTarget(annotations []string) (string, bool) {
	for _, a := range annotations {
		rest, ok := strings.CutPrefix(a, indirectAnnotation)
		if !ok {
			continue
		}
		rest, ok = strings.CutSuffix(rest, ")")
		if !ok {
			continue
		}
		return strings.Trim(rest, `"`), true
	}
	return "", false
}

// indirectResources returns the declarations of the indirect resources
// the actions index, once each.
func indirectResources(actions []bfrt.ActionSchema, b *builder) []bfrt.ResourceDecl {
	var out []bfrt.ResourceDecl
	for _, a := range actions {
		for _, p := range a.Params {
			if p.Dest != bfrt.DestIndirectIndex {
				continue
			}
			if slices.ContainsFunc(out, func(d bfrt.ResourceDecl) bool { return d.ID == p.Resource }) {
				continue
			}
			for _, decl := range b.indirect {
				if decl.ID == p.Resource {
					out = append(out, decl)
					break
				}
			}
		}
	}
	return out
}
