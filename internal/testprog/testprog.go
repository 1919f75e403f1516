// Package testprog provides a small program with one table of every
// kind for tests.
package testprog

import (
	"github.com/frobware/go-bfrt"
)

// Table identifiers of the test program.
const (
	FwdTable   bfrt.TableID = 1
	AclTable   bfrt.TableID = 2
	EcmpTable  bfrt.TableID = 3
	NhTable    bfrt.TableID = 4
	ConstTable bfrt.TableID = 5
	StatsTable bfrt.TableID = 6
)

// fwd: exact dst -> set_port(port) | set_port_metered(port) | drop.
const (
	FwdKeyDst       bfrt.FieldID  = 1
	FwdSetPort      bfrt.ActionID = 1
	FwdSetPortMeter bfrt.ActionID = 2
	FwdDrop         bfrt.ActionID = 3
	FwdDefaultOnly  bfrt.ActionID = 4
	FwdParamPort    bfrt.FieldID  = 1

	FwdCounter  bfrt.ResourceID = 1
	FwdMeter    bfrt.ResourceID = 2
	FwdRegister bfrt.ResourceID = 3
)

// Common data field ids shared by every table.
const (
	FieldBytes    bfrt.FieldID = 101
	FieldPackets  bfrt.FieldID = 102
	FieldCIR      bfrt.FieldID = 103
	FieldPIR      bfrt.FieldID = 104
	FieldCBS      bfrt.FieldID = 105
	FieldPBS      bfrt.FieldID = 106
	FieldRegister bfrt.FieldID = 107
	FieldTTL      bfrt.FieldID = 110
	FieldHitState bfrt.FieldID = 111
	FieldMemberID bfrt.FieldID = 120
	FieldGroupID  bfrt.FieldID = 121
)

// acl: ternary src, range sport -> permit | deny(code).
const (
	AclKeySrc    bfrt.FieldID  = 1
	AclKeySport  bfrt.FieldID  = 2
	AclPermit    bfrt.ActionID = 1
	AclDeny      bfrt.ActionID = 2
	AclParamCode bfrt.FieldID  = 1
)

// ecmp: lpm dst -> member or group of EcmpProfile. nh: exact vrf ->
// member of NhProfile. const: immutable with a const default. stats:
// exact flow -> count(idx) indexing an indirect counter.
const (
	EcmpKeyDst  bfrt.FieldID    = 1
	EcmpCounter bfrt.ResourceID = 1

	NhKeyVrf bfrt.FieldID = 1

	ConstKeyPort bfrt.FieldID  = 1
	ConstNoop    bfrt.ActionID = 1

	StatsKeyFlow     bfrt.FieldID    = 1
	StatsCount       bfrt.ActionID   = 1
	StatsParamIndex  bfrt.FieldID    = 1
	StatsFlowCounter bfrt.ResourceID = 30
)

// Action profiles.
const (
	EcmpProfile    bfrt.ProfileID  = 10
	NhProfile      bfrt.ProfileID  = 11
	ProfSetNh      bfrt.ActionID   = 1
	ProfSetNhCount bfrt.ActionID   = 2
	ProfParamNh    bfrt.FieldID    = 1
	ProfParamIndex bfrt.FieldID    = 2
	ProfNhCounter  bfrt.ResourceID = 40
)

func counterFields(res bfrt.ResourceID) []bfrt.DataField {
	return []bfrt.DataField{
		{ID: FieldBytes, Name: "$COUNTER_SPEC_BYTES", Width: 64, Dest: bfrt.DestCounter, Resource: res, Component: bfrt.ComponentBytes},
		{ID: FieldPackets, Name: "$COUNTER_SPEC_PKTS", Width: 64, Dest: bfrt.DestCounter, Resource: res, Component: bfrt.ComponentPackets},
	}
}

func idleFields() []bfrt.DataField {
	return []bfrt.DataField{
		{ID: FieldTTL, Name: bfrt.FieldEntryTTL, Width: 32, Dest: bfrt.DestTTL},
		{ID: FieldHitState, Name: bfrt.FieldEntryHitState, Width: 1, Dest: bfrt.DestHitState},
	}
}

// Fwd returns a direct exact-match table with a direct counter, meter
// and register, and aging support.
func Fwd() *bfrt.TableSchema {
	port := bfrt.DataField{ID: FwdParamPort, Name: "port", Width: 9, Dest: bfrt.DestValue}
	common := counterFields(FwdCounter)
	common = append(common,
		bfrt.DataField{ID: FieldCIR, Name: "$METER_SPEC_CIR_KBPS", Width: 64, Dest: bfrt.DestMeter, Resource: FwdMeter, Component: bfrt.ComponentCIR},
		bfrt.DataField{ID: FieldPIR, Name: "$METER_SPEC_PIR_KBPS", Width: 64, Dest: bfrt.DestMeter, Resource: FwdMeter, Component: bfrt.ComponentPIR},
		bfrt.DataField{ID: FieldCBS, Name: "$METER_SPEC_CBS_KBITS", Width: 64, Dest: bfrt.DestMeter, Resource: FwdMeter, Component: bfrt.ComponentCBS},
		bfrt.DataField{ID: FieldPBS, Name: "$METER_SPEC_PBS_KBITS", Width: 64, Dest: bfrt.DestMeter, Resource: FwdMeter, Component: bfrt.ComponentPBS},
		bfrt.DataField{ID: FieldRegister, Name: "fwd_reg.f1", Width: 32, Dest: bfrt.DestRegister, Resource: FwdRegister, Component: bfrt.ComponentValue},
	)
	common = append(common, idleFields()...)
	return &bfrt.TableSchema{
		ID:   FwdTable,
		Name: "fwd",
		Kind: bfrt.KindMatchDirect,
		Size: 1024,
		Key: []bfrt.KeyField{
			{ID: FwdKeyDst, Name: "dst", Width: 32, Match: bfrt.MatchExact},
		},
		Actions: []bfrt.ActionSchema{
			{ID: FwdSetPort, Name: "set_port", Params: []bfrt.DataField{port}, Resources: []bfrt.ResourceID{FwdCounter, FwdRegister}},
			{ID: FwdSetPortMeter, Name: "set_port_metered", Params: []bfrt.DataField{port}, Resources: []bfrt.ResourceID{FwdCounter, FwdMeter, FwdRegister}},
			{ID: FwdDrop, Name: "drop", Resources: []bfrt.ResourceID{FwdCounter}},
			{ID: FwdDefaultOnly, Name: "punt", DefaultOnly: true},
		},
		Common: common,
		Resources: []bfrt.ResourceDecl{
			{ID: FwdCounter, Name: "fwd_counter", Kind: bfrt.ResourceCounter, Direct: true},
			{ID: FwdMeter, Name: "fwd_meter", Kind: bfrt.ResourceMeter, Direct: true},
			{ID: FwdRegister, Name: "fwd_reg", Kind: bfrt.ResourceRegister, Direct: true},
		},
		Default: bfrt.DefaultAction{Action: FwdDrop},
		Idle:    true,
	}
}

// Acl returns a ternary and range table that needs a match priority.
func Acl() *bfrt.TableSchema {
	return &bfrt.TableSchema{
		ID:   AclTable,
		Name: "acl",
		Kind: bfrt.KindMatchDirect,
		Size: 256,
		Key: []bfrt.KeyField{
			{ID: AclKeySrc, Name: "src", Width: 32, Match: bfrt.MatchTernary},
			{ID: AclKeySport, Name: "sport", Width: 16, Match: bfrt.MatchRange},
		},
		Actions: []bfrt.ActionSchema{
			{ID: AclPermit, Name: "permit"},
			{ID: AclDeny, Name: "deny", Params: []bfrt.DataField{{ID: AclParamCode, Name: "code", Width: 8, Dest: bfrt.DestValue}}, TableOnly: true},
		},
		Default: bfrt.DefaultAction{Action: AclPermit},
	}
}

// Ecmp returns a selector table with a direct counter.
func Ecmp() *bfrt.TableSchema {
	common := []bfrt.DataField{
		{ID: FieldMemberID, Name: bfrt.FieldMemberID, Width: 32, Dest: bfrt.DestMemberID},
		{ID: FieldGroupID, Name: bfrt.FieldGroupID, Width: 32, Dest: bfrt.DestGroupID},
	}
	common = append(common, counterFields(EcmpCounter)...)
	return &bfrt.TableSchema{
		ID:   EcmpTable,
		Name: "ecmp",
		Kind: bfrt.KindMatchIndirectSelector,
		Size: 512,
		Key: []bfrt.KeyField{
			{ID: EcmpKeyDst, Name: "dst", Width: 32, Match: bfrt.MatchLPM},
		},
		Common: common,
		Resources: []bfrt.ResourceDecl{
			{ID: EcmpCounter, Name: "ecmp_counter", Kind: bfrt.ResourceCounter, Direct: true},
		},
		Profile:  EcmpProfile,
		Selector: EcmpProfile,
	}
}

// Nh returns a member-only indirect table.
func Nh() *bfrt.TableSchema {
	return &bfrt.TableSchema{
		ID:   NhTable,
		Name: "nh",
		Kind: bfrt.KindMatchIndirect,
		Size: 128,
		Key: []bfrt.KeyField{
			{ID: NhKeyVrf, Name: "vrf", Width: 16, Match: bfrt.MatchExact},
		},
		Common: []bfrt.DataField{
			{ID: FieldMemberID, Name: bfrt.FieldMemberID, Width: 32, Dest: bfrt.DestMemberID},
		},
		Profile: NhProfile,
	}
}

// Const returns an immutable table with a const default action.
func Const() *bfrt.TableSchema {
	return &bfrt.TableSchema{
		ID:   ConstTable,
		Name: "const",
		Kind: bfrt.KindMatchDirect,
		Size: 16,
		Key: []bfrt.KeyField{
			{ID: ConstKeyPort, Name: "port", Width: 9, Match: bfrt.MatchExact},
		},
		Actions: []bfrt.ActionSchema{
			{ID: ConstNoop, Name: "noop"},
		},
		Immutable: true,
		Default:   bfrt.DefaultAction{Action: ConstNoop, Const: true},
	}
}

// Stats returns a direct table whose action indexes an indirect counter.
func Stats() *bfrt.TableSchema {
	return &bfrt.TableSchema{
		ID:   StatsTable,
		Name: "stats",
		Kind: bfrt.KindMatchDirect,
		Size: 64,
		Key: []bfrt.KeyField{
			{ID: StatsKeyFlow, Name: "flow", Width: 16, Match: bfrt.MatchExact},
		},
		Actions: []bfrt.ActionSchema{
			{
				ID:   StatsCount,
				Name: "count",
				Params: []bfrt.DataField{
					{ID: StatsParamIndex, Name: "idx", Width: 16, Dest: bfrt.DestIndirectIndex, Resource: StatsFlowCounter},
				},
				Resources: []bfrt.ResourceID{StatsFlowCounter},
			},
		},
		Resources: []bfrt.ResourceDecl{
			{ID: StatsFlowCounter, Name: "flow_counter", Kind: bfrt.ResourceCounter, Size: 1024},
		},
	}
}

func profileActions() []bfrt.ActionSchema {
	nh := bfrt.DataField{ID: ProfParamNh, Name: "nh", Width: 16, Dest: bfrt.DestValue}
	return []bfrt.ActionSchema{
		{ID: ProfSetNh, Name: "set_nh", Params: []bfrt.DataField{nh}},
		{
			ID:   ProfSetNhCount,
			Name: "set_nh_counted",
			Params: []bfrt.DataField{
				nh,
				{ID: ProfParamIndex, Name: "idx", Width: 16, Dest: bfrt.DestIndirectIndex, Resource: ProfNhCounter},
			},
			Resources: []bfrt.ResourceID{ProfNhCounter},
		},
	}
}

func profileResources() []bfrt.ResourceDecl {
	return []bfrt.ResourceDecl{
		{ID: ProfNhCounter, Name: "nh_counter", Kind: bfrt.ResourceCounter, Size: 256},
	}
}

// Program returns the test program.
func Program() *bfrt.Program {
	return &bfrt.Program{
		Name:   "testprog",
		Tables: []*bfrt.TableSchema{Fwd(), Acl(), Ecmp(), Nh(), Const(), Stats()},
		Profiles: []*bfrt.ProfileSchema{
			{ID: EcmpProfile, Name: "ecmp_profile", Size: 256, Selector: true, MaxGroupSize: 8, Actions: profileActions(), Resources: profileResources()},
			{ID: NhProfile, Name: "nh_profile", Size: 64, Actions: profileActions(), Resources: profileResources()},
		},
	}
}
