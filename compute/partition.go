package compute

import (
	"github.com/frobware/go-bfrt"
)

// Partition groups record fields by the hardware call that programs
// them.
type Partition struct {
	// Action fields replace the action spec: parameters, indirect
	// indexes and member or group references.
	Action []bfrt.DataField
	// Resources are direct meter and register fields.
	Resources []bfrt.DataField
	// Counter fields set the direct counter.
	Counter []bfrt.DataField
	// Idle fields are the entry TTL and hit state.
	Idle []bfrt.DataField
}

// Empty reports whether no category has fields.
func (p Partition) Empty() bool {
	return len(p.Action) == 0 && len(p.Resources) == 0 && len(p.Counter) == 0 && len(p.Idle) == 0
}

// PartitionFields splits fields by destination.
// Pure function.
func PartitionFields(fields []bfrt.DataField) Partition {
	var p Partition
	for _, f := range fields {
		switch f.Dest {
		case bfrt.DestValue, bfrt.DestIndirectIndex, bfrt.DestMemberID, bfrt.DestGroupID:
			p.Action = append(p.Action, f)
		case bfrt.DestMeter, bfrt.DestRegister:
			p.Resources = append(p.Resources, f)
		case bfrt.DestCounter:
			p.Counter = append(p.Counter, f)
		case bfrt.DestTTL, bfrt.DestHitState:
			p.Idle = append(p.Idle, f)
		}
	}
	return p
}

// FetchMaskFor returns the resource categories a read must fetch to
// serve the record: every category for an all-fields record, otherwise
// only those with an active field.
// Pure function.
func FetchMaskFor(d *bfrt.Data) bfrt.FetchMask {
	if d.AllFields() {
		return bfrt.FetchAll
	}
	var m bfrt.FetchMask
	for _, f := range d.Fields() {
		switch f.Dest {
		case bfrt.DestCounter:
			m |= bfrt.FetchCounter
		case bfrt.DestMeter:
			m |= bfrt.FetchMeter
		case bfrt.DestRegister:
			m |= bfrt.FetchRegister
		case bfrt.DestTTL, bfrt.DestHitState:
			m |= bfrt.FetchIdle
		}
	}
	return m
}

// FetchFor reports whether a read with mask m fetched the category the
// field belongs to.
// Pure function.
func FetchFor(m bfrt.FetchMask, f bfrt.DataField) bool {
	switch f.Dest {
	case bfrt.DestCounter:
		return m.Has(bfrt.FetchCounter)
	case bfrt.DestMeter:
		return m.Has(bfrt.FetchMeter)
	case bfrt.DestRegister:
		return m.Has(bfrt.FetchRegister)
	case bfrt.DestTTL, bfrt.DestHitState:
		return m.Has(bfrt.FetchIdle)
	default:
		return true
	}
}
