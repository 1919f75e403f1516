package compute

import (
	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/action"
	"github.com/frobware/go-bfrt/directory"
)

// ModifyInput is everything a modify of one entry programs.
type ModifyInput struct {
	Table     bfrt.TableID
	Target    bfrt.Target
	Handle    bfrt.EntryHandle
	AllFields bool
	Partition Partition
	// Spec is the reconciled action spec. It is only read when the
	// modify replaces the action.
	Spec *bfrt.ActionSpec
	// Resources are the meter and register attachments of
	// Partition.Resources.
	Resources []bfrt.ResourceSpec
	Counter   bfrt.CounterValue
	Idle      uint32
	Flags     bfrt.Flags
}

// ReplacesAction reports whether a modify rewrites the action spec. An
// all-fields record always does; a selected-fields record does when it
// touches a parameter or an indirect reference.
// Pure function.
func ReplacesAction(allFields bool, p Partition) bool {
	return allFields || len(p.Action) > 0
}

// ModifyActions computes the hardware writes for a modify. At most one
// write is issued per category. Resource and counter values ride on
// the action write when there is one.
// Pure function.
func ModifyActions(in ModifyInput) []action.Action {
	var actions []action.Action
	if ReplacesAction(in.AllFields, in.Partition) {
		actions = append(actions, action.SetAction{
			Table:  in.Table,
			Target: in.Target,
			Handle: in.Handle,
			Spec:   in.Spec,
		})
	} else {
		if len(in.Partition.Resources) > 0 {
			actions = append(actions, action.SetResources{
				Table:     in.Table,
				Target:    in.Target,
				Handle:    in.Handle,
				Resources: in.Resources,
			})
		}
		if len(in.Partition.Counter) > 0 {
			actions = append(actions, action.SetDirectCounter{
				Table:  in.Table,
				Target: in.Target,
				Handle: in.Handle,
				Value:  in.Counter,
			})
		}
	}
	if len(in.Partition.Idle) > 0 {
		actions = append(actions, action.SetIdle{
			Table:  in.Table,
			Target: in.Target,
			Handle: in.Handle,
			Value:  in.Idle,
			Reset:  !in.Flags.Has(bfrt.FlagSkipTTLReset),
		})
	}
	return actions
}

// ResourceSpecs builds one attachment per direct resource of action
// carried by fields, in directory order. action is the action the entry
// is programmed with, which a selected-fields record for action 0 does
// not name itself.
// Pure function.
func ResourceSpecs(dir *directory.Directory, action bfrt.ActionID, d *bfrt.Data, fields []bfrt.DataField) ([]bfrt.ResourceSpec, error) {
	var out []bfrt.ResourceSpec
	for _, decl := range dir.DirectResources(action) {
		fs := FilterByResource(fields, decl.ID)
		if len(fs) == 0 {
			continue
		}
		r, err := ResourceFromFields(d, decl, fs)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// CounterValue folds counter fields into a counter value.
// Pure function.
func CounterValue(d *bfrt.Data, fields []bfrt.DataField) (bfrt.CounterValue, error) {
	var v bfrt.CounterValue
	for _, f := range FilterByDest(fields, bfrt.DestCounter) {
		n, err := d.Value(f.ID)
		if err != nil {
			return bfrt.CounterValue{}, err
		}
		switch f.Component {
		case bfrt.ComponentBytes:
			v.Bytes = n
		case bfrt.ComponentPackets:
			v.Packets = n
		default:
			return bfrt.CounterValue{}, unknownComponent(f)
		}
	}
	return v, nil
}

// ClearActions computes the writes that empty a table: delete every
// handle, then restore the default entry.
// Pure function.
func ClearActions(table bfrt.TableID, tgt bfrt.Target, handles []bfrt.EntryHandle, resetDefault bool) []action.Action {
	actions := make([]action.Action, 0, len(handles)+1)
	for _, h := range handles {
		actions = append(actions, action.DeleteEntry{Table: table, Target: tgt, Handle: h})
	}
	if resetDefault {
		actions = append(actions, action.ResetDefaultEntry{Table: table, Target: tgt})
	}
	return actions
}
