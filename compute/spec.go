package compute

import (
	"fmt"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/directory"
)

// BuildActionSpec fills spec from a record. Every action parameter is
// encoded, unset ones as zero. A direct resource is attached only when
// the write touches one of its fields; the others are left for
// ReconcileResources. Indexed resources follow the direct ones. For
// indirect tables exactly one of the member and group references must
// be touched.
// Pure function; mutates spec only.
func BuildActionSpec(dir *directory.Directory, d *bfrt.Data, spec *bfrt.ActionSpec) error {
	ts := dir.Table()
	spec.ActionID = d.ActionID()
	touched := TouchedFields(d)

	for _, f := range d.Fields() {
		if f.Dest != bfrt.DestValue && f.Dest != bfrt.DestIndirectIndex {
			continue
		}
		v, err := d.Bytes(f.ID)
		if err != nil {
			return err
		}
		spec.Params[f.ID] = v
	}

	for _, decl := range dir.DirectResources(d.ActionID()) {
		fields := FilterByResource(touched, decl.ID)
		if len(fields) == 0 {
			continue
		}
		r, err := ResourceFromFields(d, decl, fields)
		if err != nil {
			return err
		}
		spec.Resources = append(spec.Resources, r)
	}

	for _, ref := range dir.IndirectIndexes(d.ActionID()) {
		idx, err := d.Value(ref.Field.ID)
		if err != nil {
			return err
		}
		if ref.Resource.Size != 0 && idx >= uint64(ref.Resource.Size) {
			return fmt.Errorf("%w: table %s: index %d out of range for %s of size %d",
				bfrt.ErrInvalidArgument, ts.Name, idx, ref.Resource.Name, ref.Resource.Size)
		}
		spec.Resources = append(spec.Resources, bfrt.ResourceSpec{
			Kind:     ref.Resource.Kind,
			ID:       ref.Resource.ID,
			Tag:      bfrt.TagAttached,
			Indirect: true,
			Index:    uint32(idx),
		})
	}

	if !ts.Kind.Indirect() {
		return nil
	}
	member := FilterByDest(touched, bfrt.DestMemberID)
	group := FilterByDest(touched, bfrt.DestGroupID)
	switch {
	case len(member) > 0 && len(group) > 0:
		return fmt.Errorf("%w: table %s: both %s and %s set", bfrt.ErrInvalidArgument, ts.Name, bfrt.FieldMemberID, bfrt.FieldGroupID)
	case len(member) > 0:
		v, err := d.Value(member[0].ID)
		if err != nil {
			return err
		}
		spec.MemberID = bfrt.MemberID(v)
		spec.HasMember = true
	case len(group) > 0:
		v, err := d.Value(group[0].ID)
		if err != nil {
			return err
		}
		spec.GroupID = bfrt.GroupID(v)
		spec.HasGroup = true
	}
	return nil
}

// ResourceFromFields builds a direct resource attachment from the
// record fields that carry it. Components without a field are zero.
// Pure function.
func ResourceFromFields(d *bfrt.Data, decl bfrt.ResourceDecl, fields []bfrt.DataField) (bfrt.ResourceSpec, error) {
	r := bfrt.ResourceSpec{Kind: decl.Kind, ID: decl.ID, Tag: bfrt.TagAttached}
	for _, f := range fields {
		v, err := d.Value(f.ID)
		if err != nil {
			return bfrt.ResourceSpec{}, err
		}
		switch f.Dest {
		case bfrt.DestCounter:
			switch f.Component {
			case bfrt.ComponentBytes:
				r.Counter.Bytes = v
			case bfrt.ComponentPackets:
				r.Counter.Packets = v
			default:
				return bfrt.ResourceSpec{}, unknownComponent(f)
			}
		case bfrt.DestMeter:
			switch f.Component {
			case bfrt.ComponentCIR:
				r.Meter.CIR = v
			case bfrt.ComponentPIR:
				r.Meter.PIR = v
			case bfrt.ComponentCBS:
				r.Meter.CBS = v
			case bfrt.ComponentPBS:
				r.Meter.PBS = v
			default:
				return bfrt.ResourceSpec{}, unknownComponent(f)
			}
		case bfrt.DestRegister:
			r.Register.Values = []uint64{v}
		default:
			return bfrt.ResourceSpec{}, fmt.Errorf("%w: field %s has destination %s, not a direct resource", bfrt.ErrUnexpected, f.Name, f.Dest)
		}
	}
	return r, nil
}

func unknownComponent(f bfrt.DataField) error {
	return fmt.Errorf("%w: field %s has unknown %s component %q", bfrt.ErrUnexpected, f.Name, f.Dest, f.Component)
}

// FieldValue extracts the value a resource attachment holds for one
// record field. Register attachments return one value per pipe.
// Pure function.
func FieldValue(r bfrt.ResourceSpec, f bfrt.DataField) ([]uint64, error) {
	switch f.Dest {
	case bfrt.DestCounter:
		switch f.Component {
		case bfrt.ComponentBytes:
			return []uint64{r.Counter.Bytes}, nil
		case bfrt.ComponentPackets:
			return []uint64{r.Counter.Packets}, nil
		}
	case bfrt.DestMeter:
		switch f.Component {
		case bfrt.ComponentCIR:
			return []uint64{r.Meter.CIR}, nil
		case bfrt.ComponentPIR:
			return []uint64{r.Meter.PIR}, nil
		case bfrt.ComponentCBS:
			return []uint64{r.Meter.CBS}, nil
		case bfrt.ComponentPBS:
			return []uint64{r.Meter.PBS}, nil
		}
	case bfrt.DestRegister:
		if len(r.Register.Values) == 0 {
			return []uint64{0}, nil
		}
		return r.Register.Values, nil
	default:
		return nil, fmt.Errorf("%w: field %s has destination %s, not a direct resource", bfrt.ErrUnexpected, f.Name, f.Dest)
	}
	return nil, unknownComponent(f)
}
