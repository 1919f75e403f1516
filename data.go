package bfrt

import (
	"slices"
)

// Data is an entry record bound to one action. It runs in one of two
// mutually exclusive modes: all-fields, where every field of the action
// is active, or selected-fields, where only the fields named at
// allocation are. Action 0 means no action has been selected; such a
// record only addresses common fields and is resolved by a read.
type Data struct {
	schema *TableSchema
	action ActionID
	all    bool
	active []FieldID
	values map[FieldID][]byte
	multi  map[FieldID][]uint64
}

// NewData returns an all-fields record for the action.
func NewData(ts *TableSchema, action ActionID) (*Data, error) {
	d := &Data{schema: ts}
	if err := d.Reset(action); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDataWithFields returns a selected-fields record for the action.
func NewDataWithFields(ts *TableSchema, action ActionID, fields ...FieldID) (*Data, error) {
	d := &Data{schema: ts}
	if err := d.ResetWithFields(action, fields...); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Data) checkAction(action ActionID) error {
	if d.schema.Kind.Indirect() && action != 0 {
		return invalidf("table %s: %s tables take data for action 0, not %d", d.schema.Name, d.schema.Kind, action)
	}
	if action != 0 {
		if _, ok := d.schema.Action(action); !ok {
			return invalidf("table %s: unknown action %d", d.schema.Name, action)
		}
	}
	return nil
}

// Reset rebinds the record to an action in all-fields mode and clears
// every value.
func (d *Data) Reset(action ActionID) error {
	if err := d.checkAction(action); err != nil {
		return err
	}
	fields, err := d.schema.DataFields(action)
	if err != nil {
		return err
	}
	d.action = action
	d.all = true
	d.active = d.active[:0]
	for _, f := range fields {
		d.active = append(d.active, f.ID)
	}
	d.values = make(map[FieldID][]byte)
	d.multi = nil
	return nil
}

// ResetWithFields rebinds the record to an action in selected-fields
// mode. Every field must be valid for the action.
func (d *Data) ResetWithFields(action ActionID, fields ...FieldID) error {
	if err := d.checkAction(action); err != nil {
		return err
	}
	active := make([]FieldID, 0, len(fields))
	for _, id := range fields {
		if _, ok := d.schema.DataField(action, id); !ok {
			return invalidf("table %s: field %d not valid for action %d", d.schema.Name, id, action)
		}
		if !slices.Contains(active, id) {
			active = append(active, id)
		}
	}
	d.action = action
	d.all = false
	d.active = active
	d.values = make(map[FieldID][]byte)
	d.multi = nil
	return nil
}

// Table returns the schema the record is bound to.
func (d *Data) Table() *TableSchema { return d.schema }

// ActionID returns the bound action.
func (d *Data) ActionID() ActionID { return d.action }

// AllFields reports whether the record is in all-fields mode.
func (d *Data) AllFields() bool { return d.all }

// ActiveFields returns the active fields in schema order.
func (d *Data) ActiveFields() []FieldID { return slices.Clone(d.active) }

// IsActive reports whether the field is active.
func (d *Data) IsActive(id FieldID) bool { return slices.Contains(d.active, id) }

// IsSet reports whether a value was supplied for the field.
func (d *Data) IsSet(id FieldID) bool {
	_, ok := d.values[id]
	if !ok {
		_, ok = d.multi[id]
	}
	return ok
}

// Field returns the schema of an active field.
func (d *Data) Field(id FieldID) (DataField, error) {
	f, ok := d.schema.DataField(d.action, id)
	if !ok {
		return DataField{}, invalidf("table %s: field %d not valid for action %d", d.schema.Name, id, d.action)
	}
	if !d.IsActive(id) {
		return DataField{}, invalidf("table %s: field %s is not active", d.schema.Name, f.Name)
	}
	return f, nil
}

// Fields returns the schema of every active field in order.
func (d *Data) Fields() []DataField {
	out := make([]DataField, 0, len(d.active))
	for _, id := range d.active {
		if f, ok := d.schema.DataField(d.action, id); ok {
			out = append(out, f)
		}
	}
	return out
}

// SetValue sets an integer field.
func (d *Data) SetValue(id FieldID, v uint64) error {
	f, err := d.Field(id)
	if err != nil {
		return err
	}
	b, err := uintBytes(v, f.Width)
	if err != nil {
		return err
	}
	d.values[id] = b
	delete(d.multi, id)
	return nil
}

// SetBytes sets a field from a big-endian byte string.
func (d *Data) SetBytes(id FieldID, v []byte) error {
	f, err := d.Field(id)
	if err != nil {
		return err
	}
	b, err := fitValue(v, f.Width)
	if err != nil {
		return err
	}
	d.values[id] = b
	delete(d.multi, id)
	return nil
}

// SetValues stores a per-pipe vector for a register field.
func (d *Data) SetValues(id FieldID, vs []uint64) error {
	f, err := d.Field(id)
	if err != nil {
		return err
	}
	if f.Dest != DestRegister {
		return invalidf("table %s: field %s is not a register field", d.schema.Name, f.Name)
	}
	if d.multi == nil {
		d.multi = make(map[FieldID][]uint64)
	}
	d.multi[id] = slices.Clone(vs)
	delete(d.values, id)
	return nil
}

// Bytes returns the value of a field. Unset fields read as zero.
func (d *Data) Bytes(id FieldID) ([]byte, error) {
	f, err := d.Field(id)
	if err != nil {
		return nil, err
	}
	if vs, ok := d.multi[id]; ok && len(vs) > 0 {
		return uintBytes(vs[0], f.Width)
	}
	if v, ok := d.values[id]; ok {
		return slices.Clone(v), nil
	}
	return make([]byte, byteWidth(f.Width)), nil
}

// Value returns the integer value of a field. For register fields read
// back per pipe this is the first pipe's value.
func (d *Data) Value(id FieldID) (uint64, error) {
	b, err := d.Bytes(id)
	if err != nil {
		return 0, err
	}
	return bytesUint(b)
}

// Values returns the per-pipe vector of a register field. A scalar
// value is returned as a one-element vector.
func (d *Data) Values(id FieldID) ([]uint64, error) {
	if _, err := d.Field(id); err != nil {
		return nil, err
	}
	if vs, ok := d.multi[id]; ok {
		return slices.Clone(vs), nil
	}
	v, err := d.Value(id)
	if err != nil {
		return nil, err
	}
	return []uint64{v}, nil
}

// Deactivate removes a field from the active set. It is how a read
// reports that a field's governing condition did not hold.
func (d *Data) Deactivate(id FieldID) {
	if i := slices.Index(d.active, id); i >= 0 {
		d.active = slices.Delete(d.active, i, i+1)
	}
	delete(d.values, id)
	delete(d.multi, id)
}

// FieldsByDest returns the active fields with the given destination.
func (d *Data) FieldsByDest(dest Destination) []DataField {
	var out []DataField
	for _, f := range d.Fields() {
		if f.Dest == dest {
			out = append(out, f)
		}
	}
	return out
}
