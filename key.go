package bfrt

import (
	"bytes"
	"slices"
)

// KeyValue is the caller-visible value of one key field.
type KeyValue struct {
	Value     []byte
	Mask      []byte
	High      []byte
	PrefixLen uint16
}

// Key is a match key bound to a table schema. Only fields the schema
// declares can be set, and every value is checked against its width.
// Keys are allocated per call and may be Reset for reuse.
type Key struct {
	schema   *TableSchema
	fields   map[FieldID]KeyValue
	priority uint32
}

// NewKey returns an empty key for the table.
func NewKey(ts *TableSchema) *Key {
	return &Key{schema: ts, fields: make(map[FieldID]KeyValue)}
}

// Table returns the schema the key is bound to.
func (k *Key) Table() *TableSchema { return k.schema }

// Reset clears every field and the priority.
func (k *Key) Reset() {
	clear(k.fields)
	k.priority = 0
}

func (k *Key) field(id FieldID, want MatchType) (KeyField, error) {
	kf, ok := k.schema.KeyField(id)
	if !ok {
		return KeyField{}, invalidf("table %s: unknown key field %d", k.schema.Name, id)
	}
	if kf.Match != want {
		return KeyField{}, invalidf("table %s: key field %s is %s, not %s", k.schema.Name, kf.Name, kf.Match, want)
	}
	return kf, nil
}

// SetExact sets an exact-match field.
func (k *Key) SetExact(id FieldID, v []byte) error {
	kf, err := k.field(id, MatchExact)
	if err != nil {
		return err
	}
	fv, err := fitValue(v, kf.Width)
	if err != nil {
		return err
	}
	k.fields[id] = KeyValue{Value: fv}
	return nil
}

// SetExactUint sets an exact-match field from an integer.
func (k *Key) SetExactUint(id FieldID, v uint64) error {
	kf, err := k.field(id, MatchExact)
	if err != nil {
		return err
	}
	fv, err := uintBytes(v, kf.Width)
	if err != nil {
		return err
	}
	k.fields[id] = KeyValue{Value: fv}
	return nil
}

// SetTernary sets a ternary field. Value bits outside the mask are
// cleared.
func (k *Key) SetTernary(id FieldID, v, mask []byte) error {
	kf, err := k.field(id, MatchTernary)
	if err != nil {
		return err
	}
	fv, err := fitValue(v, kf.Width)
	if err != nil {
		return err
	}
	fm, err := fitValue(mask, kf.Width)
	if err != nil {
		return err
	}
	k.fields[id] = KeyValue{Value: and(fv, fm), Mask: fm}
	return nil
}

// SetRange sets a range field to the inclusive interval [low, high].
func (k *Key) SetRange(id FieldID, low, high []byte) error {
	kf, err := k.field(id, MatchRange)
	if err != nil {
		return err
	}
	fl, err := fitValue(low, kf.Width)
	if err != nil {
		return err
	}
	fh, err := fitValue(high, kf.Width)
	if err != nil {
		return err
	}
	if bytes.Compare(fl, fh) > 0 {
		return invalidf("table %s: range field %s low 0x%x above high 0x%x", k.schema.Name, kf.Name, fl, fh)
	}
	k.fields[id] = KeyValue{Value: fl, High: fh}
	return nil
}

// SetLPM sets a longest-prefix-match field. Bits past the prefix are
// cleared.
func (k *Key) SetLPM(id FieldID, v []byte, prefixLen uint16) error {
	kf, err := k.field(id, MatchLPM)
	if err != nil {
		return err
	}
	if prefixLen > kf.Width {
		return invalidf("table %s: prefix length %d exceeds width of %s", k.schema.Name, prefixLen, kf.Name)
	}
	fv, err := fitValue(v, kf.Width)
	if err != nil {
		return err
	}
	k.fields[id] = KeyValue{Value: and(fv, prefixMask(kf.Width, prefixLen)), PrefixLen: prefixLen}
	return nil
}

// SetPriority sets the match priority of a key for a table with
// overlapping match kinds.
func (k *Key) SetPriority(p uint32) error {
	if !k.schema.NeedsPriority() {
		return invalidf("table %s: %s not applicable", k.schema.Name, FieldMatchPriority)
	}
	k.priority = p
	return nil
}

// Priority returns the match priority.
func (k *Key) Priority() uint32 { return k.priority }

// Field returns the value of a key field and whether it was set.
func (k *Key) Field(id FieldID) (KeyValue, bool) {
	v, ok := k.fields[id]
	return v, ok
}

// MatchSpec encodes the key. Unset fields take their wildcard value:
// zero for exact, a zero mask for ternary, the full range for range and
// a zero-length prefix for LPM.
func (k *Key) MatchSpec() (MatchSpec, error) {
	for id := range k.fields {
		if _, ok := k.schema.KeyField(id); !ok {
			return MatchSpec{}, invalidf("table %s: unknown key field %d", k.schema.Name, id)
		}
	}
	spec := MatchSpec{
		Fields:   make([]MatchField, 0, len(k.schema.Key)),
		Priority: k.priority,
	}
	for _, kf := range k.schema.Key {
		v, set := k.fields[kf.ID]
		mf := MatchField{ID: kf.ID}
		switch kf.Match {
		case MatchExact:
			mf.Value = orZero(v.Value, kf.Width)
		case MatchTernary:
			mf.Value = orZero(v.Value, kf.Width)
			mf.Mask = orZero(v.Mask, kf.Width)
		case MatchRange:
			mf.Value = orZero(v.Value, kf.Width)
			if set {
				mf.High = slices.Clone(v.High)
			} else {
				mf.High = allOnes(kf.Width)
			}
		case MatchLPM:
			mf.Value = orZero(v.Value, kf.Width)
			mf.PrefixLen = v.PrefixLen
		}
		spec.Fields = append(spec.Fields, mf)
	}
	return spec, nil
}

func orZero(v []byte, width uint16) []byte {
	if v == nil {
		return make([]byte, byteWidth(width))
	}
	return slices.Clone(v)
}

// SetMatchSpec replaces the key contents with a match spec read back
// from the hardware layer.
func (k *Key) SetMatchSpec(spec MatchSpec) error {
	k.Reset()
	for _, mf := range spec.Fields {
		kf, ok := k.schema.KeyField(mf.ID)
		if !ok {
			return invalidf("table %s: unknown key field %d in match spec", k.schema.Name, mf.ID)
		}
		if len(mf.Value) != byteWidth(kf.Width) {
			return invalidf("table %s: key field %s encoded as %d bytes, want %d", k.schema.Name, kf.Name, len(mf.Value), byteWidth(kf.Width))
		}
		k.fields[mf.ID] = KeyValue{
			Value:     slices.Clone(mf.Value),
			Mask:      slices.Clone(mf.Mask),
			High:      slices.Clone(mf.High),
			PrefixLen: mf.PrefixLen,
		}
	}
	k.priority = spec.Priority
	return nil
}
