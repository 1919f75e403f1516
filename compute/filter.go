package compute

import (
	"github.com/frobware/go-bfrt"
)

// FilterFields returns the fields matching the predicate.
// Pure function.
func FilterFields(fields []bfrt.DataField, predicate func(bfrt.DataField) bool) []bfrt.DataField {
	var result []bfrt.DataField
	for _, f := range fields {
		if predicate(f) {
			result = append(result, f)
		}
	}
	return result
}

// FilterByDest returns the fields with any of the given destinations.
// Pure function.
func FilterByDest(fields []bfrt.DataField, dests ...bfrt.Destination) []bfrt.DataField {
	return FilterFields(fields, func(f bfrt.DataField) bool {
		for _, d := range dests {
			if f.Dest == d {
				return true
			}
		}
		return false
	})
}

// FilterByResource returns the fields that carry the given resource.
// Pure function.
func FilterByResource(fields []bfrt.DataField, id bfrt.ResourceID) []bfrt.DataField {
	return FilterFields(fields, func(f bfrt.DataField) bool {
		return f.Dest.DirectResource() && f.Resource == id
	})
}

// Touched reports whether a write should program the field. In
// all-fields mode only fields given a value count; in selected-fields
// mode every active field does, unset ones as zero.
func Touched(d *bfrt.Data, f bfrt.DataField) bool {
	if d.AllFields() {
		return d.IsSet(f.ID)
	}
	return d.IsActive(f.ID)
}

// TouchedFields returns the active fields a write should program.
// Pure function.
func TouchedFields(d *bfrt.Data) []bfrt.DataField {
	return FilterFields(d.Fields(), func(f bfrt.DataField) bool {
		return Touched(d, f)
	})
}
