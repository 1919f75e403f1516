// Package compute contains pure functions for the table runtime.
// Functions in this package perform no I/O - they normalise entry
// records and turn them into actions.
package compute

import (
	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/directory"
)

// ReconcileResources makes the direct resources of spec match what the
// action declares. Indirect attachments are kept after the direct ones.
//
//   - Equal counts are accepted as they are.
//   - A default entry with more resources than declared drops every
//     resource the action does not declare.
//   - Any other entry with more resources than declared is an internal
//     inconsistency and fails with ErrResourceMismatch.
//   - With fewer resources, a zero-valued attached resource is appended
//     for each declared one that is missing, in directory order.
//
// Pure function; mutates spec only.
func ReconcileResources(dir *directory.Directory, action bfrt.ActionID, spec *bfrt.ActionSpec, isDefault bool) error {
	declared := dir.DirectResources(action)

	direct := make([]bfrt.ResourceSpec, 0, len(spec.Resources))
	var indirect []bfrt.ResourceSpec
	for _, r := range spec.Resources {
		if r.Indirect {
			indirect = append(indirect, r)
		} else {
			direct = append(direct, r)
		}
	}

	switch n := len(direct); {
	case n == len(declared):
	case n > len(declared) && isDefault:
		i := 0
		for i < n {
			if dir.Declares(action, direct[i].ID) {
				i++
				continue
			}
			direct[i] = direct[n-1]
			n--
		}
		direct = direct[:n]
	case n > len(declared):
		return bfrt.ErrResourceMismatch{Action: action, Programmed: n, Declared: len(declared)}
	default:
		for _, decl := range declared {
			if hasResource(direct, decl.ID) {
				continue
			}
			direct = append(direct, bfrt.ResourceSpec{
				Kind: decl.Kind,
				ID:   decl.ID,
				Tag:  bfrt.TagAttached,
			})
		}
	}

	spec.Resources = append(spec.Resources[:0], direct...)
	spec.Resources = append(spec.Resources, indirect...)
	return nil
}

func hasResource(rs []bfrt.ResourceSpec, id bfrt.ResourceID) bool {
	for _, r := range rs {
		if r.ID == id {
			return true
		}
	}
	return false
}

// RetainCounters tags every direct counter attachment that the write
// did not touch as no-change, so replacing the action keeps the
// running count.
// Pure function; mutates spec only.
func RetainCounters(spec *bfrt.ActionSpec, touched []bfrt.DataField) {
	for i := range spec.Resources {
		r := &spec.Resources[i]
		if r.Indirect || r.Kind != bfrt.ResourceCounter {
			continue
		}
		if len(FilterByResource(touched, r.ID)) == 0 {
			r.Tag = bfrt.TagNoChange
		}
	}
}
