// Package directory holds the static resource map of a table: which
// direct resources each action uses and which indirect references the
// table carries. It is built once when a table is brought up and never
// changes afterwards.
package directory

import (
	"github.com/frobware/go-bfrt"
)

// IndirectRef is a data field that references state outside the entry:
// an action-profile member, a selector group, or an index into an
// indirect counter, meter or register.
type IndirectRef struct {
	Field    bfrt.DataField
	Action   bfrt.ActionID
	Resource bfrt.ResourceDecl
}

// Directory maps actions to their direct resources and lists the
// table's indirect references.
type Directory struct {
	table    *bfrt.TableSchema
	direct   map[bfrt.ActionID][]bfrt.ResourceDecl
	indirect []IndirectRef
	fields   map[bfrt.ResourceID][]bfrt.DataField
}

// New builds the directory for a table schema.
func New(ts *bfrt.TableSchema) *Directory {
	d := &Directory{
		table:  ts,
		direct: make(map[bfrt.ActionID][]bfrt.ResourceDecl),
		fields: make(map[bfrt.ResourceID][]bfrt.DataField),
	}

	indirectlyReferenced := make(map[bfrt.ResourceID]bool)
	for _, a := range ts.Actions {
		for _, p := range a.Params {
			if p.Dest != bfrt.DestIndirectIndex {
				continue
			}
			decl, _ := ts.Resource(p.Resource)
			indirectlyReferenced[p.Resource] = true
			d.indirect = append(d.indirect, IndirectRef{Field: p, Action: a.ID, Resource: decl})
		}
	}
	for _, f := range ts.Common {
		switch f.Dest {
		case bfrt.DestMemberID, bfrt.DestGroupID:
			d.indirect = append(d.indirect, IndirectRef{Field: f})
		case bfrt.DestCounter, bfrt.DestMeter, bfrt.DestRegister:
			d.fields[f.Resource] = append(d.fields[f.Resource], f)
		}
	}

	isDirect := func(id bfrt.ResourceID) (bfrt.ResourceDecl, bool) {
		decl, ok := ts.Resource(id)
		if !ok || !decl.Direct || indirectlyReferenced[id] {
			return bfrt.ResourceDecl{}, false
		}
		return decl, true
	}

	// Indirect tables carry their direct resources at the table level
	// under action 0.
	if ts.Kind.Indirect() {
		for _, r := range ts.Resources {
			if decl, ok := isDirect(r.ID); ok {
				d.direct[0] = append(d.direct[0], decl)
			}
		}
		return d
	}
	for _, a := range ts.Actions {
		for _, id := range a.Resources {
			if decl, ok := isDirect(id); ok {
				d.direct[a.ID] = append(d.direct[a.ID], decl)
			}
		}
	}
	return d
}

// Table returns the schema the directory was built from.
func (d *Directory) Table() *bfrt.TableSchema { return d.table }

// DirectResources returns the direct resources the action declares, in
// declaration order. Resources referenced by index from action data are
// excluded.
func (d *Directory) DirectResources(action bfrt.ActionID) []bfrt.ResourceDecl {
	if d.table.Kind.Indirect() {
		action = 0
	}
	return d.direct[action]
}

// Declares reports whether the action declares the direct resource.
func (d *Directory) Declares(action bfrt.ActionID, id bfrt.ResourceID) bool {
	for _, r := range d.DirectResources(action) {
		if r.ID == id {
			return true
		}
	}
	return false
}

// IndirectRefs returns every indirect reference of the table.
func (d *Directory) IndirectRefs() []IndirectRef { return d.indirect }

// IndirectIndexes returns the indirect resource index parameters of an
// action.
func (d *Directory) IndirectIndexes(action bfrt.ActionID) []IndirectRef {
	var out []IndirectRef
	for _, ref := range d.indirect {
		if ref.Field.Dest == bfrt.DestIndirectIndex && ref.Action == action {
			out = append(out, ref)
		}
	}
	return out
}

// ResourceFields returns the data fields that carry a direct resource's
// value.
func (d *Directory) ResourceFields(id bfrt.ResourceID) []bfrt.DataField {
	return d.fields[id]
}

// HasDirect reports whether any action of the table uses a direct
// resource of the given kind.
func (d *Directory) HasDirect(kind bfrt.ResourceKind) bool {
	for _, decls := range d.direct {
		for _, r := range decls {
			if r.Kind == kind {
				return true
			}
		}
	}
	return false
}
