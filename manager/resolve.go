package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/interpreter/store"
)

// resolve turns the member or group reference of an indirect spec into
// action-profile handles and appends the indirect resources of the
// resolved member after the resources already in spec. A group is
// resolved through its first member, whose handle is recorded too.
// Direct tables pass through.
//
// A member that does not exist is ErrMemberNotFound. A group that does
// not exist is ErrGroupNotFound, and one without members ErrGroupEmpty.
func (t *Table) resolve(ctx context.Context, tgt bfrt.Target, spec *bfrt.ActionSpec) error {
	if !t.schema.Kind.Indirect() {
		return nil
	}
	profile, _ := t.m.program.Profile(t.schema.Profile)

	memberID := spec.MemberID
	if spec.HasGroup {
		selector, _ := t.m.program.Profile(t.schema.Selector)
		g, err := t.m.dev.Group(ctx, t.schema.Selector, tgt, spec.GroupID)
		if errors.Is(err, store.ErrNotFound) {
			return bfrt.ErrGroupNotFound{Selector: selector.Name, GroupID: spec.GroupID}
		}
		if err != nil {
			return fmt.Errorf("selector %s: group %d: %w", selector.Name, spec.GroupID, err)
		}
		if len(g.Members) == 0 {
			return bfrt.ErrGroupEmpty{Selector: selector.Name, GroupID: spec.GroupID}
		}
		spec.GroupHandle = g.Handle
		memberID = g.Members[0]
	}

	m, err := t.m.dev.Member(ctx, t.schema.Profile, tgt, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return bfrt.ErrMemberNotFound{Profile: profile.Name, MemberID: memberID}
	}
	if err != nil {
		return fmt.Errorf("action profile %s: member %d: %w", profile.Name, memberID, err)
	}
	// For a group this is the representative member.
	spec.MemberHandle = m.Handle
	for _, r := range m.Action.Resources {
		if r.Indirect {
			spec.Resources = append(spec.Resources, r)
		}
	}
	return nil
}
