package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
	"github.com/frobware/go-bfrt/manager"
)

func (s *Server) profile(r request) (*manager.ActionProfile, bfrt.Target, error) {
	name, err := r.required(FieldProfile)
	if err != nil {
		return nil, bfrt.Target{}, err
	}
	p, err := s.mgr.ActionProfile(name)
	if err != nil {
		return nil, bfrt.Target{}, err
	}
	tgt, err := r.target(s.deviceID())
	if err != nil {
		return nil, bfrt.Target{}, err
	}
	return p, tgt, nil
}

func (s *Server) selector(r request) (*manager.Selector, bfrt.Target, error) {
	name, err := r.required(FieldSelector)
	if err != nil {
		return nil, bfrt.Target{}, err
	}
	sel, err := s.mgr.Selector(name)
	if err != nil {
		return nil, bfrt.Target{}, err
	}
	tgt, err := r.target(s.deviceID())
	if err != nil {
		return nil, bfrt.Target{}, err
	}
	return sel, tgt, nil
}

func (s *Server) addMember(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	p, tgt, err := s.profile(r)
	if err != nil {
		return nil, err
	}
	id, err := r.uint32(FieldID)
	if err != nil {
		return nil, err
	}
	items, err := r.items(FieldData)
	if err != nil {
		return nil, err
	}
	data, err := entryfmt.NewData(p.MemberSchema(), items)
	if err != nil {
		return nil, err
	}
	h, err := p.AddMember(ctx, tgt, bfrt.MemberID(id), data)
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldHandle: float64(h)})
}

func (s *Server) deleteMember(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	p, tgt, err := s.profile(r)
	if err != nil {
		return nil, err
	}
	id, err := r.uint32(FieldID)
	if err != nil {
		return nil, err
	}
	if err := p.DeleteMember(ctx, tgt, bfrt.MemberID(id)); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) getMember(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	p, tgt, err := s.profile(r)
	if err != nil {
		return nil, err
	}
	id, err := r.uint32(FieldID)
	if err != nil {
		return nil, err
	}
	data, err := p.Member(ctx, tgt, bfrt.MemberID(id))
	if err != nil {
		return nil, err
	}
	return response(map[string]any{
		FieldID:   float64(id),
		FieldData: itemList(entryfmt.DataItems(data)),
	})
}

func (s *Server) listMembers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	p, tgt, err := s.profile(r)
	if err != nil {
		return nil, err
	}
	ids, err := p.Members(ctx, tgt)
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldMembers: memberList(ids)})
}

func memberList(ids []bfrt.MemberID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = float64(id)
	}
	return out
}

func (s *Server) addGroup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	sel, tgt, err := s.selector(r)
	if err != nil {
		return nil, err
	}
	id, err := r.uint32(FieldID)
	if err != nil {
		return nil, err
	}
	maxSize, err := r.uint32(FieldMaxSize)
	if err != nil {
		return nil, err
	}
	members, err := r.numbers(FieldMembers)
	if err != nil {
		return nil, err
	}
	var h bfrt.EntryHandle
	if len(members) == 0 {
		h, err = sel.AddGroup(ctx, tgt, bfrt.GroupID(id), maxSize)
	} else {
		h, err = sel.AddGroupWithMembers(ctx, tgt, bfrt.GroupID(id), maxSize, memberIDs(members))
	}
	if err != nil {
		return nil, err
	}
	return response(map[string]any{FieldHandle: float64(h)})
}

func memberIDs(ns []uint32) []bfrt.MemberID {
	ids := make([]bfrt.MemberID, len(ns))
	for i, n := range ns {
		ids[i] = bfrt.MemberID(n)
	}
	return ids
}

func (s *Server) setGroupMembers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	sel, tgt, err := s.selector(r)
	if err != nil {
		return nil, err
	}
	id, err := r.uint32(FieldID)
	if err != nil {
		return nil, err
	}
	members, err := r.numbers(FieldMembers)
	if err != nil {
		return nil, err
	}
	if err := sel.SetMembers(ctx, tgt, bfrt.GroupID(id), memberIDs(members)); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) deleteGroup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	sel, tgt, err := s.selector(r)
	if err != nil {
		return nil, err
	}
	id, err := r.uint32(FieldID)
	if err != nil {
		return nil, err
	}
	if err := sel.DeleteGroup(ctx, tgt, bfrt.GroupID(id)); err != nil {
		return nil, err
	}
	return empty()
}

func (s *Server) listGroups(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := request{in}
	sel, tgt, err := s.selector(r)
	if err != nil {
		return nil, err
	}
	groups, err := sel.Groups(ctx, tgt)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(groups))
	for i, g := range groups {
		out[i] = map[string]any{
			FieldID:      float64(g.ID),
			FieldMaxSize: float64(g.MaxSize),
			FieldMembers: memberList(g.Members),
		}
	}
	return response(map[string]any{FieldGroups: out})
}
