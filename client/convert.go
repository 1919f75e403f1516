package client

import (
	"fmt"
	"math"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
	"github.com/frobware/go-bfrt/server"
)

// request starts a request map for a reference. field is the request
// field that carries the name.
func request(r Ref, field string) map[string]any {
	m := map[string]any{field: r.Name}
	if r.Target != nil {
		m[server.FieldTarget] = r.Target.String()
	}
	if r.Flags != 0 {
		m[server.FieldFlags] = r.Flags.String()
	}
	return m
}

func itemsValue(items []entryfmt.Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.String()
	}
	return out
}

func stringsValue(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func membersValue(ids []bfrt.MemberID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = float64(id)
	}
	return out
}

func decodeStrings(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %T", bfrt.ErrUnexpected, v)
	}
	out := make([]string, len(list))
	for i, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a string, got %T", bfrt.ErrUnexpected, e)
		}
		out[i] = s
	}
	return out, nil
}

func decodeItems(v any) ([]entryfmt.Item, error) {
	ss, err := decodeStrings(v)
	if err != nil {
		return nil, err
	}
	return entryfmt.ParseItems(ss...)
}

func decodeUint32(v any) (uint32, error) {
	if v == nil {
		return 0, nil
	}
	f, ok := v.(float64)
	if !ok || f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: expected a 32-bit unsigned integer, got %v", bfrt.ErrUnexpected, v)
	}
	return uint32(f), nil
}

func decodeMembers(v any) ([]bfrt.MemberID, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %T", bfrt.ErrUnexpected, v)
	}
	ids := make([]bfrt.MemberID, len(list))
	for i, e := range list {
		n, err := decodeUint32(e)
		if err != nil {
			return nil, err
		}
		ids[i] = bfrt.MemberID(n)
	}
	return ids, nil
}

func decodeEntry(m map[string]any) (Entry, error) {
	key, err := decodeItems(m[server.FieldKey])
	if err != nil {
		return Entry{}, err
	}
	data, err := decodeItems(m[server.FieldData])
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Data: data}, nil
}

func decodeEntries(v any) ([]Entry, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list of entries, got %T", bfrt.ErrUnexpected, v)
	}
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected an entry, got %T", bfrt.ErrUnexpected, e)
		}
		ent, err := decodeEntry(m)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

func decodeIdle(m map[string]any) (bfrt.IdleConfig, error) {
	var cfg bfrt.IdleConfig
	name, _ := m[server.FieldMode].(string)
	mode, ok := bfrt.ParseIdleMode(name)
	if !ok {
		return cfg, fmt.Errorf("%w: unknown idle mode %q", bfrt.ErrUnexpected, name)
	}
	cfg.Mode = mode
	cfg.Enabled, _ = m[server.FieldEnabled].(bool)
	var err error
	if cfg.QueryInterval, err = decodeUint32(m[server.FieldQueryInterval]); err != nil {
		return cfg, err
	}
	if cfg.MaxTTL, err = decodeUint32(m[server.FieldMaxTTL]); err != nil {
		return cfg, err
	}
	if cfg.MinTTL, err = decodeUint32(m[server.FieldMinTTL]); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func idleRequest(req map[string]any, cfg bfrt.IdleConfig) map[string]any {
	req[server.FieldMode] = cfg.Mode.String()
	req[server.FieldEnabled] = cfg.Enabled
	req[server.FieldQueryInterval] = float64(cfg.QueryInterval)
	req[server.FieldMaxTTL] = float64(cfg.MaxTTL)
	req[server.FieldMinTTL] = float64(cfg.MinTTL)
	return req
}

func decodeGroups(v any) ([]bfrt.Group, error) {
	list, _ := v.([]any)
	out := make([]bfrt.Group, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected a group, got %T", bfrt.ErrUnexpected, e)
		}
		id, err := decodeUint32(m[server.FieldID])
		if err != nil {
			return nil, err
		}
		maxSize, err := decodeUint32(m[server.FieldMaxSize])
		if err != nil {
			return nil, err
		}
		members, err := decodeMembers(m[server.FieldMembers])
		if err != nil {
			return nil, err
		}
		out = append(out, bfrt.Group{ID: bfrt.GroupID(id), MaxSize: maxSize, Members: members})
	}
	return out, nil
}

func decodeProgram(m map[string]any) (Program, error) {
	var p Program
	p.Name, _ = m[server.FieldName].(string)
	dev, err := decodeUint32(m[server.FieldDevice])
	if err != nil {
		return p, err
	}
	p.Device = dev

	tables, _ := m[server.FieldTables].([]any)
	for _, e := range tables {
		t, _ := e.(map[string]any)
		info := TableInfo{}
		info.Name, _ = t[server.FieldName].(string)
		info.Kind, _ = t[server.FieldKind].(string)
		info.Idle, _ = t[server.FieldIdle].(bool)
		info.Immutable, _ = t[server.FieldImmutable].(bool)
		if info.Size, err = decodeUint32(t[server.FieldSize]); err != nil {
			return p, err
		}
		if info.Key, err = decodeStrings(t[server.FieldKey]); err != nil {
			return p, err
		}
		if info.Actions, err = decodeStrings(t[server.FieldActions]); err != nil {
			return p, err
		}
		p.Tables = append(p.Tables, info)
	}

	profiles, _ := m[server.FieldProfiles].([]any)
	for _, e := range profiles {
		pm, _ := e.(map[string]any)
		info := ProfileInfo{}
		info.Name, _ = pm[server.FieldName].(string)
		info.Selector, _ = pm[server.FieldSelector].(bool)
		if info.Size, err = decodeUint32(pm[server.FieldSize]); err != nil {
			return p, err
		}
		p.Profiles = append(p.Profiles, info)
	}
	return p, nil
}
