// Package cli provides the Kong-based command-line interface for bfrt.
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
)

// TargetSpec is a device target given on the command line. Set is
// false when no target was named.
type TargetSpec struct {
	Value bfrt.Target
	Set   bool
}

// ParseTargetSpec parses "dev0", "dev0/all" or "dev0/pipe1".
func ParseTargetSpec(s string) (TargetSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TargetSpec{}, nil
	}
	tgt, err := entryfmt.ParseTarget(s)
	if err != nil {
		return TargetSpec{}, err
	}
	return TargetSpec{Value: tgt, Set: true}, nil
}

// FlagSet is a set of operation flags.
type FlagSet struct {
	Value bfrt.Flags
}

// ParseFlagSet parses a comma separated flag list.
func ParseFlagSet(s string) (FlagSet, error) {
	flags, err := entryfmt.ParseFlags(s)
	if err != nil {
		return FlagSet{}, err
	}
	return FlagSet{Value: flags}, nil
}

// IdleModeArg is an aging mode name.
type IdleModeArg struct {
	Value bfrt.IdleMode
}

// ParseIdleModeArg parses "disabled", "poll" or "notify".
func ParseIdleModeArg(s string) (IdleModeArg, error) {
	m, ok := bfrt.ParseIdleMode(strings.TrimSpace(s))
	if !ok {
		return IdleModeArg{}, fmt.Errorf("unknown idle mode %q", s)
	}
	return IdleModeArg{Value: m}, nil
}

// ScopeArg is a pipe scope name.
type ScopeArg struct {
	Value bfrt.EntryScope
}

// ParseScopeArg parses "all-pipes" or "single-pipe".
func ParseScopeArg(s string) (ScopeArg, error) {
	scope, ok := bfrt.ParseEntryScope(strings.TrimSpace(s))
	if !ok {
		return ScopeArg{}, fmt.Errorf("unknown scope %q", s)
	}
	return ScopeArg{Value: scope}, nil
}

// MemberList is a comma separated list of member ids.
type MemberList struct {
	Value []bfrt.MemberID
}

// ParseMemberList parses "1,2,3". Hex ids take a 0x prefix.
func ParseMemberList(s string) (MemberList, error) {
	var list MemberList
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return MemberList{}, fmt.Errorf("invalid member ID %q: %w", part, err)
		}
		list.Value = append(list.Value, bfrt.MemberID(id))
	}
	return list, nil
}

func parseID(s string) (uint32, error) {
	var val uint64
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		val, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		val, err = strconv.ParseUint(s, 10, 32)
	}
	return uint32(val), err
}

// items parses name=value arguments.
func items(args []string) ([]entryfmt.Item, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return entryfmt.ParseItems(args...)
}
