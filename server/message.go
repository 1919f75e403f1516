package server

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
)

// Request fields shared by the Tables methods.
const (
	FieldTable    = "table"
	FieldProfile  = "profile"
	FieldSelector = "selector"
	FieldTarget   = "target"
	FieldFlags    = "flags"
	FieldKey      = "key"
	FieldData     = "data"
	FieldFields   = "fields"
	FieldSession  = "session"
	FieldCount    = "count"
	FieldHandle   = "handle"
	FieldAdded    = "added"
	FieldEntries  = "entries"
	FieldID       = "id"
	FieldMaxSize  = "max_size"
	FieldMembers  = "members"
	FieldGroups   = "groups"
	FieldScope    = "scope"
	FieldSelected = "selected"
	FieldName     = "name"

	FieldDevice    = "device"
	FieldTables    = "tables"
	FieldProfiles  = "profiles"
	FieldKind      = "kind"
	FieldSize      = "size"
	FieldActions   = "actions"
	FieldIdle      = "idle"
	FieldImmutable = "immutable"
	FieldUsage    = "usage"

	FieldMode          = "mode"
	FieldEnabled       = "enabled"
	FieldQueryInterval = "query_interval_ms"
	FieldMaxTTL        = "max_ttl_ms"
	FieldMinTTL        = "min_ttl_ms"
)

// request reads typed fields from a Struct. Absent fields read as their
// zero value.
type request struct {
	s *structpb.Struct
}

func (r request) value(name string) *structpb.Value {
	return r.s.GetFields()[name]
}

func (r request) has(name string) bool {
	_, ok := r.s.GetFields()[name]
	return ok
}

func (r request) string(name string) string {
	return r.value(name).GetStringValue()
}

func (r request) bool(name string) bool {
	return r.value(name).GetBoolValue()
}

func (r request) required(name string) (string, error) {
	v := r.string(name)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", bfrt.ErrInvalidArgument, name)
	}
	return v, nil
}

func (r request) uint32(name string) (uint32, error) {
	v := r.value(name)
	if v == nil {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", bfrt.ErrInvalidArgument, name)
	}
	f := n.NumberValue
	if f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s %v is not a 32-bit unsigned integer", bfrt.ErrInvalidArgument, name, f)
	}
	return uint32(f), nil
}

func (r request) strings(name string) ([]string, error) {
	list := r.value(name).GetListValue().GetValues()
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a list of strings", bfrt.ErrInvalidArgument, name)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func (r request) numbers(name string) ([]uint32, error) {
	list := r.value(name).GetListValue().GetValues()
	out := make([]uint32, 0, len(list))
	for _, v := range list {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue < 0 || n.NumberValue > math.MaxUint32 || n.NumberValue != math.Trunc(n.NumberValue) {
			return nil, fmt.Errorf("%w: %s must be a list of 32-bit unsigned integers", bfrt.ErrInvalidArgument, name)
		}
		out = append(out, uint32(n.NumberValue))
	}
	return out, nil
}

// items parses a list of name=value strings.
func (r request) items(name string) ([]entryfmt.Item, error) {
	args, err := r.strings(name)
	if err != nil {
		return nil, err
	}
	return entryfmt.ParseItems(args...)
}

func (r request) target(device uint32) (bfrt.Target, error) {
	s := r.string(FieldTarget)
	if s == "" {
		return bfrt.DeviceTarget(device), nil
	}
	return entryfmt.ParseTarget(s)
}

func (r request) flags() (bfrt.Flags, error) {
	return entryfmt.ParseFlags(r.string(FieldFlags))
}

// itemList renders items as a list value of name=value strings.
func itemList(items []entryfmt.Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.String()
	}
	return out
}

func response(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func empty() (*structpb.Struct, error) {
	return &structpb.Struct{}, nil
}

// toStatus maps an error category onto a gRPC status code. The message
// keeps the full error text.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Unknown
	switch {
	case errors.Is(err, bfrt.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, bfrt.ErrObjectNotFound):
		code = codes.NotFound
	case errors.Is(err, bfrt.ErrNotSupported):
		code = codes.Unimplemented
	case errors.Is(err, bfrt.ErrUnavailable):
		code = codes.Unavailable
	case errors.Is(err, bfrt.ErrUnexpected):
		code = codes.Internal
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
