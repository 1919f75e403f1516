package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-bfrt"
	"github.com/frobware/go-bfrt/entryfmt"
	"github.com/frobware/go-bfrt/server"
)

// remoteClient implements Client over a gRPC connection by translating
// between domain types and the service's Struct messages.
type remoteClient struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
	logger *slog.Logger
}

// newRemote creates a Client connected to the specified address.
func newRemote(address string, logger *slog.Logger) (*remoteClient, error) {
	target := parseAddress(address)

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}

	return &remoteClient{
		conn:   conn,
		closer: conn,
		logger: logger,
	}, nil
}

// parseAddress normalises an address for gRPC.
// Handles Unix socket paths (unix:// prefix or absolute paths starting with /)
// and TCP addresses (host:port).
func parseAddress(address string) string {
	if strings.HasPrefix(address, "unix://") {
		return address
	}
	if strings.HasPrefix(address, "/") {
		return "unix://" + address
	}
	return address
}

// Close releases the gRPC connection.
func (c *remoteClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// call invokes a unary method and returns the decoded response.
func (c *remoteClient) call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s request: %v", bfrt.ErrInvalidArgument, method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.FullMethod(method), in, out); err != nil {
		return nil, translateGRPCError(err)
	}
	return out.AsMap(), nil
}

func (c *remoteClient) Describe(ctx context.Context) (Program, error) {
	resp, err := c.call(ctx, server.MethodDescribe, map[string]any{})
	if err != nil {
		return Program{}, err
	}
	return decodeProgram(resp)
}

func (c *remoteClient) AddEntry(ctx context.Context, table Ref, key, data []entryfmt.Item) (bfrt.EntryHandle, error) {
	req := request(table, server.FieldTable)
	req[server.FieldKey] = itemsValue(key)
	req[server.FieldData] = itemsValue(data)
	resp, err := c.call(ctx, server.MethodAddEntry, req)
	if err != nil {
		return 0, err
	}
	h, err := decodeUint32(resp[server.FieldHandle])
	return bfrt.EntryHandle(h), err
}

func (c *remoteClient) ModifyEntry(ctx context.Context, table Ref, key, data []entryfmt.Item, selected bool) error {
	req := request(table, server.FieldTable)
	req[server.FieldKey] = itemsValue(key)
	req[server.FieldData] = itemsValue(data)
	req[server.FieldSelected] = selected
	_, err := c.call(ctx, server.MethodModifyEntry, req)
	return err
}

func (c *remoteClient) AddOrModifyEntry(ctx context.Context, table Ref, key, data []entryfmt.Item) (bool, error) {
	req := request(table, server.FieldTable)
	req[server.FieldKey] = itemsValue(key)
	req[server.FieldData] = itemsValue(data)
	resp, err := c.call(ctx, server.MethodAddOrModifyEntry, req)
	if err != nil {
		return false, err
	}
	added, _ := resp[server.FieldAdded].(bool)
	return added, nil
}

func (c *remoteClient) DeleteEntry(ctx context.Context, table Ref, key []entryfmt.Item) error {
	req := request(table, server.FieldTable)
	req[server.FieldKey] = itemsValue(key)
	_, err := c.call(ctx, server.MethodDeleteEntry, req)
	return err
}

func (c *remoteClient) GetEntry(ctx context.Context, table Ref, key []entryfmt.Item, fields []string) (Entry, error) {
	req := request(table, server.FieldTable)
	req[server.FieldKey] = itemsValue(key)
	if len(fields) > 0 {
		req[server.FieldFields] = stringsValue(fields)
	}
	resp, err := c.call(ctx, server.MethodGetEntry, req)
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(resp)
}

func (c *remoteClient) GetEntryByHandle(ctx context.Context, table Ref, h bfrt.EntryHandle) (Entry, error) {
	req := request(table, server.FieldTable)
	req[server.FieldHandle] = float64(h)
	resp, err := c.call(ctx, server.MethodGetEntry, req)
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(resp)
}

func (c *remoteClient) GetEntries(ctx context.Context, table Ref, session string, after []entryfmt.Item, count uint32) (Page, error) {
	req := request(table, server.FieldTable)
	if session != "" {
		req[server.FieldSession] = session
	}
	if len(after) > 0 {
		req[server.FieldKey] = itemsValue(after)
	}
	if count > 0 {
		req[server.FieldCount] = float64(count)
	}
	resp, err := c.call(ctx, server.MethodGetEntries, req)
	if err != nil {
		return Page{}, err
	}
	entries, err := decodeEntries(resp[server.FieldEntries])
	if err != nil {
		return Page{}, err
	}
	sess, _ := resp[server.FieldSession].(string)
	return Page{Session: sess, Entries: entries}, nil
}

func (c *remoteClient) ListEntries(ctx context.Context, table Ref) ([]Entry, error) {
	resp, err := c.call(ctx, server.MethodListEntries, request(table, server.FieldTable))
	if err != nil {
		return nil, err
	}
	return decodeEntries(resp[server.FieldEntries])
}

func (c *remoteClient) ClearTable(ctx context.Context, table Ref) error {
	_, err := c.call(ctx, server.MethodClearTable, request(table, server.FieldTable))
	return err
}

func (c *remoteClient) GetDefault(ctx context.Context, table Ref) ([]entryfmt.Item, error) {
	resp, err := c.call(ctx, server.MethodGetDefault, request(table, server.FieldTable))
	if err != nil {
		return nil, err
	}
	return decodeItems(resp[server.FieldData])
}

func (c *remoteClient) SetDefault(ctx context.Context, table Ref, data []entryfmt.Item) error {
	req := request(table, server.FieldTable)
	req[server.FieldData] = itemsValue(data)
	_, err := c.call(ctx, server.MethodSetDefault, req)
	return err
}

func (c *remoteClient) ResetDefault(ctx context.Context, table Ref) error {
	_, err := c.call(ctx, server.MethodResetDefault, request(table, server.FieldTable))
	return err
}

func (c *remoteClient) GetIdle(ctx context.Context, table Ref) (bfrt.IdleConfig, error) {
	resp, err := c.call(ctx, server.MethodGetIdle, request(table, server.FieldTable))
	if err != nil {
		return bfrt.IdleConfig{}, err
	}
	return decodeIdle(resp)
}

func (c *remoteClient) SetIdle(ctx context.Context, table Ref, cfg bfrt.IdleConfig) error {
	_, err := c.call(ctx, server.MethodSetIdle, idleRequest(request(table, server.FieldTable), cfg))
	return err
}

// WatchIdle streams timeouts until ctx is done. A cancelled ctx ends
// the watch without error.
func (c *remoteClient) WatchIdle(ctx context.Context, table Ref, cfg bfrt.IdleConfig, fn func(IdleTimeout)) error {
	in, err := structpb.NewStruct(idleRequest(request(table, server.FieldTable), cfg))
	if err != nil {
		return fmt.Errorf("%w: encode watch request: %v", bfrt.ErrInvalidArgument, err)
	}
	stream, err := c.conn.NewStream(ctx, &server.WatchIdleStream, server.FullMethod(server.MethodWatchIdle))
	if err != nil {
		return translateGRPCError(err)
	}
	if err := stream.SendMsg(in); err != nil {
		return translateGRPCError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return translateGRPCError(err)
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || (ctx.Err() != nil && status.Code(err) == codes.Canceled) {
				return nil
			}
			return translateGRPCError(err)
		}
		m := msg.AsMap()
		key, err := decodeItems(m[server.FieldKey])
		if err != nil {
			return err
		}
		to := IdleTimeout{Key: key}
		to.Table, _ = m[server.FieldTable].(string)
		to.Target, _ = m[server.FieldTarget].(string)
		fn(to)
	}
}

func (c *remoteClient) GetScope(ctx context.Context, table Ref) (bfrt.EntryScope, error) {
	resp, err := c.call(ctx, server.MethodGetScope, request(table, server.FieldTable))
	if err != nil {
		return 0, err
	}
	name, _ := resp[server.FieldScope].(string)
	scope, ok := bfrt.ParseEntryScope(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown entry scope %q", bfrt.ErrUnexpected, name)
	}
	return scope, nil
}

func (c *remoteClient) SetScope(ctx context.Context, table Ref, scope bfrt.EntryScope) error {
	req := request(table, server.FieldTable)
	req[server.FieldScope] = scope.String()
	_, err := c.call(ctx, server.MethodSetScope, req)
	return err
}

func (c *remoteClient) AddMember(ctx context.Context, profile Ref, id bfrt.MemberID, data []entryfmt.Item) (bfrt.EntryHandle, error) {
	req := request(profile, server.FieldProfile)
	req[server.FieldID] = float64(id)
	req[server.FieldData] = itemsValue(data)
	resp, err := c.call(ctx, server.MethodAddMember, req)
	if err != nil {
		return 0, err
	}
	h, err := decodeUint32(resp[server.FieldHandle])
	return bfrt.EntryHandle(h), err
}

func (c *remoteClient) DeleteMember(ctx context.Context, profile Ref, id bfrt.MemberID) error {
	req := request(profile, server.FieldProfile)
	req[server.FieldID] = float64(id)
	_, err := c.call(ctx, server.MethodDeleteMember, req)
	return err
}

func (c *remoteClient) GetMember(ctx context.Context, profile Ref, id bfrt.MemberID) ([]entryfmt.Item, error) {
	req := request(profile, server.FieldProfile)
	req[server.FieldID] = float64(id)
	resp, err := c.call(ctx, server.MethodGetMember, req)
	if err != nil {
		return nil, err
	}
	return decodeItems(resp[server.FieldData])
}

func (c *remoteClient) ListMembers(ctx context.Context, profile Ref) ([]bfrt.MemberID, error) {
	resp, err := c.call(ctx, server.MethodListMembers, request(profile, server.FieldProfile))
	if err != nil {
		return nil, err
	}
	return decodeMembers(resp[server.FieldMembers])
}

func (c *remoteClient) AddGroup(ctx context.Context, selector Ref, id bfrt.GroupID, maxSize uint32, members []bfrt.MemberID) (bfrt.EntryHandle, error) {
	req := request(selector, server.FieldSelector)
	req[server.FieldID] = float64(id)
	req[server.FieldMaxSize] = float64(maxSize)
	if len(members) > 0 {
		req[server.FieldMembers] = membersValue(members)
	}
	resp, err := c.call(ctx, server.MethodAddGroup, req)
	if err != nil {
		return 0, err
	}
	h, err := decodeUint32(resp[server.FieldHandle])
	return bfrt.EntryHandle(h), err
}

func (c *remoteClient) SetGroupMembers(ctx context.Context, selector Ref, id bfrt.GroupID, members []bfrt.MemberID) error {
	req := request(selector, server.FieldSelector)
	req[server.FieldID] = float64(id)
	req[server.FieldMembers] = membersValue(members)
	_, err := c.call(ctx, server.MethodSetGroupMembers, req)
	return err
}

func (c *remoteClient) DeleteGroup(ctx context.Context, selector Ref, id bfrt.GroupID) error {
	req := request(selector, server.FieldSelector)
	req[server.FieldID] = float64(id)
	_, err := c.call(ctx, server.MethodDeleteGroup, req)
	return err
}

func (c *remoteClient) ListGroups(ctx context.Context, selector Ref) ([]bfrt.Group, error) {
	resp, err := c.call(ctx, server.MethodListGroups, request(selector, server.FieldSelector))
	if err != nil {
		return nil, err
	}
	return decodeGroups(resp[server.FieldGroups])
}

func (c *remoteClient) Usage(ctx context.Context, table Ref) (uint32, error) {
	resp, err := c.call(ctx, server.MethodUsage, request(table, server.FieldTable))
	if err != nil {
		return 0, err
	}
	return decodeUint32(resp[server.FieldUsage])
}

func (c *remoteClient) AllUsage(ctx context.Context) (map[string]uint32, error) {
	resp, err := c.call(ctx, server.MethodUsage, map[string]any{})
	if err != nil {
		return nil, err
	}
	m, _ := resp[server.FieldUsage].(map[string]any)
	out := make(map[string]uint32, len(m))
	for name, v := range m {
		n, err := decodeUint32(v)
		if err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}

// remoteError carries the server's message and the error category its
// status code stands for.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// translateGRPCError maps a status code back onto the error category
// the server reported, so callers can use errors.Is with the bfrt
// sentinels on either transport.
func translateGRPCError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var kind error
	switch st.Code() {
	case codes.InvalidArgument:
		kind = bfrt.ErrInvalidArgument
	case codes.NotFound:
		kind = bfrt.ErrObjectNotFound
	case codes.Unimplemented:
		kind = bfrt.ErrNotSupported
	case codes.Unavailable:
		kind = bfrt.ErrUnavailable
	case codes.Internal:
		kind = bfrt.ErrUnexpected
	case codes.Canceled:
		kind = context.Canceled
	case codes.DeadlineExceeded:
		kind = context.DeadlineExceeded
	default:
		return err
	}
	return &remoteError{kind: kind, msg: st.Message()}
}
