package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service every table operation is served
// under. Requests and responses are google.protobuf.Struct messages;
// keys and data travel in their entryfmt text form.
const ServiceName = "bfrt.v1.Tables"

// Method names of the Tables service.
const (
	MethodDescribe         = "Describe"
	MethodAddEntry         = "AddEntry"
	MethodModifyEntry      = "ModifyEntry"
	MethodAddOrModifyEntry = "AddOrModifyEntry"
	MethodDeleteEntry      = "DeleteEntry"
	MethodGetEntry         = "GetEntry"
	MethodGetEntries       = "GetEntries"
	MethodListEntries      = "ListEntries"
	MethodClearTable       = "ClearTable"
	MethodGetDefault       = "GetDefault"
	MethodSetDefault       = "SetDefault"
	MethodResetDefault     = "ResetDefault"
	MethodGetIdle          = "GetIdle"
	MethodSetIdle          = "SetIdle"
	MethodGetScope         = "GetScope"
	MethodSetScope         = "SetScope"
	MethodAddMember        = "AddMember"
	MethodDeleteMember     = "DeleteMember"
	MethodGetMember        = "GetMember"
	MethodListMembers      = "ListMembers"
	MethodAddGroup         = "AddGroup"
	MethodSetGroupMembers  = "SetGroupMembers"
	MethodDeleteGroup      = "DeleteGroup"
	MethodListGroups       = "ListGroups"
	MethodUsage            = "Usage"
	MethodWatchIdle        = "WatchIdle"
)

// FullMethod returns the gRPC path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// TablesServer is the handler type registered for the service.
type TablesServer interface {
	isTablesServer()
}

func (*Server) isTablesServer() {}

type unaryFunc func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(*Server), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// WatchIdleStream describes the server-streaming WatchIdle method.
var WatchIdleStream = grpc.StreamDesc{
	StreamName:    MethodWatchIdle,
	ServerStreams: true,
	Handler: func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return srv.(*Server).watchIdle(in, stream)
	},
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TablesServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodDescribe, (*Server).describe),
		unary(MethodAddEntry, (*Server).addEntry),
		unary(MethodModifyEntry, (*Server).modifyEntry),
		unary(MethodAddOrModifyEntry, (*Server).addOrModifyEntry),
		unary(MethodDeleteEntry, (*Server).deleteEntry),
		unary(MethodGetEntry, (*Server).getEntry),
		unary(MethodGetEntries, (*Server).getEntries),
		unary(MethodListEntries, (*Server).listEntries),
		unary(MethodClearTable, (*Server).clearTable),
		unary(MethodGetDefault, (*Server).getDefault),
		unary(MethodSetDefault, (*Server).setDefault),
		unary(MethodResetDefault, (*Server).resetDefault),
		unary(MethodGetIdle, (*Server).getIdle),
		unary(MethodSetIdle, (*Server).setIdle),
		unary(MethodGetScope, (*Server).getScope),
		unary(MethodSetScope, (*Server).setScope),
		unary(MethodAddMember, (*Server).addMember),
		unary(MethodDeleteMember, (*Server).deleteMember),
		unary(MethodGetMember, (*Server).getMember),
		unary(MethodListMembers, (*Server).listMembers),
		unary(MethodAddGroup, (*Server).addGroup),
		unary(MethodSetGroupMembers, (*Server).setGroupMembers),
		unary(MethodDeleteGroup, (*Server).deleteGroup),
		unary(MethodListGroups, (*Server).listGroups),
		unary(MethodUsage, (*Server).usage),
	},
	Streams:  []grpc.StreamDesc{WatchIdleStream},
	Metadata: "bfrt/v1/tables.proto",
}

// Register adds the Tables service to a gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}
