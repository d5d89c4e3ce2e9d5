package transport

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC full service name, used in every method's
// fully-qualified path ("/sysconfig.SysConfigService/<Method>").
const ServiceName = "sysconfig.SysConfigService"

// SysConfigServiceServer is implemented by pkg/service to handle every
// method in spec.md §4.9.
type SysConfigServiceServer interface {
	RegisterPlugin(context.Context, *RegisterPluginRequest) (*RegisterPluginResponse, error)
	GetState(context.Context, *GetStateRequest) (*GetStateResponse, error)
	ApplyState(context.Context, *ApplyStateRequest) (*ApplyStateResponse, error)
	WatchState(*WatchStateRequest, SysConfigService_WatchStateServer) error
	LockState(context.Context, *LockStateRequest) (*LockStateResponse, error)
	UnlockState(context.Context, *UnlockStateRequest) (*UnlockStateResponse, error)
	ExecuteAction(context.Context, *ExecuteActionRequest) (*ExecuteActionResponse, error)
}

// SysConfigService_WatchStateServer is the server-side stream handle for
// watch_state, matching the shape protoc-gen-go-grpc emits for a
// server-streaming RPC.
type SysConfigService_WatchStateServer interface {
	Send(*StateChangeEvent) error
	grpc.ServerStream
}

type sysConfigServiceWatchStateServer struct {
	grpc.ServerStream
}

func (x *sysConfigServiceWatchStateServer) Send(m *StateChangeEvent) error {
	return x.ServerStream.SendMsg(m)
}

func registerPluginHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterPluginRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SysConfigServiceServer).RegisterPlugin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RegisterPlugin"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SysConfigServiceServer).RegisterPlugin(ctx, req.(*RegisterPluginRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SysConfigServiceServer).GetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SysConfigServiceServer).GetState(ctx, req.(*GetStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func applyStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ApplyStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SysConfigServiceServer).ApplyState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ApplyState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SysConfigServiceServer).ApplyState(ctx, req.(*ApplyStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lockStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LockStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SysConfigServiceServer).LockState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/LockState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SysConfigServiceServer).LockState(ctx, req.(*LockStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unlockStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UnlockStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SysConfigServiceServer).UnlockState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/UnlockState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SysConfigServiceServer).UnlockState(ctx, req.(*UnlockStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func executeActionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteActionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SysConfigServiceServer).ExecuteAction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ExecuteAction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SysConfigServiceServer).ExecuteAction(ctx, req.(*ExecuteActionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchStateHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchStateRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SysConfigServiceServer).WatchState(m, &sysConfigServiceWatchStateServer{stream})
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit from a .proto describing spec.md §6's wire messages.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SysConfigServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterPlugin", Handler: registerPluginHandler},
		{MethodName: "GetState", Handler: getStateHandler},
		{MethodName: "ApplyState", Handler: applyStateHandler},
		{MethodName: "LockState", Handler: lockStateHandler},
		{MethodName: "UnlockState", Handler: unlockStateHandler},
		{MethodName: "ExecuteAction", Handler: executeActionHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchState", Handler: watchStateHandler, ServerStreams: true},
	},
	Metadata: "sysconfig.proto",
}

// RegisterSysConfigServiceServer wires an implementation into a
// grpc.Server, mirroring the generated RegisterXxxServer function.
func RegisterSysConfigServiceServer(s *grpc.Server, srv SysConfigServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SysConfigServiceClient is the client-side stub, matching the shape
// protoc-gen-go-grpc emits.
type SysConfigServiceClient interface {
	RegisterPlugin(ctx context.Context, in *RegisterPluginRequest, opts ...grpc.CallOption) (*RegisterPluginResponse, error)
	GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*GetStateResponse, error)
	ApplyState(ctx context.Context, in *ApplyStateRequest, opts ...grpc.CallOption) (*ApplyStateResponse, error)
	WatchState(ctx context.Context, in *WatchStateRequest, opts ...grpc.CallOption) (SysConfigService_WatchStateClient, error)
	LockState(ctx context.Context, in *LockStateRequest, opts ...grpc.CallOption) (*LockStateResponse, error)
	UnlockState(ctx context.Context, in *UnlockStateRequest, opts ...grpc.CallOption) (*UnlockStateResponse, error)
	ExecuteAction(ctx context.Context, in *ExecuteActionRequest, opts ...grpc.CallOption) (*ExecuteActionResponse, error)
}

type sysConfigServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSysConfigServiceClient wraps a dialed connection (see DialUnix) in
// the typed client stub.
func NewSysConfigServiceClient(cc grpc.ClientConnInterface) SysConfigServiceClient {
	return &sysConfigServiceClient{cc: cc}
}

func (c *sysConfigServiceClient) RegisterPlugin(ctx context.Context, in *RegisterPluginRequest, opts ...grpc.CallOption) (*RegisterPluginResponse, error) {
	out := new(RegisterPluginResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/RegisterPlugin", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sysConfigServiceClient) GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*GetStateResponse, error) {
	out := new(GetStateResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sysConfigServiceClient) ApplyState(ctx context.Context, in *ApplyStateRequest, opts ...grpc.CallOption) (*ApplyStateResponse, error) {
	out := new(ApplyStateResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ApplyState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sysConfigServiceClient) LockState(ctx context.Context, in *LockStateRequest, opts ...grpc.CallOption) (*LockStateResponse, error) {
	out := new(LockStateResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/LockState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sysConfigServiceClient) UnlockState(ctx context.Context, in *UnlockStateRequest, opts ...grpc.CallOption) (*UnlockStateResponse, error) {
	out := new(UnlockStateResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/UnlockState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sysConfigServiceClient) ExecuteAction(ctx context.Context, in *ExecuteActionRequest, opts ...grpc.CallOption) (*ExecuteActionResponse, error) {
	out := new(ExecuteActionResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ExecuteAction", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sysConfigServiceClient) WatchState(ctx context.Context, in *WatchStateRequest, opts ...grpc.CallOption) (SysConfigService_WatchStateClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/WatchState", opts...)
	if err != nil {
		return nil, err
	}
	x := &sysConfigServiceWatchStateClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SysConfigService_WatchStateClient is the client-side stream handle.
type SysConfigService_WatchStateClient interface {
	Recv() (*StateChangeEvent, error)
	grpc.ClientStream
}

type sysConfigServiceWatchStateClient struct {
	grpc.ClientStream
}

func (x *sysConfigServiceWatchStateClient) Recv() (*StateChangeEvent, error) {
	m := new(StateChangeEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
