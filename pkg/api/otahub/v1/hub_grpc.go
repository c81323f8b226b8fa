package otahubv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Full method names of the Hub service.
const (
	Hub_Check_FullMethodName         = "/otahub.v1.Hub/Check"
	Hub_StartDownload_FullMethodName = "/otahub.v1.Hub/StartDownload"
	Hub_Pause_FullMethodName         = "/otahub.v1.Hub/Pause"
	Hub_Resume_FullMethodName        = "/otahub.v1.Hub/Resume"
	Hub_Cancel_FullMethodName        = "/otahub.v1.Hub/Cancel"
	Hub_GetState_FullMethodName      = "/otahub.v1.Hub/GetState"
	Hub_WatchState_FullMethodName    = "/otahub.v1.Hub/WatchState"
	Hub_Shutdown_FullMethodName      = "/otahub.v1.Hub/Shutdown"
)

// HubClient is the client API for the Hub service.
type HubClient interface {
	Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*StateResponse, error)
	StartDownload(ctx context.Context, in *StartDownloadRequest, opts ...grpc.CallOption) (*StateResponse, error)
	Pause(ctx context.Context, in *PauseRequest, opts ...grpc.CallOption) (*StateResponse, error)
	Resume(ctx context.Context, in *ResumeRequest, opts ...grpc.CallOption) (*StateResponse, error)
	Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*StateResponse, error)
	GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*StateResponse, error)
	WatchState(ctx context.Context, in *WatchStateRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StateResponse], error)
	Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*ShutdownResponse, error)
}

type hubClient struct {
	cc grpc.ClientConnInterface
}

// NewHubClient returns a HubClient whose calls use the JSON codec.
func NewHubClient(cc grpc.ClientConnInterface) HubClient {
	return &hubClient{cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *hubClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, method, in, out, callOpts(opts)...)
}

func (c *hubClient) Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*StateResponse, error) {
	out := new(StateResponse)
	if err := c.invoke(ctx, Hub_Check_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hubClient) StartDownload(ctx context.Context, in *StartDownloadRequest, opts ...grpc.CallOption) (*StateResponse, error) {
	out := new(StateResponse)
	if err := c.invoke(ctx, Hub_StartDownload_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hubClient) Pause(ctx context.Context, in *PauseRequest, opts ...grpc.CallOption) (*StateResponse, error) {
	out := new(StateResponse)
	if err := c.invoke(ctx, Hub_Pause_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hubClient) Resume(ctx context.Context, in *ResumeRequest, opts ...grpc.CallOption) (*StateResponse, error) {
	out := new(StateResponse)
	if err := c.invoke(ctx, Hub_Resume_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hubClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*StateResponse, error) {
	out := new(StateResponse)
	if err := c.invoke(ctx, Hub_Cancel_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hubClient) GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*StateResponse, error) {
	out := new(StateResponse)
	if err := c.invoke(ctx, Hub_GetState_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hubClient) WatchState(ctx context.Context, in *WatchStateRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StateResponse], error) {
	stream, err := c.cc.NewStream(ctx, &Hub_ServiceDesc.Streams[0], Hub_WatchState_FullMethodName, callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchStateRequest, StateResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *hubClient) Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*ShutdownResponse, error) {
	out := new(ShutdownResponse)
	if err := c.invoke(ctx, Hub_Shutdown_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// HubServer is the server API for the Hub service. Implementations must
// embed UnimplementedHubServer.
type HubServer interface {
	Check(context.Context, *CheckRequest) (*StateResponse, error)
	StartDownload(context.Context, *StartDownloadRequest) (*StateResponse, error)
	Pause(context.Context, *PauseRequest) (*StateResponse, error)
	Resume(context.Context, *ResumeRequest) (*StateResponse, error)
	Cancel(context.Context, *CancelRequest) (*StateResponse, error)
	GetState(context.Context, *GetStateRequest) (*StateResponse, error)
	WatchState(*WatchStateRequest, grpc.ServerStreamingServer[StateResponse]) error
	Shutdown(context.Context, *ShutdownRequest) (*ShutdownResponse, error)
	mustEmbedUnimplementedHubServer()
}

// UnimplementedHubServer answers every method with codes.Unimplemented.
type UnimplementedHubServer struct{}

func (UnimplementedHubServer) Check(context.Context, *CheckRequest) (*StateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Check not implemented")
}

func (UnimplementedHubServer) StartDownload(context.Context, *StartDownloadRequest) (*StateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StartDownload not implemented")
}

func (UnimplementedHubServer) Pause(context.Context, *PauseRequest) (*StateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Pause not implemented")
}

func (UnimplementedHubServer) Resume(context.Context, *ResumeRequest) (*StateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Resume not implemented")
}

func (UnimplementedHubServer) Cancel(context.Context, *CancelRequest) (*StateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Cancel not implemented")
}

func (UnimplementedHubServer) GetState(context.Context, *GetStateRequest) (*StateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetState not implemented")
}

func (UnimplementedHubServer) WatchState(*WatchStateRequest, grpc.ServerStreamingServer[StateResponse]) error {
	return status.Error(codes.Unimplemented, "method WatchState not implemented")
}

func (UnimplementedHubServer) Shutdown(context.Context, *ShutdownRequest) (*ShutdownResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Shutdown not implemented")
}

func (UnimplementedHubServer) mustEmbedUnimplementedHubServer() {}

// RegisterHubServer registers srv on s.
func RegisterHubServer(s grpc.ServiceRegistrar, srv HubServer) {
	s.RegisterService(&Hub_ServiceDesc, srv)
}

// unaryHandler adapts a typed unary method to a grpc.MethodHandler.
func unaryHandler[Req any, Resp any](method string, call func(HubServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(HubServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(HubServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _Hub_WatchState_Handler(srv any, stream grpc.ServerStream) error {
	m := new(WatchStateRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(HubServer).WatchState(m, &grpc.GenericServerStream[WatchStateRequest, StateResponse]{ServerStream: stream})
}

// Hub_ServiceDesc is the grpc.ServiceDesc for the Hub service.
var Hub_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "otahub.v1.Hub",
	HandlerType: (*HubServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: unaryHandler(Hub_Check_FullMethodName, HubServer.Check)},
		{MethodName: "StartDownload", Handler: unaryHandler(Hub_StartDownload_FullMethodName, HubServer.StartDownload)},
		{MethodName: "Pause", Handler: unaryHandler(Hub_Pause_FullMethodName, HubServer.Pause)},
		{MethodName: "Resume", Handler: unaryHandler(Hub_Resume_FullMethodName, HubServer.Resume)},
		{MethodName: "Cancel", Handler: unaryHandler(Hub_Cancel_FullMethodName, HubServer.Cancel)},
		{MethodName: "GetState", Handler: unaryHandler(Hub_GetState_FullMethodName, HubServer.GetState)},
		{MethodName: "Shutdown", Handler: unaryHandler(Hub_Shutdown_FullMethodName, HubServer.Shutdown)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchState",
			Handler:       _Hub_WatchState_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "otahub/v1/hub",
}
