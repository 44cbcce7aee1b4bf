package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "openoutputcore.v1.OutputService"

// OutputServiceServer is the server API of the output service. Messages are
// google.protobuf.Struct documents.
type OutputServiceServer interface {
	Switch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListStates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamTransitions(req *structpb.Struct, stream grpc.ServerStream) error
}

// RegisterOutputServiceServer registers srv with s.
func RegisterOutputServiceServer(s grpc.ServiceRegistrar, srv OutputServiceServer) {
	s.RegisterService(&OutputServiceDesc, srv)
}

type unaryMethod func(srv OutputServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OutputServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(OutputServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamTransitionsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OutputServiceServer).StreamTransitions(in, stream)
}

var OutputServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OutputServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Switch", OutputServiceServer.Switch),
		unaryHandler("GetState", OutputServiceServer.GetState),
		unaryHandler("ListStates", OutputServiceServer.ListStates),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTransitions",
			Handler:       streamTransitionsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "openoutputcore/v1/output.proto",
}
