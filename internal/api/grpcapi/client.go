package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the output service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Switch(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	return c.invoke(ctx, "Switch", fields)
}

func (c *Client) GetState(ctx context.Context, outputID string) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetState", map[string]any{"output_id": outputID})
}

func (c *Client) ListStates(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListStates", map[string]any{})
}

// TransitionStream receives transitions from StreamTransitions.
type TransitionStream struct {
	stream grpc.ClientStream
}

func (s *TransitionStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StreamTransitions(ctx context.Context, outputIDs ...string) (*TransitionStream, error) {
	ids := make([]any, 0, len(outputIDs))
	for _, id := range outputIDs {
		ids = append(ids, id)
	}
	in, err := structpb.NewStruct(map[string]any{"output_ids": ids})
	if err != nil {
		return nil, err
	}

	stream, err := c.cc.NewStream(ctx, &OutputServiceDesc.Streams[0], "/"+serviceName+"/StreamTransitions")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &TransitionStream{stream: stream}, nil
}
