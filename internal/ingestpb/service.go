package ingestpb

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ingestpb.IngestService"

// IngestServiceServer is implemented by whatever terminates the ingest
// stream (the real cloud service in production; a fake server in
// tests — see internal/ingest's test helpers).
type IngestServiceServer interface {
	Stream(IngestService_StreamServer) error
}

// IngestService_StreamServer is the server-side view of the
// bidirectional batch/ack stream.
type IngestService_StreamServer interface {
	Send(*Ack) error
	Recv() (*Batch, error)
	Context() context.Context
}

// ServiceDesc registers the Stream method by hand, in place of
// protoc-gen-go-grpc's generated descriptor, so the service can be
// served without a .proto build step (see wire.go's package doc).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ingestpb/service.go",
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(IngestServiceServer).Stream(&serverStreamAdapter{stream})
}

type serverStreamAdapter struct {
	grpc.ServerStream
}

func (s *serverStreamAdapter) Send(ack *Ack) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *serverStreamAdapter) Recv() (*Batch, error) {
	b := new(Batch)
	if err := s.ServerStream.RecvMsg(b); err != nil {
		return nil, err
	}
	return b, nil
}

// IngestServiceClient is the client-side view used by
// internal/ingest.Manager.
type IngestServiceClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (IngestService_StreamClient, error)
}

// IngestService_StreamClient is the client-side stream handle.
type IngestService_StreamClient interface {
	Send(*Batch) error
	Recv() (*Ack, error)
	CloseSend() error
	Context() context.Context
}

type client struct {
	cc *grpc.ClientConn
}

// NewClient builds an IngestServiceClient bound to cc, always selecting
// the ingestpb wire codec for this service's calls.
func NewClient(cc *grpc.ClientConn) IngestServiceClient {
	return &client{cc: cc}
}

func (c *client) Stream(ctx context.Context, opts ...grpc.CallOption) (IngestService_StreamClient, error) {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	desc := &grpc.StreamDesc{StreamName: "Stream", ServerStreams: true, ClientStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, "/"+ServiceName+"/Stream", opts...)
	if err != nil {
		return nil, err
	}
	return &clientStreamAdapter{stream}, nil
}

type clientStreamAdapter struct {
	grpc.ClientStream
}

func (s *clientStreamAdapter) Send(b *Batch) error {
	return s.ClientStream.SendMsg(b)
}

func (s *clientStreamAdapter) Recv() (*Ack, error) {
	a := new(Ack)
	if err := s.ClientStream.RecvMsg(a); err != nil {
		return nil, err
	}
	return a, nil
}
