// Package replicationpb defines the gRPC service a follower uses to pull a
// full repository snapshot from the current Raft leader when it joins the
// cluster with empty local storage. It is hand-wired against grpc.ServiceDesc
// rather than generated by protoc, reusing the wrapperspb well-known types
// as its wire messages (a string request, a stream of byte chunks) since the
// payload itself is an opaque dump-format byte stream, not a structured
// message that benefits from its own .proto schema.
package replicationpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const packTransferServiceName = "svnbridge.replication.PackTransfer"

// PackTransferServer is implemented by the replication package's gRPC
// server: FetchSnapshot streams the requesting follower a full repository
// dump.
type PackTransferServer interface {
	FetchSnapshot(*wrapperspb.StringValue, PackTransfer_FetchSnapshotServer) error
}

type PackTransfer_FetchSnapshotServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type packTransferFetchSnapshotServer struct{ grpc.ServerStream }

func (x *packTransferFetchSnapshotServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func _PackTransfer_FetchSnapshot_Handler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PackTransferServer).FetchSnapshot(m, &packTransferFetchSnapshotServer{stream})
}

// PackTransfer_ServiceDesc is the service descriptor grpc.Server.RegisterService
// needs; its shape mirrors what protoc-gen-go-grpc would emit for a single
// server-streaming RPC.
var PackTransfer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: packTransferServiceName,
	HandlerType: (*PackTransferServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "FetchSnapshot",
			Handler:       _PackTransfer_FetchSnapshot_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "replicationpb/packtransfer.go",
}

// PackTransferClient is the follower side of the same RPC.
type PackTransferClient interface {
	FetchSnapshot(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (PackTransfer_FetchSnapshotClient, error)
}

type packTransferClient struct {
	cc grpc.ClientConnInterface
}

func NewPackTransferClient(cc grpc.ClientConnInterface) PackTransferClient {
	return &packTransferClient{cc: cc}
}

func (c *packTransferClient) FetchSnapshot(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (PackTransfer_FetchSnapshotClient, error) {
	stream, err := c.cc.NewStream(ctx, &PackTransfer_ServiceDesc.Streams[0], "/"+packTransferServiceName+"/FetchSnapshot", opts...)
	if err != nil {
		return nil, err
	}
	x := &packTransferFetchSnapshotClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type PackTransfer_FetchSnapshotClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type packTransferFetchSnapshotClient struct {
	grpc.ClientStream
}

func (x *packTransferFetchSnapshotClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
