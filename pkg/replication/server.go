package replication

import (
	"fmt"
	"io"
	"net"

	"github.com/cuemby/svnbridge/pkg/dump"
	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/cuemby/svnbridge/pkg/replication/replicationpb"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const snapshotChunkSize = 256 * 1024

// SnapshotServer implements replicationpb.PackTransferServer: it serializes
// the local repository with pkg/dump's Dump and streams the bytes to a
// catching-up follower, chunked rather than buffered whole in memory.
type SnapshotServer struct {
	repo *repo.Repository
	grpc *grpc.Server
}

// NewSnapshotServer builds the gRPC server for repository, optionally over
// TLS (creds may be nil for a plaintext cluster-internal network).
func NewSnapshotServer(repository *repo.Repository, opts ...grpc.ServerOption) *SnapshotServer {
	s := &SnapshotServer{repo: repository, grpc: grpc.NewServer(opts...)}
	s.grpc.RegisterService(&replicationpb.PackTransfer_ServiceDesc, s)
	return s
}

func (s *SnapshotServer) FetchSnapshot(_ *wrapperspb.StringValue, stream replicationpb.PackTransfer_FetchSnapshotServer) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(dump.Dump(pw, s.repo))
	}()

	buf := make([]byte, snapshotChunkSize)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			if sendErr := stream.Send(&wrapperspb.BytesValue{Value: append([]byte(nil), buf[:n]...)}); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("replication: dump repository: %w", err)
		}
	}
}

// Serve blocks accepting connections on addr until the listener errors or
// Stop is called.
func (s *SnapshotServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("replication: listen %s: %w", addr, err)
	}
	log.Logger.Info().Str("addr", addr).Msg("replication: snapshot server listening")
	return s.grpc.Serve(lis)
}

func (s *SnapshotServer) Stop() {
	s.grpc.GracefulStop()
}
