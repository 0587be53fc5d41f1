package replication

import (
	"context"
	"fmt"
	"io"

	"github.com/cuemby/svnbridge/pkg/dump"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/cuemby/svnbridge/pkg/replication/replicationpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// FetchSnapshot dials leaderAddr's SnapshotServer, streams its repository
// dump, and replays it into repository via dump.Load. Used once by a
// joining node before it starts applying the Raft log.
func FetchSnapshot(ctx context.Context, leaderAddr string, repository *repo.Repository) error {
	conn, err := grpc.NewClient(leaderAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("replication: dial %s: %w", leaderAddr, err)
	}
	defer conn.Close()

	client := replicationpb.NewPackTransferClient(conn)
	stream, err := client.FetchSnapshot(ctx, &wrapperspb.StringValue{Value: "snapshot"})
	if err != nil {
		return fmt.Errorf("replication: open snapshot stream: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		var streamErr error
		for {
			chunk, recvErr := stream.Recv()
			if recvErr == io.EOF {
				break
			}
			if recvErr != nil {
				streamErr = recvErr
				break
			}
			if _, writeErr := pw.Write(chunk.Value); writeErr != nil {
				streamErr = writeErr
				break
			}
		}
		pw.CloseWithError(streamErr)
	}()

	if _, err := dump.Load(pr, repository); err != nil {
		return fmt.Errorf("replication: load snapshot: %w", err)
	}
	return nil
}
