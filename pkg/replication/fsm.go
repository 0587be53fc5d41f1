package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/hashicorp/raft"
)

// Command is a single Raft log entry: publishing a revision that some
// manager node already built and durably stored locally. Only the
// revision-assignment/visibility act is replicated through Raft, not the
// object bytes themselves -- those already live in each node's own
// object store once a follower has caught up via FetchSnapshot, and every
// command here only makes sense against a store that already has the
// referenced commit's objects, which is why a new follower always pulls a
// full snapshot before it starts applying the log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const opPublishRevision = "publish_revision"

type publishRevisionPayload struct {
	Revision uint64
	CommitID string
}

// EncodePublishRevision builds the Raft log entry a leader appends after it
// commits a revision locally.
func EncodePublishRevision(revision uint64, commitID objectmodel.ObjectID) ([]byte, error) {
	data, err := json.Marshal(publishRevisionPayload{Revision: revision, CommitID: commitID.String()})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Command{Op: opPublishRevision, Data: data})
}

// FSM applies the replicated revision-publish log against a local
// repository. Unlike the teacher's WarrenFSM (whose storage.Store IS the
// Raft-managed state), svnbridge's object store is durable on its own; the
// FSM only needs to replay "revision N points at commit C" across the
// cluster; see Snapshot/Restore below for the consequence this has on Raft
// log compaction.
type FSM struct {
	repo *repo.Repository
}

func NewFSM(repository *repo.Repository) *FSM {
	return &FSM{repo: repository}
}

func (f *FSM) Apply(entry *raft.Log) any {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("replication: unmarshal command: %w", err)
	}

	switch cmd.Op {
	case opPublishRevision:
		var p publishRevisionPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return fmt.Errorf("replication: unmarshal publish_revision: %w", err)
		}
		commitID, err := objectmodel.ParseObjectID(p.CommitID)
		if err != nil {
			return fmt.Errorf("replication: parse commit id: %w", err)
		}
		if err := f.repo.PublishRevision(context.TODO(), p.Revision, commitID, nil); err != nil {
			log.Logger.Error().Err(err).Uint64("revision", p.Revision).Msg("replication: publish failed")
			return err
		}
		return nil
	default:
		return fmt.Errorf("replication: unknown command %q", cmd.Op)
	}
}

// Snapshot captures only the replication cursor (current HEAD), not object
// content: content durability is the object store's job, and a node that
// falls behind catches up through FetchSnapshot's full dump transfer rather
// than through Raft's own snapshot/restore cycle. This keeps Raft log
// compaction cheap regardless of repository size.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{revision: f.repo.CurrentRev()}, nil
}

// Restore is a no-op beyond logging: the actual revision pointer already
// lives in the repository's own bbolt metadata, restored when the
// repository is opened, not when Raft replays a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap fsmSnapshotData
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("replication: decode snapshot: %w", err)
	}
	log.Logger.Info().Uint64("revision", snap.Revision).Msg("replication: snapshot restored (cursor only, run FetchSnapshot for content)")
	return nil
}

type fsmSnapshotData struct {
	Revision uint64
}

type fsmSnapshot struct {
	revision uint64
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		return json.NewEncoder(sink).Encode(fsmSnapshotData{Revision: s.revision})
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
