// Package replication wires a repository into a Raft-replicated cluster:
// every commit's revision-publish act, once published on the local node, is
// also applied through the group's Raft log, and a node joining with empty
// storage pulls a full snapshot from the current leader before taking part
// in the log.
package replication

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config holds the parameters needed to stand a Node up.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Repo     *repo.Repository
}

// Node wraps a *raft.Raft bound to an FSM over Repo, plus the gRPC
// PackTransfer server/client used for full-snapshot catch-up.
type Node struct {
	cfg  Config
	raft *raft.Raft
	fsm  *FSM
}

func raftConfig(nodeID string) *raft.Config {
	c := raft.DefaultConfig()
	c.LocalID = raft.ServerID(nodeID)
	// Tuned for LAN-scale commit-cluster deployments rather than Raft's
	// WAN-conservative defaults: a commit that a client is blocking on
	// should reach quorum in low hundreds of milliseconds, not seconds.
	c.HeartbeatTimeout = 500 * time.Millisecond
	c.ElectionTimeout = 500 * time.Millisecond
	c.LeaderLeaseTimeout = 250 * time.Millisecond
	return c
}

func buildRaft(cfg Config, fsm *FSM) (*raft.Raft, *raft.TCPTransport, error) {
	rc := raftConfig(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("replication: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("replication: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("replication: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("replication: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("replication: create stable store: %w", err)
	}

	r, err := raft.NewRaft(rc, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("replication: create raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap starts a brand-new single-node cluster with cfg.Repo as its
// initial (and, for now, only) member.
func Bootstrap(cfg Config) (*Node, error) {
	fsm := NewFSM(cfg.Repo)
	r, transport, err := buildRaft(cfg, fsm)
	if err != nil {
		return nil, err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr()}},
	}
	if err := r.BootstrapCluster(configuration).Error(); err != nil {
		return nil, fmt.Errorf("replication: bootstrap cluster: %w", err)
	}

	log.Logger.Info().Str("node", cfg.NodeID).Str("addr", cfg.BindAddr).Msg("replication: bootstrapped new cluster")
	return &Node{cfg: cfg, raft: r, fsm: fsm}, nil
}

// Join starts this node's Raft instance and fetches a full snapshot of
// leaderAddr's repository before returning, so the node has content for
// every revision the log might already reference by the time it starts
// applying entries.
func Join(ctx context.Context, cfg Config, leaderAddr string) (*Node, error) {
	fsm := NewFSM(cfg.Repo)
	r, _, err := buildRaft(cfg, fsm)
	if err != nil {
		return nil, err
	}

	if err := FetchSnapshot(ctx, leaderAddr, cfg.Repo); err != nil {
		return nil, fmt.Errorf("replication: initial snapshot from %s: %w", leaderAddr, err)
	}

	log.Logger.Info().Str("node", cfg.NodeID).Str("leader", leaderAddr).Msg("replication: joined cluster, caught up from leader")
	return &Node{cfg: cfg, raft: r, fsm: fsm}, nil
}

// AddVoter admits a new node to the cluster's Raft configuration; call this
// on the current leader once the joining node's own Join has completed its
// snapshot fetch and is ready to receive log entries.
func (n *Node) AddVoter(nodeID, addr string) error {
	return n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// PublishRevision appends a publish_revision entry to the Raft log and
// blocks until it's committed to a quorum; call this after a local commit
// so every replica converges on the same revision -> commit mapping.
func (n *Node) PublishRevision(revision uint64, commitID objectmodel.ObjectID) error {
	data, err := EncodePublishRevision(revision, commitID)
	if err != nil {
		return err
	}
	return n.raft.Apply(data, 10*time.Second).Error()
}

func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

func (n *Node) LeaderAddr() string { return string(n.raft.Leader()) }

// LagRevisions approximates how many committed Raft log entries this node
// has not yet applied to its local FSM, polled by the metrics collector as
// a proxy for replication lag (each publish_revision entry advances HEAD
// by exactly one revision).
func (n *Node) LagRevisions() uint64 {
	last := n.raft.LastIndex()
	applied := n.raft.AppliedIndex()
	if last <= applied {
		return 0
	}
	return last - applied
}

// Shutdown stops the local Raft instance.
func (n *Node) Shutdown() error {
	return n.raft.Shutdown().Error()
}
