package metrics

import (
	"time"

	"github.com/cuemby/svnbridge/pkg/repo"
)

// LeaderChecker is implemented by pkg/replication's Node; kept as a narrow
// interface here so this package never imports replication (which would in
// turn pull in the repo+raft stack into every metrics consumer).
type LeaderChecker interface {
	IsLeader() bool
	LagRevisions() uint64
}

// Collector periodically samples a repository's gauges (HEAD, active
// transactions, pack bytes) into the process-wide Prometheus registry. It
// does not collect counters (commits, object puts) — those are incremented
// inline at the call site as the events happen.
type Collector struct {
	repo   *repo.Repository
	leader LeaderChecker
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over repository. leader may be
// nil for a standalone (non-replicated) deployment.
func NewCollector(repository *repo.Repository, leader LeaderChecker) *Collector {
	return &Collector{repo: repository, leader: leader, stopCh: make(chan struct{})}
}

// Start begins collecting metrics on a fixed interval, in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	HeadRevision.Set(float64(c.repo.HeadRevision()))
	ActiveTransactions.Set(float64(c.repo.Txns().Active()))
	PackBytesTotal.Set(float64(c.repo.Store().PackBytes()))

	if c.leader == nil {
		return
	}
	if c.leader.IsLeader() {
		ReplicationIsLeader.Set(1)
	} else {
		ReplicationIsLeader.Set(0)
	}
	ReplicationLagRevisions.Set(float64(c.leader.LagRevisions()))
}
