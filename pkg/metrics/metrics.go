package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repository metrics
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "svnbridge_commits_total",
			Help: "Total number of revisions committed",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "svnbridge_commit_duration_seconds",
			Help:    "Time taken to commit a transaction, from lock acquisition to visibility",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "svnbridge_active_transactions",
			Help: "Number of open or committing transactions tracked by the transaction manager",
		},
	)

	HeadRevision = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "svnbridge_head_revision",
			Help: "Current HEAD revision number",
		},
	)

	// Object store metrics
	ObjectsPutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svnbridge_objects_put_total",
			Help: "Total number of objects written to the object store, by kind",
		},
		[]string{"kind"},
	)

	ObjectsGetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svnbridge_objects_get_total",
			Help: "Total number of object store reads, by tier (hot or warm) and outcome",
		},
		[]string{"tier", "outcome"},
	)

	PackBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "svnbridge_pack_bytes_total",
			Help: "Total compressed bytes held in warm-tier pack files",
		},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "svnbridge_compaction_duration_seconds",
			Help:    "Time taken to promote hot-tier objects into a warm-tier pack",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WebDAV / protocol metrics
	WebDAVRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svnbridge_webdav_requests_total",
			Help: "Total number of WebDAV/DeltaV requests by method and status",
		},
		[]string{"method", "status"},
	)

	WebDAVRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "svnbridge_webdav_request_duration_seconds",
			Help:    "WebDAV/DeltaV request duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ActiveActivities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "svnbridge_active_activities",
			Help: "Number of open activities tracked by the protocol layer",
		},
	)

	// Dump loader metrics
	DumpRevisionsLoaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "svnbridge_dump_revisions_loaded_total",
			Help: "Total number of revisions replayed from an SVN dump stream",
		},
	)

	// Replication metrics
	ReplicationIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "svnbridge_replication_is_leader",
			Help: "Whether this node is the Raft replication leader (1 = leader, 0 = follower)",
		},
	)

	ReplicationLagRevisions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "svnbridge_replication_lag_revisions",
			Help: "Approximate number of Raft log entries applied behind the leader",
		},
	)
)

func init() {
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(ActiveTransactions)
	prometheus.MustRegister(HeadRevision)
	prometheus.MustRegister(ObjectsPutTotal)
	prometheus.MustRegister(ObjectsGetTotal)
	prometheus.MustRegister(PackBytesTotal)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(WebDAVRequestsTotal)
	prometheus.MustRegister(WebDAVRequestDuration)
	prometheus.MustRegister(ActiveActivities)
	prometheus.MustRegister(DumpRevisionsLoaded)
	prometheus.MustRegister(ReplicationIsLeader)
	prometheus.MustRegister(ReplicationLagRevisions)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
