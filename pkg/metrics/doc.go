/*
Package metrics provides Prometheus metrics collection and exposition plus
process health/readiness/liveness endpoints for svnbridge.

Metrics are defined and registered once at package init, updated inline at
call sites (counters, histograms) or polled on an interval by a Collector
(gauges over repository state), and exposed on an HTTP endpoint for
scraping by Prometheus.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Repository: commits, HEAD, active txns     │          │
	│  │  Object store: puts/gets, pack bytes        │          │
	│  │  WebDAV: request count, duration, activities│          │
	│  │  Dump loader: revisions replayed            │          │
	│  │  Replication: leader status, lag            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Collector (polling)              │          │
	│  │  - Every 15s: HEAD, active txns, pack bytes │          │
	│  │  - Every 15s: replication leader/lag        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Endpoints                     │          │
	│  │  - /metrics: Prometheus text exposition     │          │
	│  │  - /health, /ready, /live: JSON status      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Repository:
  - svnbridge_commits_total (Counter): revisions committed
  - svnbridge_commit_duration_seconds (Histogram): lock-to-visibility latency
  - svnbridge_active_transactions (Gauge): open/committing transactions
  - svnbridge_head_revision (Gauge): current HEAD

Object store:
  - svnbridge_objects_put_total{kind} (Counter): objects written by kind
  - svnbridge_objects_get_total{tier,outcome} (Counter): reads by tier/outcome
  - svnbridge_pack_bytes_total (Gauge): compressed warm-tier size
  - svnbridge_compaction_duration_seconds (Histogram): hot->warm promotion time

WebDAV / protocol:
  - svnbridge_webdav_requests_total{method,status} (Counter)
  - svnbridge_webdav_request_duration_seconds{method} (Histogram)
  - svnbridge_active_activities (Gauge): open DeltaV activities

Dump loader:
  - svnbridge_dump_revisions_loaded_total (Counter)

Replication:
  - svnbridge_replication_is_leader (Gauge): 1 if this node is Raft leader
  - svnbridge_replication_lag_revisions (Gauge): applied-index lag

# Usage

Updating counters and histograms inline:

	metrics.CommitsTotal.Inc()
	metrics.ObjectsPutTotal.WithLabelValues("blob").Inc()

	timer := metrics.NewTimer()
	rev, err := repository.Commit(ctx, author, message, ts)
	timer.ObserveDuration(metrics.CommitDuration)

Polling gauges with a Collector:

	collector := metrics.NewCollector(repository, replicationNode)
	collector.Start()
	defer collector.Stop()

Exposing the endpoints:

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

# Health and Readiness

RegisterComponent/UpdateComponent track named components ("objectstore",
"webdav", and optionally "replication"); GetReadiness treats "objectstore"
and "webdav" as critical — the server isn't ready to serve DAV traffic
until both report healthy.

# Design Patterns

Package Init Registration: all metrics registered in init(); MustRegister
panics on duplicate registration, catching a typo'd re-declaration at
process start rather than silently dropping a metric.

Label Discipline: labels are low-cardinality (method, status, kind, tier) —
never a revision number, path, or transaction id.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
