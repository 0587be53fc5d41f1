/*
Package log provides structured logging for svnbridge using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("webdav")                  │          │
	│  │  - WithRepo("/svn")                         │          │
	│  │  - WithRevision(42)                         │          │
	│  │  - WithActivity("act-1")                    │          │
	│  │  - WithTxn("txn-1")                         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "webdav",                   │          │
	│  │    "time": "2026-07-30T10:30:00Z",          │          │
	│  │    "message": "commit published"            │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF commit published  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init(), in cmd/svnserved and cmd/svnadmin
  - Accessible from every svnbridge package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information (tree walks, cache hits)
  - Info: General informational messages (commits, server lifecycle)
  - Warn: Warning messages (stale activity cleanup, retried I/O)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add a component field (e.g. "webdav", "replication")
  - WithRepo: Add the repository's mount prefix
  - WithRevision: Add the revision number a log line concerns
  - WithActivity: Add the DeltaV activity id a log line concerns
  - WithTxn: Add the transaction id a log line concerns

# Usage

Initializing the logger:

	import "github.com/cuemby/svnbridge/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development, the cmd binaries' --debug flag)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("repository opened")
	log.Warn("activity timed out, aborting bound transaction")
	log.Error("object decode failed")
	log.Fatal("cannot open repository root") // exits process

Structured logging:

	log.Logger.Info().
		Uint64("revision", rev).
		Str("author", author).
		Msg("commit published")

Component loggers:

	webdavLog := log.WithComponent("webdav")
	webdavLog.Info().Msg("server listening")

	commitLog := log.WithRevision(rev).With().Str("author", author).Logger()
	commitLog.Info().Msg("commit published")

# Integration Points

This package is used by:

  - pkg/repo: repository open/close, commit publication
  - pkg/txn: commit lock acquisition, abort/timeout handling
  - pkg/webdav: per-request method/status, activity lifecycle
  - pkg/replication: Raft bootstrap/join, leadership changes
  - cmd/svnserved, cmd/svnadmin: process lifecycle and CLI errors

# Log Output Examples

JSON Format (production):

	{"level":"info","component":"webdav","revision":1,"time":"2026-07-30T10:30:00Z","message":"commit published"}
	{"level":"warn","component":"txn","txn":"a1b2","time":"2026-07-30T10:30:01Z","message":"activity timed out"}

Console Format (development):

	2026-07-30T10:30:00Z INF commit published component=webdav revision=1
	2026-07-30T10:30:01Z WRN activity timed out component=txn txn=a1b2

# Best Practices

Do:
  - Use Info level for production
  - Tag commit/activity/txn-scoped log lines with the matching With* helper
  - Log errors with .Err() so the error chain is preserved
  - Use Fatal only for unrecoverable startup failures

Don't:
  - Log blob/file contents (may be arbitrarily large or binary)
  - Log secrets (none are handled by this server directly, but any proxied
    auth header must never reach a log line)
  - Use Debug level in production; tree-walk logging is verbose

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
