// Command svnserved hosts one repository behind the WebDAV/DeltaV protocol
// layer: it owns process lifecycle, TLS termination, and (optionally) the
// Raft replication wire, and consumes the repository façade and protocol
// layer as a collaborator the way the out-of-scope HTTP shell described in
// spec.md §1 would.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/metrics"
	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/cuemby/svnbridge/pkg/replication"
	"github.com/cuemby/svnbridge/pkg/webdav"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "svnserved",
	Short:   "svnserved - Subversion-compatible WebDAV/DeltaV server",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"svnserved version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	debug, _ := startCmd.Flags().GetBool("debug")
	if debug {
		level = "debug"
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the WebDAV/DeltaV server over a repository",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("repo-root", "", "Repository root directory (required)")
	startCmd.Flags().String("addr", ":8080", "Address to listen on")
	startCmd.Flags().String("prefix", "/svn", "URL mount prefix")
	startCmd.Flags().Bool("tls", false, "Serve over TLS")
	startCmd.Flags().String("cert-file", "", "TLS certificate file (required with --tls)")
	startCmd.Flags().String("key-file", "", "TLS private key file (required with --tls)")
	startCmd.Flags().Bool("debug", false, "Enable debug logging")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for /metrics, /health, /ready, /live")

	startCmd.Flags().String("cluster-node-id", "", "Enable Raft replication with this node id")
	startCmd.Flags().String("cluster-bind-addr", "127.0.0.1:8300", "Raft bind address")
	startCmd.Flags().String("cluster-data-dir", "", "Raft log/snapshot directory (defaults under --repo-root)")
	startCmd.Flags().String("cluster-snapshot-addr", "127.0.0.1:8301", "gRPC address serving full-repository snapshots to joining followers")
	startCmd.Flags().String("cluster-join", "", "Snapshot address of an existing leader to join, instead of bootstrapping a new cluster")

	_ = startCmd.MarkFlagRequired("repo-root")
}

func runStart(cmd *cobra.Command, _ []string) error {
	repoRoot, _ := cmd.Flags().GetString("repo-root")
	addr, _ := cmd.Flags().GetString("addr")
	prefix, _ := cmd.Flags().GetString("prefix")
	useTLS, _ := cmd.Flags().GetBool("tls")
	certFile, _ := cmd.Flags().GetString("cert-file")
	keyFile, _ := cmd.Flags().GetString("key-file")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	repository, err := repo.Open(repoRoot)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repository.Close()

	log.Logger.Info().Str("repo_root", repoRoot).Uint64("head", repository.HeadRevision()).Msg("repository opened")

	node, err := maybeJoinCluster(cmd, repository)
	if err != nil {
		return err
	}
	if node != nil {
		defer node.Shutdown()
	}

	metrics.RegisterComponent("objectstore", true, "ready")
	metrics.RegisterComponent("webdav", false, "starting")
	metrics.SetVersion(Version)
	collector := metrics.NewCollector(repository, node)
	collector.Start()
	defer collector.Stop()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	server := webdav.NewServer(repository, prefix)
	metrics.RegisterComponent("webdav", true, "ready")

	errCh := make(chan error, 1)
	go func() {
		if useTLS {
			errCh <- serveTLS(server, addr, certFile, keyFile)
		} else {
			errCh <- server.Start(addr)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}

// serveTLS mirrors webdav.Server.Start but terminates TLS directly, since
// Server.Start only knows plaintext http.ListenAndServe.
func serveTLS(server *webdav.Server, addr, certFile, keyFile string) error {
	if certFile == "" || keyFile == "" {
		return fmt.Errorf("--cert-file and --key-file are required with --tls")
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 30 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}
	log.Logger.Info().Str("addr", addr).Msg("webdav server listening (tls)")
	if err := httpServer.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webdav: serve tls: %w", err)
	}
	return nil
}

// maybeJoinCluster wires Raft replication when --cluster-node-id is set:
// it bootstraps a new single-node cluster, or joins an existing one by
// fetching a full snapshot from --cluster-join first. Returns nil, nil for
// a standalone (non-replicated) deployment.
func maybeJoinCluster(cmd *cobra.Command, repository *repo.Repository) (*replication.Node, error) {
	nodeID, _ := cmd.Flags().GetString("cluster-node-id")
	if nodeID == "" {
		return nil, nil
	}

	bindAddr, _ := cmd.Flags().GetString("cluster-bind-addr")
	dataDir, _ := cmd.Flags().GetString("cluster-data-dir")
	if dataDir == "" {
		repoRoot, _ := cmd.Flags().GetString("repo-root")
		dataDir = repoRoot + "/raft"
	}
	snapshotAddr, _ := cmd.Flags().GetString("cluster-snapshot-addr")
	joinAddr, _ := cmd.Flags().GetString("cluster-join")

	cfg := replication.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir, Repo: repository}

	var node *replication.Node
	var err error
	if joinAddr == "" {
		node, err = replication.Bootstrap(cfg)
	} else {
		node, err = replication.Join(context.Background(), cfg, joinAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("cluster setup: %w", err)
	}

	repository.Txns().SetPublishHook(func(_ context.Context, revision uint64, commitID objectmodel.ObjectID) error {
		return node.PublishRevision(revision, commitID)
	})

	snapshotServer := replication.NewSnapshotServer(repository)
	go func() {
		if err := snapshotServer.Serve(snapshotAddr); err != nil {
			log.Logger.Error().Err(err).Msg("snapshot server error")
		}
	}()

	return node, nil
}
