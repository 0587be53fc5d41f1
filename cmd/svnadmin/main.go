// Command svnadmin is the repository operator tool: create, bulk
// load/dump, revision-property maintenance, and a history-graph export,
// mirroring the subset of the real svnadmin CLI that spec.md §6 calls for.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/cuemby/svnbridge/pkg/dump"
	"github.com/cuemby/svnbridge/pkg/log"
	"github.com/cuemby/svnbridge/pkg/objectmodel"
	"github.com/cuemby/svnbridge/pkg/props"
	"github.com/cuemby/svnbridge/pkg/repo"
	"github.com/emicklei/dot"
	"github.com/goccy/go-graphviz"
	"github.com/spf13/cobra"
)

var (
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
	Use:     "svnadmin",
	Short:   "svnadmin - repository administration for svnbridge",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"svnadmin version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(func() {
		jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
		log.Init(log.Config{Level: log.InfoLevel, JSONOutput: jsonOut})
	})

	rootCmd.AddCommand(initCmd, loadCmd, dumpCmd, setRevPropCmd, graphCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Create a new repository at path",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		repository, err := repo.Open(args[0])
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		defer repository.Close()
		fmt.Printf("Repository created at %s, HEAD revision %d\n", args[0], repository.HeadRevision())
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <repo-path>",
	Short: "Load a dump stream into a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	loadCmd.Flags().String("file", "-", "Dump file to read ('-' for stdin)")
}

func runLoad(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")

	repository, err := repo.Open(args[0])
	if err != nil {
		return fmt.Errorf("load: open repository: %w", err)
	}
	defer repository.Close()

	var in *os.File
	if file == "-" {
		in = os.Stdin
	} else {
		in, err = os.Open(file)
		if err != nil {
			return fmt.Errorf("load: open dump file: %w", err)
		}
		defer in.Close()
	}

	before := repository.HeadRevision()
	head, err := dump.Load(bufio.NewReader(in), repository)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	fmt.Printf("Loaded %d revisions, HEAD now %d\n", head-before, head)
	return nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump <repo-path>",
	Short: "Dump a repository to a dump stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().String("output", "-", "Output file ('-' for stdout)")
}

func runDump(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	repository, err := repo.Open(args[0])
	if err != nil {
		return fmt.Errorf("dump: open repository: %w", err)
	}
	defer repository.Close()

	var out *os.File
	if output == "-" {
		out = os.Stdout
	} else {
		out, err = os.Create(output)
		if err != nil {
			return fmt.Errorf("dump: create output file: %w", err)
		}
		defer out.Close()
	}

	w := bufio.NewWriter(out)
	if err := dump.Dump(w, repository); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	return w.Flush()
}

var setRevPropCmd = &cobra.Command{
	Use:   "setrevprop <repo-path>",
	Short: "Set a revision property",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetRevProp,
}

func init() {
	setRevPropCmd.Flags().Uint64P("revision", "r", 0, "Revision number (required)")
	setRevPropCmd.Flags().StringP("name", "n", "", "Property name (required)")
	setRevPropCmd.Flags().StringP("value", "v", "", "Property value (required)")
	_ = setRevPropCmd.MarkFlagRequired("revision")
	_ = setRevPropCmd.MarkFlagRequired("name")
	_ = setRevPropCmd.MarkFlagRequired("value")
}

func runSetRevProp(cmd *cobra.Command, args []string) error {
	revision, _ := cmd.Flags().GetUint64("revision")
	name, _ := cmd.Flags().GetString("name")
	value, _ := cmd.Flags().GetString("value")

	repository, err := repo.Open(args[0])
	if err != nil {
		return fmt.Errorf("setrevprop: open repository: %w", err)
	}
	defer repository.Close()

	if revision > repository.HeadRevision() {
		return fmt.Errorf("setrevprop: revision %d does not exist (HEAD is %d)", revision, repository.HeadRevision())
	}

	subject := fmt.Sprintf("%d", revision)
	if err := repository.Props().Set(props.ScopeRevision, subject, name, value); err != nil {
		return fmt.Errorf("setrevprop: %w", err)
	}
	fmt.Printf("Set r%d %s = %q\n", revision, name, value)
	return nil
}

var graphCmd = &cobra.Command{
	Use:   "graph <repo-path>",
	Short: "Render the commit history as a graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	graphCmd.Flags().String("output", "history.dot", "Output file path")
	graphCmd.Flags().String("format", "dot", "Output format: dot, png, or svg")
	graphCmd.Flags().Int("limit", 0, "Limit to the most recent N revisions (0 = all)")
}

// runGraph walks the commit chain via repo.Log and renders it as a
// directed graph, one node per revision and one edge per parent link. Dot
// source is written as-is; png/svg go through goccy/go-graphviz's renderer.
func runGraph(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	limit, _ := cmd.Flags().GetInt("limit")

	repository, err := repo.Open(args[0])
	if err != nil {
		return fmt.Errorf("graph: open repository: %w", err)
	}
	defer repository.Close()

	entries, err := repository.Log(0, limit)
	if err != nil {
		return fmt.Errorf("graph: %w", err)
	}

	g := dot.NewGraph(dot.Directed)
	nodes := make(map[uint64]dot.Node, len(entries))
	byCommitID := make(map[objectmodel.ObjectID]uint64, len(entries))
	for _, e := range entries {
		label := fmt.Sprintf("r%d\\n%s\\n%s", e.Revision, e.Commit.Author, truncate(e.Commit.Message, 40))
		nodes[e.Revision] = g.Node(label)
		byCommitID[e.Commit.ID()] = e.Revision
	}
	for _, e := range entries {
		for _, parentID := range e.Commit.Parents {
			parentRev, ok := byCommitID[parentID]
			if !ok {
				continue
			}
			g.Edge(nodes[parentRev], nodes[e.Revision])
		}
	}

	if format == "dot" {
		if err := os.WriteFile(output, []byte(g.String()), 0644); err != nil {
			return fmt.Errorf("graph: write dot file: %w", err)
		}
		fmt.Printf("Wrote %d revisions to %s\n", len(entries), output)
		return nil
	}

	return renderGraph(g, format, output, len(entries))
}

func renderGraph(g *dot.Graph, format, output string, revisionCount int) error {
	gv := graphviz.New()
	defer gv.Close()

	parsed, err := graphviz.ParseBytes([]byte(g.String()))
	if err != nil {
		return fmt.Errorf("graph: parse dot source: %w", err)
	}
	defer parsed.Close()

	if err := gv.RenderFilename(parsed, graphviz.Format(format), output); err != nil {
		return fmt.Errorf("graph: render %s: %w", format, err)
	}
	fmt.Printf("Wrote %d revisions to %s (%s)\n", revisionCount, output, format)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
