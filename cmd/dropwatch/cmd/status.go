package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dropwatch/internal/category"
	"github.com/Aman-CERP/dropwatch/internal/config"
	"github.com/Aman-CERP/dropwatch/internal/daemon"
	"github.com/Aman-CERP/dropwatch/internal/index"
	"github.com/Aman-CERP/dropwatch/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <root>",
		Short: "Show the state of a dropwatch daemon",
		Long: `Ask the daemon watching <root> for its state over the status socket:
  - Process id and uptime
  - Index backend and circuit breaker state
  - Per category: watcher state, queue depth, stored/duplicate counts,
    indexed/failed counts and the most recent outcomes

When no daemon is running, document counts are read from the index instead.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// offlineStatus is reported when no daemon answers.
type offlineStatus struct {
	Running       bool           `json:"running"`
	Root          string         `json:"root"`
	Backend       string         `json:"backend,omitempty"`
	FailureBucket string         `json:"failure_bucket"`
	Counts        map[string]int `json:"counts,omitempty"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, rootArg string, jsonOutput bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(rootArg)
	if err != nil {
		return err
	}
	root, _ := resolveRoot(rootArg)

	client := daemon.NewClient(daemon.DefaultConfig(cfg.Paths.DataDir))
	if !client.IsRunning() {
		st, err := collectOfflineStatus(ctx, root, cfg)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd, st)
		}
		renderOfflineStatus(output.New(cmd.OutOrStdout()), st)
		return nil
	}

	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query daemon: %w", err)
	}
	if jsonOutput {
		return writeJSON(cmd, st)
	}
	renderStatus(output.New(cmd.OutOrStdout()), st)
	return nil
}

func collectOfflineStatus(ctx context.Context, root string, cfg *config.Config) (offlineStatus, error) {
	st := offlineStatus{Root: root, FailureBucket: cfg.Index.FailureBucket}

	backend := index.DetectBackend(cfg.Paths.DataDir)
	if backend == "" {
		return st, nil
	}
	st.Backend = backend

	idx, err := index.Open(cfg.Paths.DataDir, backend)
	if err != nil {
		return st, fmt.Errorf("failed to open index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	st.Counts = make(map[string]int)
	buckets := []string{cfg.Index.FailureBucket}
	for _, d := range category.All() {
		buckets = append(buckets, d.Bucket())
	}
	for _, b := range buckets {
		n, err := idx.Count(ctx, b)
		if err != nil {
			return st, fmt.Errorf("failed to count %s: %w", b, err)
		}
		st.Counts[b] = n
	}
	return st, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderOfflineStatus(out *output.Writer, st offlineStatus) {
	out.Warningf("dropwatch is not running for %s", st.Root)
	if st.Backend == "" {
		out.Status("", "No index yet")
		return
	}
	out.Newline()
	out.Header("Index (" + st.Backend + ")")
	for _, d := range category.All() {
		out.Field(d.Bucket(), st.Counts[d.Bucket()])
	}
	out.Field(st.FailureBucket, st.Counts[st.FailureBucket])
}

func renderStatus(out *output.Writer, st *daemon.StatusResult) {
	out.Successf("dropwatch running (pid %d, up %s)", st.PID, st.Uptime)
	out.Field("root", st.Root)
	backend := st.Backend
	if st.BreakerState != "" {
		backend += " (breaker " + st.BreakerState + ")"
	}
	out.Field("backend", backend)

	for _, c := range st.Categories {
		out.Newline()
		out.Header(fmt.Sprintf("%s  [%s]", c.Category, c.State))
		out.Field("inbox", c.Inbox)
		out.Field("watcher", c.WatcherType)
		out.Field("queue", c.QueueDepth)
		out.Field("stored", fmt.Sprintf("%d (duplicates %d, errors %d)", c.Store.Stored, c.Store.Duplicates, c.Store.Errors))
		out.Field("indexed", fmt.Sprintf("%d (failed %d, index errors %d)", c.Worker.Indexed, c.Worker.Failed, c.Worker.IndexErrors))
		for _, o := range c.Recent {
			line := fmt.Sprintf("%s %s %s", o.At.Format(time.TimeOnly), o.Status, o.Key)
			if o.Error != "" {
				line += ": " + o.Error
			}
			out.Status("", "  "+line)
		}
	}
}
