// Package cmd provides the CLI commands for dropwatch.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dropwatch/internal/category"
	"github.com/Aman-CERP/dropwatch/internal/config"
	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
	"github.com/Aman-CERP/dropwatch/internal/logging"
	"github.com/Aman-CERP/dropwatch/internal/preflight"
	"github.com/Aman-CERP/dropwatch/internal/profiling"
	"github.com/Aman-CERP/dropwatch/internal/supervisor"
	"github.com/Aman-CERP/dropwatch/pkg/version"
)

// Logging state shared by the persistent hooks.
var (
	logLevel       string
	debugMode      bool
	loggingCleanup func()
	daemonConfig   *config.Config
)

// NewRootCmd creates the root command for the dropwatch CLI.
func NewRootCmd() *cobra.Command {
	var (
		skipCheck bool
		profile   profiling.Options
	)

	logLevel = ""
	debugMode = false
	daemonConfig = nil

	cmd := &cobra.Command{
		Use:   "dropwatch <root>",
		Short: "Watch drop folders and index what lands in them",
		Long: `dropwatch watches four inbox directories under <root>:

  archive/  images/  txt/  emails/

Every file dropped there is moved to <root>/processed/<inbox>/, with
byte-identical duplicates discarded, then its content is extracted and
written to the local index. Files already present at startup are ingested
first.

Run 'dropwatch status <root>' from another terminal to inspect a running
daemon.`,
		Version:       version.Version,
		Args:          usageArgs(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, args[0], skipCheck, profile)
		},
	}

	cmd.SetVersionTemplate("dropwatch version {{.Version}}\n")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		_, _ = fmt.Fprint(c.ErrOrStderr(), c.UsageString())
		return dwerrors.New(dwerrors.ErrCodeUsage, err.Error(), nil)
	})

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")
	cmd.Flags().StringVar(&profile.CPU, "cpuprofile", "", "Write a CPU profile to `file`")
	cmd.Flags().StringVar(&profile.Trace, "trace", "", "Write an execution trace to `file`")
	cmd.Flags().StringVar(&profile.Heap, "memprofile", "", "Write a heap profile to `file` on exit")
	cmd.Flags().StringVar(&profile.Goroutine, "goroutineprofile", "", "Write a goroutine dump to `file` on exit")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error); overrides server.log_level")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Shorthand for --log-level debug")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

// usageArgs prints usage to stderr when validate rejects the arguments.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
			return dwerrors.New(dwerrors.ErrCodeUsage, err.Error(), nil).
				WithSuggestion("Usage: " + cmd.UseLine())
		}
		return nil
	}
}

// startLogging configures slog. The daemon logs to a rotating file in its
// data dir; every other command logs warnings to stderr only.
func startLogging(cmd *cobra.Command, args []string) error {
	if !logging.ValidLevel(logLevel) && logLevel != "" {
		return dwerrors.New(dwerrors.ErrCodeUsage, "invalid --log-level: "+logLevel, nil)
	}

	lcfg := logging.Config{Level: "warn", WriteToStderr: true}
	if cmd == cmd.Root() {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		daemonConfig = cfg

		lcfg = logging.DefaultConfig(cfg.Paths.DataDir)
		lcfg.Level = cfg.Server.LogLevel
		lcfg.MaxSizeMB = cfg.Logging.MaxSizeMB
		lcfg.MaxFiles = cfg.Logging.MaxFiles
		lcfg.MaxAgeDays = cfg.Logging.MaxAgeDays
		lcfg.Compress = cfg.Logging.Compress
		lcfg.WriteToStderr = cfg.Logging.Stderr
	}
	if logLevel != "" {
		lcfg.Level = logLevel
	}
	if debugMode {
		lcfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(lcfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	if err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), dwerrors.FormatForCLI(err))
	}
	return err
}

// resolveRoot returns root as an absolute, existing directory.
func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", dwerrors.New(dwerrors.ErrCodeUsage, "invalid root path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", dwerrors.RegistrationError(abs, err).
			WithSuggestion("Create the directory first; inboxes inside it are created automatically")
	}
	if !info.IsDir() {
		return "", dwerrors.RegistrationError(abs, fmt.Errorf("not a directory"))
	}
	return abs, nil
}

// loadConfig resolves root and loads its layered configuration.
func loadConfig(root string) (*config.Config, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, dwerrors.ConfigError("cannot load configuration", err).
			WithDetail("root", abs)
	}
	return cfg, nil
}

func preflightTargets(root string, cfg *config.Config) preflight.Targets {
	return preflight.Targets{
		Root:          root,
		ProcessedRoot: cfg.Paths.ProcessedRoot,
		DataDir:       cfg.Paths.DataDir,
		Inboxes:       inboxDirs(root),
	}
}

func inboxDirs(root string) []string {
	var dirs []string
	for _, d := range category.All() {
		dirs = append(dirs, d.InboxPath(root))
	}
	return dirs
}

// runDaemon runs until SIGINT/SIGTERM or until every category stops.
func runDaemon(cmd *cobra.Command, rootArg string, skipCheck bool, profile profiling.Options) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := resolveRoot(rootArg)
	if err != nil {
		return err
	}
	cfg := daemonConfig
	if cfg == nil {
		if cfg, err = loadConfig(root); err != nil {
			return err
		}
	}
	logger := slog.Default()

	if !skipCheck {
		checker := preflight.New(preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx, preflightTargets(root, cfg))
		for _, r := range results {
			if r.Status != preflight.StatusPass {
				logger.Warn("preflight check",
					slog.String("check", r.Name),
					slog.String("status", r.Status.String()),
					slog.String("message", r.Message))
			}
		}
		if checker.HasCriticalFailures(results) {
			return dwerrors.InternalError("system check failed", nil).
				WithSuggestion(fmt.Sprintf("Run 'dropwatch doctor %s' for details, or pass --skip-check", root))
		}
	}

	if profile.Enabled() {
		session, err := profiling.Start(profile)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Stop(); err != nil {
				logger.Warn("profiling", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("dropwatch", slog.String("version", version.Short()), slog.Int("pid", os.Getpid()))
	return supervisor.Run(ctx, root, cfg, supervisor.WithLogger(logger))
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
