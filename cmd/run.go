package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/smazurov/gethkeeper/internal/config"
	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/smazurov/gethkeeper/internal/node"
	"github.com/smazurov/gethkeeper/internal/process"
	"github.com/smazurov/gethkeeper/internal/systemd"
	"github.com/spf13/cobra"
)

// RunOptions are the settings of the run command.
type RunOptions struct {
	OptionsFile  string
	Binary       string
	Home         string
	Debug        bool
	Persist      bool
	Watch        bool
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	LogJSON      bool
}

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	var opts RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the geth node in the foreground",
		Long: `Starts geth with flags derived from the option file and supervises it without the API server. ` +
			`The option file is watched and the node restarted when it changes. ` +
			`Exits with the node's exit code; Ctrl-C stops the node first.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			os.Exit(RunNode(cmd.Context(), opts))
		},
	}

	cmd.Flags().StringVarP(&opts.OptionsFile, "options", "o", "geth.toml", "geth option file (TOML or YAML)")
	cmd.Flags().StringVar(&opts.Binary, "binary", process.DefaultBinaryPath, "geth binary, optionally with leading arguments")
	cmd.Flags().StringVar(&opts.Home, "home", "", "Home directory for the default datadir (default: current user's)")
	cmd.Flags().BoolVar(&opts.Debug, "debug", true, "Echo node output")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "Leave the node running when gethkeeper exits")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Restart the node when the option file changes")
	cmd.Flags().DurationVar(&opts.ReadyTimeout, "ready-timeout", 0, "Fail the start if the node is not ready in time (0 disables)")
	cmd.Flags().DurationVar(&opts.StopTimeout, "stop-timeout", 30*time.Second, "Kill the node if it does not stop in time (0 waits forever)")
	cmd.Flags().BoolVar(&opts.LogJSON, "log-json", false, "Use JSON log format")

	return cmd
}

// RunNode supervises the node until it exits and returns the exit code
// gethkeeper should exit with.
func RunNode(ctx context.Context, opts RunOptions) int {
	if ctx == nil {
		ctx = context.Background()
	}

	loggingConfig := logging.Config{Level: "info", Format: "text"}
	if opts.LogJSON {
		loggingConfig.Format = "json"
	}
	logging.Initialize(loggingConfig)
	logger := logging.GetLogger("run").With("options", opts.OptionsFile)

	builder := geth.NewBuilder()
	if opts.Home != "" {
		builder.Home = opts.Home
	}

	svc := node.NewService(node.ServiceOptions{
		Process: process.Config{
			BinaryPath:    opts.Binary,
			PersistOnExit: opts.Persist,
			Debug:         opts.Debug,
			ReadyTimeout:  opts.ReadyTimeout,
			StopTimeout:   opts.StopTimeout,
			Builder:       builder,
		},
		OptionsFile: opts.OptionsFile,
	})
	notifier := systemd.NewNotifier(logger)
	defer func() {
		notifier.Stopping()
		closeCtx, cancel := context.WithTimeout(context.Background(), opts.StopTimeout+5*time.Second)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Warn("Failed to stop node", "error", err)
		}
	}()

	if _, err := svc.Start(ctx); err != nil {
		logger.Error("Failed to start node", "error", err)
		return 1
	}

	// Type=notify units become active once geth opened its IPC endpoint.
	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	go notifier.RunWatchdog(watchdogCtx)
	go func() {
		if err := svc.WaitReady(watchdogCtx); err != nil {
			return
		}
		notifier.Ready()
		notifier.Status("geth running, pid %d", svc.Status().PID)
	}()

	if opts.Watch {
		watcher := config.NewWatcher(opts.OptionsFile, geth.LoadOptions, logger)
		watcher.OnReload(func(*geth.Options) {
			notifier.Reloading()
			defer notifier.Ready()
			restarted, err := svc.Reload(ctx)
			switch {
			case err != nil:
				logger.Warn("Failed to apply changed options", "error", err)
			case restarted:
				logger.Info("Options changed, node restarted")
			default:
				logger.Debug("Options reloaded, nothing changed")
			}
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("Failed to start option watcher, hot-reload disabled", "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	code, err := svc.Wait(ctx)
	if err != nil && !errors.Is(err, node.ErrNotRunning) {
		logger.Error("Stopped waiting for node", "error", err)
		return 1
	}
	logger.Info("Node exited", "exit_code", code)
	if code == process.NoExitCode {
		return 1
	}
	return code
}
