package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/gethkeeper/cmd"
	"github.com/smazurov/gethkeeper/internal/api"
	"github.com/smazurov/gethkeeper/internal/config"
	"github.com/smazurov/gethkeeper/internal/events"
	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/smazurov/gethkeeper/internal/metrics"
	"github.com/smazurov/gethkeeper/internal/nats"
	"github.com/smazurov/gethkeeper/internal/node"
	"github.com/smazurov/gethkeeper/internal/process"
	"github.com/smazurov/gethkeeper/internal/systemd"
	"github.com/smazurov/gethkeeper/internal/updater"
	"golang.org/x/sync/errgroup"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"gethkeeper.toml"`

	// Server settings
	Port              string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	ServerCORSOrigins string `help:"Comma-separated origins allowed by CORS, * for any" default:"*" toml:"server.cors_origins" env:"SERVER_CORS_ORIGINS"`

	// Node settings
	NodeBinary        string `help:"geth binary, optionally with leading arguments" default:"geth" toml:"node.binary" env:"NODE_BINARY"`
	NodeOptionsFile   string `help:"geth option file (TOML or YAML)" default:"geth.toml" toml:"node.options_file" env:"NODE_OPTIONS_FILE"`
	NodeHome          string `help:"Home directory for the default datadir" default:"" toml:"node.home" env:"NODE_HOME"`
	NodeAutostart     bool   `help:"Start the node on startup" default:"true" toml:"node.autostart" env:"NODE_AUTOSTART"`
	NodeWatch         bool   `help:"Restart the node when the option file changes" default:"true" toml:"node.watch" env:"NODE_WATCH"`
	NodePersist       bool   `help:"Leave the node running when gethkeeper exits" default:"false" toml:"node.persist_on_exit" env:"NODE_PERSIST_ON_EXIT"`
	NodeDebug         bool   `help:"Echo node output to stdout" default:"false" toml:"node.debug" env:"NODE_DEBUG"`
	NodeReadyMarker   string `help:"stderr text that marks the node ready" default:"IPC endpoint opened" toml:"node.ready_marker" env:"NODE_READY_MARKER"`
	NodeReadyTimeout  string `help:"Fail the start if the node is not ready in time (0s disables)" default:"0s" toml:"node.ready_timeout" env:"NODE_READY_TIMEOUT"`
	NodeStopTimeout   string `help:"Kill the node if it does not stop in time (0s waits forever)" default:"30s" toml:"node.stop_timeout" env:"NODE_STOP_TIMEOUT"`
	NodeOutputHistory int    `help:"Node output lines kept for the API" default:"500" toml:"node.output_history" env:"NODE_OUTPUT_HISTORY"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Metrics settings
	MetricsPrometheusEnabled bool   `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsInterval          string `help:"Sample period of /api/metrics" default:"5s" toml:"metrics.interval" env:"METRICS_INTERVAL"`

	// NATS settings
	NatsURL           string `help:"NATS server URL, empty disables the bridge unless embedded" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded      bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsHost          string `help:"Embedded NATS server host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NatsPort          int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NatsPrefix        string `help:"NATS subject prefix" default:"gethkeeper" toml:"nats.prefix" env:"NATS_PREFIX"`
	NatsPublishOutput bool   `help:"Publish every node output line to NATS" default:"false" toml:"nats.publish_output" env:"NATS_PUBLISH_OUTPUT"`

	// Systemd settings
	SystemdUnit    string `help:"Unit gethkeeper runs in, enables /api/systemd" default:"" toml:"systemd.unit" env:"SYSTEMD_UNIT"`
	SystemdUserBus bool   `help:"Use the user D-Bus instead of the system bus" default:"false" toml:"systemd.user_bus" env:"SYSTEMD_USER_BUS"`

	// Update settings
	UpdateEnabled    bool   `help:"Serve /api/update for self-update from GitHub releases" default:"true" toml:"update.enabled" env:"UPDATE_ENABLED"`
	UpdateRepository string `help:"GitHub owner/repo to fetch releases from" default:"smazurov/gethkeeper" toml:"update.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Include prereleases" default:"false" toml:"update.prerelease" env:"UPDATE_PRERELEASE"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingBufferSize int    `help:"Log entries kept for /api/logs/stream" default:"1000" toml:"logging.buffer_size" env:"LOGGING_BUFFER_SIZE"`
	LoggingProcess    string `help:"Supervisor logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingNode       string `help:"Node service logging level" default:"info" toml:"logging.node" env:"LOGGING_NODE"`
	LoggingConfig     string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP       string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingNATS       string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

// parseDuration parses a duration option, falling back to def.
func parseDuration(logger logging.Logger, name, value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", def.String())
		return def
	}
	return d
}

func main() {
	defer process.RunExitHooks()

	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:      opts.LoggingLevel,
			Format:     opts.LoggingFormat,
			BufferSize: opts.LoggingBufferSize,
			Modules: map[string]string{
				"process": opts.LoggingProcess,
				"node":    opts.LoggingNode,
				"config":  opts.LoggingConfig,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
				"nats":    opts.LoggingNATS,
			},
		})
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.ToLogEntryEvent(entry))
		})

		builder := geth.NewBuilder()
		if opts.NodeHome != "" {
			builder.Home = opts.NodeHome
		}
		stopTimeout := parseDuration(logger, "node.stop_timeout", opts.NodeStopTimeout, 30*time.Second)

		nodeService := node.NewService(node.ServiceOptions{
			Process: process.Config{
				BinaryPath:    opts.NodeBinary,
				PersistOnExit: opts.NodePersist,
				Debug:         opts.NodeDebug,
				ReadyMarker:   opts.NodeReadyMarker,
				ReadyTimeout:  parseDuration(logger, "node.ready_timeout", opts.NodeReadyTimeout, 0),
				StopTimeout:   stopTimeout,
				Builder:       builder,
			},
			OptionsFile:   opts.NodeOptionsFile,
			OutputHistory: opts.NodeOutputHistory,
			EventBus:      eventBus,
		})

		notifier := systemd.NewNotifier(nil)
		unsubReady := eventBus.Subscribe(func(e events.NodeReadyEvent) {
			notifier.Status("geth running, pid %d", e.PID)
		})
		unsubExit := eventBus.Subscribe(func(e events.NodeExitedEvent) {
			notifier.Status("geth exited with code %d", e.ExitCode)
		})

		apiOpts := &api.Options{
			AuthUsername:    opts.AuthUsername,
			AuthPassword:    opts.AuthPassword,
			Node:            nodeService,
			EventBus:        eventBus,
			MetricsInterval: parseDuration(logger, "metrics.interval", opts.MetricsInterval, 5*time.Second),
			CORSOrigins:     splitList(opts.ServerCORSOrigins),
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = metrics.Handler()
		}

		var systemdManager *systemd.Manager
		if opts.SystemdUnit != "" {
			mgr, err := systemd.NewManager(context.Background(), opts.SystemdUserBus)
			if err != nil {
				logger.Warn("Failed to connect to systemd, /api/systemd disabled", "error", err)
			} else {
				systemdManager = mgr
				apiOpts.SystemdManager = mgr
				apiOpts.ServiceUnit = opts.SystemdUnit
			}
		}

		if opts.UpdateEnabled {
			u, err := updater.New(updater.Options{
				Repository: opts.UpdateRepository,
				Prerelease: opts.UpdatePrerelease,
			})
			if err != nil {
				logger.Warn("Failed to create updater, /api/update disabled", "error", err)
			} else {
				apiOpts.Updater = u
			}
		}

		server := api.NewServer(apiOpts)

		var natsServer *nats.Server
		if opts.NatsEmbedded {
			natsServer = nats.NewServer(nats.ServerOptions{
				Host: opts.NatsHost,
				Port: opts.NatsPort,
				Name: opts.NatsPrefix,
			})
		}
		natsURL := opts.NatsURL
		if natsURL == "" && natsServer != nil {
			natsURL = natsServer.ClientURL()
		}
		var bridge *nats.Bridge
		if natsURL != "" {
			bridge = nats.NewBridge(nats.BridgeOptions{
				URL:            natsURL,
				Prefix:         opts.NatsPrefix,
				EventBus:       eventBus,
				Node:           nodeService,
				PublishOutput:  opts.NatsPublishOutput,
				ControlTimeout: stopTimeout + 30*time.Second,
			})
		}

		var watcher *config.Watcher[*geth.Options]
		if opts.NodeWatch {
			watcher = config.NewWatcher(opts.NodeOptionsFile, geth.LoadOptions, logging.GetLogger("config"))
			watcher.OnReload(func(*geth.Options) {
				notifier.Reloading()
				defer notifier.Ready()
				if _, err := nodeService.Reload(context.Background()); err != nil {
					logger.Warn("Failed to apply changed node options", "error", err)
				}
			})
		}

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			// Bind first so a busy port fails before the node is spawned.
			if err := server.Listen(opts.Port); err != nil {
				fail(logger, "Failed to start HTTP server", err)
				return
			}
			if natsServer != nil {
				if err := natsServer.Start(); err != nil {
					fail(logger, "Failed to start embedded NATS server", err)
					return
				}
			}
			if bridge != nil {
				if err := bridge.Start(); err != nil {
					logger.Warn("Failed to connect NATS bridge, continuing without it", "error", err)
				}
			}

			if opts.NodeAutostart {
				if _, err := nodeService.Start(ctx); err != nil {
					logger.Error("Failed to start node", "error", err)
				}
			}
			if watcher != nil {
				if err := watcher.Start(); err != nil {
					logger.Warn("Failed to start option watcher, hot-reload disabled", "error", err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := server.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				notifier.RunWatchdog(gctx)
				return nil
			})

			notifier.Ready()
			if err := g.Wait(); err != nil {
				fail(logger, "HTTP server failed", err)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()

			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", "error", err)
			}
			done()
			cancel()

			if watcher != nil {
				_ = watcher.Stop()
			}
			if bridge != nil {
				bridge.Stop()
			}
			unsubReady()
			unsubExit()

			// The node gets its stop timeout plus a margin for the kill.
			closeCtx, closeDone := context.WithTimeout(context.Background(), stopTimeout+5*time.Second)
			defer closeDone()
			if err := nodeService.Close(closeCtx); err != nil {
				logger.Error("Error stopping node", "error", err)
			}
			if natsServer != nil {
				natsServer.Stop()
			}
			if systemdManager != nil {
				systemdManager.Close()
			}
		})
	})

	cli.Root().Use = "gethkeeper"
	cli.Root().Short = "Supervisor for a single geth node"
	cli.Root().AddCommand(cmd.CreateRunCmd())
	cli.Root().AddCommand(cmd.CreateFlagsCmd())
	cli.Root().AddCommand(cmd.CreateCtlCmd())
	cli.Root().AddCommand(cmd.CreateUpdateCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}

// exit ends the process. Tests replace it.
var exit = os.Exit

// fail logs a fatal startup error and exits with status 1. os.Exit skips
// deferred calls, so the exit hooks run here and a node that does not
// persist on exit is stopped first.
func fail(logger logging.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	process.RunExitHooks()
	exit(1)
}

// splitList splits a comma-separated option, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
