// Package main is the entry point for the voltproxy plugin host.
//
// The editor core starts the proxy as a child process and speaks JSON-RPC
// with it over stdin/stdout, so log output goes to stderr or a file, never
// to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dshills/voltproxy/internal/config"
	"github.com/dshills/voltproxy/internal/dap"
	"github.com/dshills/voltproxy/internal/dispatch"
	"github.com/dshills/voltproxy/internal/plugin"
	"github.com/dshills/voltproxy/internal/volt"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	workspace := cfg.Proxy.Workspace
	logger.Info("voltproxy starting", "version", version, "workspace", workspace)

	// Volt discovery: configured paths first, then the standard locations.
	paths := append(append([]string{}, cfg.Volts.Paths...), volt.DefaultVoltPaths()...)
	loader := volt.NewLoader(volt.WithPaths(paths...), volt.WithLogger(logger))

	pool := dispatch.NewPool(
		dispatch.WithQueueSize(cfg.Proxy.WorkerQueueSize),
		dispatch.WithWorkers(cfg.Proxy.Workers),
		dispatch.WithLogger(logger),
	)
	if err := pool.Start(); err != nil {
		logger.Error("worker pool start failed", "err", err)
		return 1
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	link := newCoreLink(os.Stdin, os.Stdout, workspace, logger)

	catalog := plugin.New(link, loader, pool,
		plugin.WithWorkspace(workspace),
		plugin.WithLogger(logger),
		plugin.WithQueueSize(cfg.Proxy.QueueSize),
		plugin.WithDisabledVolts(cfg.DisabledIDs()),
		plugin.WithPluginConfigs(cfg.Volts.Config),
		plugin.WithScanTTL(cfg.ScanTTL()),
	)
	link.bind(catalog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	link.start(ctx)

	// Pick up volt directories dropped or removed while running.
	watcher, err := volt.NewWatcher(loader.Paths(),
		volt.WithDebounce(cfg.Debounce()),
		volt.WithWatchLogger(logger),
	)
	if err != nil {
		logger.Warn("volt watching unavailable", "err", err)
	} else {
		defer watcher.Close()
		go forwardWatchEvents(watcher, catalog, loader, logger)
	}

	// Surface a broken run.toml at startup rather than on first debug.
	if configs, err := dap.LoadRunConfigs(workspace); err != nil {
		logger.Warn("run configurations unreadable", "err", err)
	} else if len(configs) > 0 {
		logger.Info("run configurations loaded", "count", len(configs))
	}

	if volts := loader.Discover(); len(volts) > 0 {
		logger.Info("volts discovered", "count", len(volts))
		catalog.Notify(plugin.UnactivatedVolts{Volts: volts})
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("shutdown signal received")
		catalog.Notify(plugin.Shutdown{})
	}()

	catalog.Run(ctx)
	logger.Info("voltproxy stopped")
	return 0
}

// forwardWatchEvents turns volt directory changes into catalog messages.
func forwardWatchEvents(w *volt.Watcher, catalog *plugin.Catalog, loader *volt.Loader, logger *slog.Logger) {
	for ev := range w.Events() {
		switch ev.Op {
		case volt.VoltAdded:
			meta, err := loader.Load(ev.Dir)
			if err != nil {
				logger.Warn("new volt directory unreadable", "dir", ev.Dir, "err", err)
				continue
			}
			catalog.Notify(plugin.VoltDiscovered{Meta: meta})
		case volt.VoltChanged:
			meta, err := loader.Load(ev.Dir)
			if err != nil {
				logger.Warn("changed volt directory unreadable", "dir", ev.Dir, "err", err)
				continue
			}
			catalog.Notify(plugin.ReloadVolt{Meta: meta})
		case volt.VoltRemoved:
			catalog.Notify(plugin.VoltGone{Dir: ev.Dir})
		}
	}
}

// cliOptions holds the parsed command line.
type cliOptions struct {
	ConfigPath string
	Workspace  string
	VoltDir    string
	LogLevel   string
}

func parseFlags() cliOptions {
	var opts cliOptions
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.Workspace, "workspace", "", "Workspace directory served by the proxy")
	flag.StringVar(&opts.Workspace, "w", "", "Workspace directory (shorthand)")
	flag.StringVar(&opts.VoltDir, "volt-dir", "", "Additional volt directory, searched first")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "voltproxy - plugin and debug host for the editor core\n\n")
		fmt.Fprintf(os.Stderr, "Usage: voltproxy [options]\n\n")
		fmt.Fprintf(os.Stderr, "The editor core launches voltproxy and speaks JSON-RPC with it\n")
		fmt.Fprintf(os.Stderr, "over stdin/stdout; running it by hand is only useful for -version.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("voltproxy %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(opts cliOptions) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if opts.Workspace != "" {
		cfg.Proxy.Workspace = opts.Workspace
	}
	if cfg.Proxy.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving workspace: %w", err)
		}
		cfg.Proxy.Workspace = wd
	}
	abs, err := filepath.Abs(cfg.Proxy.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	cfg.Proxy.Workspace = abs

	if opts.VoltDir != "" {
		cfg.Volts.Paths = append([]string{opts.VoltDir}, cfg.Volts.Paths...)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger constructs the process logger from the logging section.
func buildLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	out := io.Writer(os.Stderr)
	closeLog := func() {}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeLog = func() { f.Close() }
	}

	hopts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeLog, nil
}
