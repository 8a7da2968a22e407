// Package main is the entrypoint for the focusd screen-time daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hostfocus/focusd/internal/compiler"
	"github.com/hostfocus/focusd/internal/config"
	"github.com/hostfocus/focusd/internal/daemon"
	"github.com/hostfocus/focusd/internal/enforcer"
	"github.com/hostfocus/focusd/internal/firewall"
	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/notify"
	"github.com/hostfocus/focusd/internal/policy"
	"github.com/hostfocus/focusd/internal/procfs"
	"github.com/hostfocus/focusd/internal/server"
	"github.com/hostfocus/focusd/internal/snapshot"
	"github.com/hostfocus/focusd/internal/users"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const defaultConfigPath = "/etc/focusd/config.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("focusd", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to the daemon configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			printUsage()
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("focusd %s\n", Version)
		return 0
	}

	subcmd := "serve"
	remaining := fs.Args()
	if len(remaining) > 0 {
		subcmd = remaining[0]
	}

	switch subcmd {
	case "serve":
		return cmdServe(*configPath)
	case "validate":
		return cmdValidate(*configPath)
	case "init":
		return cmdInit(*configPath)
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subcmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `focusd %s — per-user screen-time policy daemon

Usage:
  focusd [flags] <command>

Commands:
  serve      Run the daemon (default)
  validate   Check the daemon configuration and policy sources
  init       Generate a starter configuration file
  help       Show this help message

Flags:
  --config string   Path to configuration file (default %q)
  --version         Print version and exit

Examples:
  focusd serve --config /etc/focusd/config.yaml
  focusd validate
  focusd init
`, Version, defaultConfigPath)
}

// loadConfig reads the config file, falling back to built-in defaults
// when the default path does not exist. An explicitly given path must
// exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger builds the slog logger described by the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// cmdServe runs the tick loop and the policy endpoint until SIGINT or
// SIGTERM.
func cmdServe(configPath string) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting focusd", "version", Version, "config", configPath)

	m := metrics.New()
	store := snapshot.NewStore()

	table, err := procfs.New("/proc")
	if err != nil {
		logger.Error("cannot open /proc", "error", err)
		return 1
	}

	comp := compiler.New(
		compiler.Options{MainFile: cfg.Policy.MainFile, ExtensionsDir: cfg.Policy.ExtensionsDir},
		users.NewOSResolver(),
		logger, m,
	)

	var fw *firewall.Firewall
	if cfg.Firewall.Enabled {
		fw = firewall.New(nil, cfg.Firewall.ChainPrefix, logger, m)
	}
	var enf *enforcer.Enforcer
	if cfg.Enforcement.Enabled {
		notifier := notify.New(nil, logger)
		enf = enforcer.New(table, notifier, cfg.Enforcement.WarningThreshold.Duration, logger, m)
	}

	d := daemon.New(cfg, comp, store, fw, enf, logger, m)
	srv := server.New(cfg.Serve, store, table, logger, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- d.Run(ctx) }()
	go func() { errCh <- srv.Start(ctx) }()

	// Either component failing takes the daemon down; otherwise wait for
	// both to finish shutting down after a signal.
	exit := 0
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			logger.Error("component failed", "error", err)
			stop()
			exit = 1
		}
	}
	logger.Info("focusd stopped")
	return exit
}

// cmdValidate checks the daemon configuration, the main policy file,
// and every extension fragment, reporting all problems it finds.
func cmdValidate(configPath string) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("daemon configuration valid")

	failed := false

	f, err := os.Open(cfg.Policy.MainFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot open %s: %v\n", cfg.Policy.MainFile, err)
		failed = true
	} else {
		parsed, err := policy.Parse(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", cfg.Policy.MainFile, err)
			failed = true
		} else {
			fmt.Printf("%s: valid, %d user(s)\n", cfg.Policy.MainFile, len(parsed.Users))
		}
	}

	entries, err := os.ReadDir(cfg.Policy.ExtensionsDir)
	if err != nil {
		fmt.Printf("%s: not readable, skipping extensions\n", cfg.Policy.ExtensionsDir)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(cfg.Policy.ExtensionsDir, de.Name())
		ef, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot open %s: %v\n", path, err)
			failed = true
			continue
		}
		_, err = policy.ParseExtension(ef)
		ef.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("%s: valid\n", path)
	}

	if failed {
		return 1
	}
	return 0
}

const starterConfig = `# focusd daemon configuration.
policy:
  main_file: /etc/focusd/policy.yaml
  extensions_dir: /etc/focusd/policy.d

tick:
  interval: 1m
  debounce: 2s
  watch_files: true

enforcement:
  enabled: true
  warning_threshold: 5m

firewall:
  enabled: true
  chain_prefix: FOCUSD-

serve:
  host: 127.0.0.1
  port: 7878
  long_poll_timeout: 1h
  rate_per_peer: 5
  rate_burst: 10

logging:
  level: info
  format: json
`

// cmdInit writes a starter configuration to the given path, refusing to
// overwrite an existing file.
func cmdInit(configPath string) int {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists\n", configPath)
		return 1
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", configPath, err)
		return 1
	}
	fmt.Printf("Generated %s\n", configPath)
	return 0
}
