// Package main is the entry point for the hearth host.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/term"

	"github.com/dshills/hearth/internal/app"
	"github.com/dshills/hearth/internal/native"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// manifestNames are looked up in the working directory when neither a
// manifest nor an entry script is given.
var manifestNames = []string{"hearth.toml", "hearth.yaml", "hearth.yml"}

type flags struct {
	manifest     string
	entry        string
	logLevel     string
	logFormat    string
	logFile      string
	headless     bool
	parallelInit bool
}

func main() {
	os.Exit(run())
}

func run() int {
	f := parseFlags()

	logger, closeLog, err := newLogger(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	platform, err := newPlatform(f, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create platform: %v\n", err)
		return 1
	}

	application, err := app.New(app.Options{
		ManifestPath: f.manifest,
		Entry:        f.entry,
		Platform:     platform,
		Logger:       logger,
		ParallelInit: f.parallelInit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return app.ExitCode(err)
	}

	// Handle signals for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		<-signals
		application.Quit()
	}()

	if err := application.Run(); err != nil {
		// A requested exit code is not an error to report
		var exit *app.ExitError
		if !errors.As(err, &exit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return app.ExitCode(err)
	}
	return 0
}

func parseFlags() flags {
	var f flags
	var showVersion bool
	var showHelp bool

	headless, _ := strconv.ParseBool(os.Getenv("HEARTH_HEADLESS"))
	logLevel := os.Getenv("HEARTH_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	flag.StringVar(&f.manifest, "manifest", "", "Path to hearth.toml or hearth.yaml")
	flag.StringVar(&f.manifest, "m", "", "Path to the manifest (shorthand)")
	flag.StringVar(&f.logLevel, "log-level", logLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	flag.StringVar(&f.logFile, "log-file", "", "Write logs to this file instead of stderr")
	flag.BoolVar(&f.headless, "headless", headless, "Run without a terminal UI")
	flag.BoolVar(&f.parallelInit, "parallel-init", false, "Initialize extensions of one tier concurrently")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hearth - scriptable native application host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: hearth [options] [entry.lua]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  HEARTH_LOG_LEVEL            Default for -log-level\n")
		fmt.Fprintf(os.Stderr, "  HEARTH_HEADLESS             Default for -headless\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hearth                      Run ./hearth.toml\n")
		fmt.Fprintf(os.Stderr, "  hearth -m app/hearth.yaml   Run a manifest\n")
		fmt.Fprintf(os.Stderr, "  hearth -headless main.lua   Run a script with no permissions\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("hearth %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch f.logLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", f.logLevel)
		os.Exit(1)
	}

	if flag.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "Error: expected at most one entry script, got %d\n", flag.NArg())
		os.Exit(1)
	}
	f.entry = flag.Arg(0)

	if f.manifest == "" && f.entry == "" {
		for _, name := range manifestNames {
			if _, err := os.Stat(name); err == nil {
				f.manifest = name
				break
			}
		}
	}
	if f.manifest != "" {
		if abs, err := filepath.Abs(f.manifest); err == nil {
			f.manifest = abs
		}
	}
	return f
}

// newLogger builds the process logger. The terminal UI owns the screen, so
// without -log-file it logs nowhere unless headless.
func newLogger(f flags) (*slog.Logger, func(), error) {
	format, err := app.ParseLogFormat(f.logFormat)
	if err != nil {
		return nil, nil, err
	}
	cfg := app.LoggerConfig{
		Level:  app.ParseLogLevel(f.logLevel),
		Format: format,
		Output: os.Stderr,
	}
	closeLog := func() {}

	switch {
	case f.logFile != "":
		file, err := os.OpenFile(f.logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		cfg.Output = file
		closeLog = func() { file.Close() }
	case !useHeadless(f):
		cfg.Output = io.Discard
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)
	return logger, closeLog, nil
}

// useHeadless reports whether to run without the terminal UI: when asked
// to, or when stdout is not a terminal.
func useHeadless(f flags) bool {
	return f.headless || !term.IsTerminal(int(os.Stdout.Fd()))
}

func newPlatform(f flags, logger *slog.Logger) (native.Platform, error) {
	if useHeadless(f) {
		return native.NewHeadless(native.WithHeadlessLogger(logger.With("component", "native"))), nil
	}
	return native.NewTerminal(native.WithTerminalLogger(logger.With("component", "native")))
}
