package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/lichen/internal/config"
	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/mcp"
	"github.com/hpungsan/lichen/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"extend": true, "invoke": true, "tools": true,
	"reset": true, "replay": true,
	"history": true, "purge": true,
	"export": true, "artifact": true, "ui": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _ _      _
  | (_) ___| |__   ___ _ __
  | | |/ __| '_ \ / _ \ '_ \
  | | | (__| | | |  __/ | | |
  |_|_|\___|_| |_|\___|_| |_|

  Self-extending directory query agent runtime

  Usage: lichen <command> [options]
         lichen --help

  MCP server mode requires piped input.`)
}

// newLogger builds the text logger on w. Level comes from LICHEN_LOG_LEVEL.
func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LICHEN_LOG_LEVEL")),
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// exit reports an error returned by the CLI app. Command errors have already
// been written as JSON, so only their exit code is used.
func exit(err error) {
	var ec cli.ExitCoder
	if stderrors.As(err, &ec) {
		if msg := ec.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(ec.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// stdout carries the MCP transport and CLI JSON.
	logger := newLogger(os.Stderr)
	slog.SetDefault(logger)

	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			exit(err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal(logger, "could not determine home directory", err)
	}
	baseDir := filepath.Join(homeDir, ".lichen")

	wd, err := os.Getwd()
	if err != nil {
		wd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, wd)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fatal(logger, "failed to initialize database", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	ctx := context.Background()
	rt, err := ops.NewRuntime(ctx, database, cfg, baseDir, ops.WithLogger(logger))
	if err != nil {
		fatal(logger, "failed to start runtime", err)
	}

	if isCLIMode() {
		env := &cliEnv{rt: rt, db: database, logger: logger}
		if err := newCLIApp(env).Run(os.Args); err != nil {
			database.Close()
			exit(err)
		}
		return
	}

	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'lichen --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools, rt.Registry()); len(unknown) > 0 {
		logger.Warn("disabled_tools names no known tool", "tools", unknown)
	}

	if !cfg.PreserveOnStart {
		out := rt.Reset(ctx)
		logger.Info("capabilities reset at start", "tools", len(out.Tools))
	}

	if err := mcp.Run(rt, database, cfg, Version, logger); err != nil {
		fatal(logger, "mcp server stopped", err)
	}
}
