package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/logging"
	"github.com/hpungsan/clipvault/internal/mcp"
	"github.com/hpungsan/clipvault/internal/ocr"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// vaultEnv overrides the vault location (default ~/.clipvault).
const vaultEnv = "CLIPVAULT_HOME"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"run": true, "capture": true,
	"list": true, "fetch": true, "search": true, "similar": true,
	"notes": true, "note-markdown": true,
	"reprocess": true, "delete": true,
	"export": true, "import": true,
	"logs": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
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

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
        _ _                     _ _
    ___| (_)_ ____   ____ _ _   _| | |_
   / __| | | '_ \ \ / / _' | | | | | __|
  | (__| | | |_) \ V / (_| | |_| | | |_
   \___|_|_| .__/ \_/ \__,_|\__,_|_|\__|
           |_|

  Clipboard research vault

  Usage: clipvault run           start capture, enrichment and the library UI
         clipvault <command> [options]
         clipvault --help

  MCP server mode requires piped input.`)
}

// vaultDir resolves the vault root from CLIPVAULT_HOME or the home directory.
func vaultDir() (string, error) {
	if dir := os.Getenv(vaultEnv); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".clipvault"), nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := vaultDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	db.ConfigurePool(database, cfg)

	// Only the daemon mirrors logs to the console; stdout carries JSON everywhere else.
	daemon := len(os.Args) > 1 && os.Args[1] == "run"
	logger, closeLog, err := logging.New(logging.Options{
		Dir:     filepath.Join(baseDir, db.LogsDir),
		Level:   cfg.LogLevel,
		Console: daemon,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open log: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("types", unknown))
	}

	env := &appEnv{vaultDir: baseDir, db: database, cfg: cfg, logger: logger}

	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			_ = closeLog()
			database.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'clipvault --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(database, cfg, Version, env.mcpOptions()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (e *appEnv) mcpOptions() mcp.Options {
	return mcp.Options{
		VaultDir: e.vaultDir,
		OCR:      ocr.NewCommand(e.cfg.OCRCommand, e.cfg.OCRTimeout(), e.logger),
		Logger:   e.logger,
	}
}
