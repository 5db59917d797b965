package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/logger"
	"github.com/hpungsan/medcase/internal/mcp"
	"github.com/hpungsan/medcase/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "mcp": true,
	"case": true, "instruction": true, "user": true, "attempts": true,
	"export": true, "import": true, "session": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	return isHelpOrVersion(args)
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	switch args[1] {
	case "--help", "-h", "--version", "-v", "help":
		return true
	}
	return false
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
                     _
   _ __ ___   ___  __| | ___ __ _ ___  ___
  | '_ ' _ \ / _ \/ _' |/ __/ _' / __|/ _ \
  | | | | | |  __/ (_| | (_| (_| \__ \  __/
  |_| |_| |_|\___|\__,_|\___\__,_|___/\___|

  Clinical case tutor

  Usage: medcase <command> [options]
         medcase serve
         medcase --help

  MCP server mode requires piped input.`)
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", a...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need neither the database nor the config.
	if isHelpOrVersion(os.Args) {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".medcase")

	wd, err := os.Getwd()
	if err != nil {
		wd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, wd)
	if err != nil {
		fail("failed to load config: %v", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fail("failed to build logger: %v", err)
	}
	defer log.Sync()

	database, err := db.Init(baseDir)
	if err != nil {
		fail("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	env := &appEnv{
		baseDir: baseDir,
		db:      database,
		cfg:     cfg,
		log:     log,
		policy:  ops.NewPathPolicy(baseDir, cfg),
	}

	if isCLIMode(os.Args) {
		if err := newCLIApp(env).Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'medcase --help' for usage.\n")
		os.Exit(1)
	}

	if err := runMCP(env); err != nil {
		fail("%v", err)
	}
}

// runMCP warns about unknown filter entries and serves MCP over stdio.
func runMCP(env *appEnv) error {
	if unknown := mcp.ValidateDisabledTools(env.cfg.DisabledTools); len(unknown) > 0 {
		env.log.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(env.cfg.DisabledTypes); len(unknown) > 0 {
		env.log.Warn("unknown types in disabled_types", "types", unknown, "known", mcp.KnownTypes)
	}
	return mcp.Run(env.db, env.cfg, env.policy, env.log, Version)
}
