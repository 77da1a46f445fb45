// Command feedbacksync runs the feedback sync engine.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		printHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	switch cmd {
	case "serve":
		return runServe(cfg)
	case "migrate":
		return runMigrate(cfg, args)
	case "sync":
		return runSync(cfg, args)
	case "token":
		return runToken(cfg, args)
	case "admin":
		return runAdmin(cfg, args)
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printHelp() {
	fmt.Fprint(os.Stderr, `Usage: feedbacksync [command] [options]

Commands:
  serve      Run the HTTP API, sync worker and scheduler (default)
  migrate    Apply, roll back or inspect database migrations
  sync       Run one sync for an integration and print the summary
  token      Issue an access token
  admin      Provision tenants, boards and integrations
  help       Show this help message

Examples:
  feedbacksync migrate up
  feedbacksync migrate down --steps 1
  feedbacksync sync --integration <id> --tenant <id>
  feedbacksync token --email ops@acme.example --tenant <id> --role admin --ttl 24h
`)
}
