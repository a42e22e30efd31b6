// Command skein validates and runs workflow definitions against the
// execution engine, and inspects the resulting checkpoint state.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/skein-dev/skein/internal/logging"
)

const usage = `skein - workflow execution engine

Usage:
  skein <command> [flags]

Commands:
  validate   check a workflow definition without running it
  run        execute a workflow definition
  status     show the persisted state of an execution
  sweep      delete terminal executions past their retention window
  actions    list the registered built-in actions
  version    print the version

Run "skein <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "validate":
		err = cmdValidate(cfg, logger, os.Args[2:])
	case "run":
		err = cmdRun(cfg, logger, os.Args[2:])
	case "status":
		err = cmdStatus(cfg, os.Args[2:])
	case "sweep":
		err = cmdSweep(cfg, logger, os.Args[2:])
	case "actions":
		err = cmdActions(cfg, logger, os.Args[2:])
	case "version":
		fmt.Println("skein " + version)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
