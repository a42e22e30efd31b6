package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/skein-dev/skein/internal/sweeper"
)

func cmdSweep(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DBPath, "checkpoint database path")
	retention := fs.Duration("retention", 7*24*time.Hour, "keep terminal executions this long")
	batch := fs.Int("batch", 500, "max deletions per status per sweep")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	sw, err := sweeper.New(sweeper.Config{Retention: *retention, BatchSize: *batch}, st, nil, logger)
	if err != nil {
		return err
	}

	deleted, err := sw.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d execution(s)\n", deleted)
	return nil
}
