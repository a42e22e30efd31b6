package main

import (
	"context"
	"flag"
	"fmt"
)

func cmdStatus(cfg Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "execution ID")
	dbPath := fs.String("db", cfg.DBPath, "checkpoint database path")
	withEvents := fs.Bool("events", false, "include the execution event log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("status requires -id <execution>")
	}

	ctx := context.Background()
	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetExecution(ctx, *id)
	if err != nil {
		return err
	}
	steps, err := st.ListStepStates(ctx, *id)
	if err != nil {
		return err
	}

	out := map[string]any{
		"execution": rec,
		"steps":     steps,
	}
	if *withEvents {
		events, err := st.GetEvents(ctx, *id, 0)
		if err != nil {
			return err
		}
		out["events"] = events
	}

	printJSON(out)
	return nil
}
