package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/skein-dev/skein/internal/engine"
	"github.com/skein-dev/skein/internal/events"
	"github.com/skein-dev/skein/pkg/schema"
)

func cmdRun(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition file (YAML or JSON)")
	inputInline := fs.String("input", "", "execution input as inline JSON")
	inputFile := fs.String("input-file", "", "execution input from a JSON file")
	dbPath := fs.String("db", "", "checkpoint database path (default: in-memory)")
	concurrency := fs.Int("concurrency", cfg.MaxConcurrentSteps, "max concurrent steps")
	policy := fs.String("policy", cfg.FailurePolicy, "failure policy: halt or continue")
	lang := fs.String("lang", cfg.ConditionLanguage, "condition language: cel or expr")
	timeout := fs.Duration("timeout", 0, "abort waiting after this duration (0 = no limit)")
	verbose := fs.Bool("verbose", false, "log every lifecycle event")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("run requires -f <definition>")
	}

	def, err := loadDefinition(*file)
	if err != nil {
		return err
	}
	input, err := loadInput(*inputInline, *inputFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := newRegistry(logger)
	if err != nil {
		return err
	}

	bus := events.NewInProcessBus(watermill.NewSlogLogger(logger))
	defer bus.Close()
	if *verbose {
		bus.Handle("", func(_ context.Context, ev *events.LifecycleEvent) error {
			logger.Info("event",
				slog.String("type", ev.Type),
				slog.String("execution_id", ev.ExecutionID),
				slog.String("step_id", ev.StepID))
			return nil
		})
		if err := bus.Subscribe(ctx); err != nil {
			return err
		}
	}

	eng, err := engine.New(engine.Config{
		MaxConcurrentSteps: *concurrency,
		PoolSize:           cfg.PoolSize,
		FailurePolicy:      schema.FailurePolicy(*policy),
		ConditionLanguage:  *lang,
		AgentID:            cfg.AgentID,
	}, st, reg, nil, bus, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	executionID, err := eng.StartExecution(ctx, def, input)
	if err != nil {
		return err
	}
	logger.Info("execution started",
		slog.String("execution_id", executionID),
		slog.String("workflow_id", def.ID))

	// First interrupt requests a cooperative cancel; a second one aborts.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		logger.Warn("cancellation requested", slog.String("execution_id", executionID))
		eng.RequestCancel(executionID)
		<-sigs
		os.Exit(130)
	}()

	waitCtx := ctx
	if *timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	snap, err := eng.Wait(waitCtx, executionID)
	if err != nil {
		return fmt.Errorf("waiting for execution %s: %w", executionID, err)
	}

	printJSON(snap)
	switch snap.Status {
	case schema.ExecutionStatusFailed:
		return fmt.Errorf("execution %s failed", executionID)
	case schema.ExecutionStatusPaused:
		logger.Warn("execution paused awaiting approval",
			slog.String("execution_id", executionID))
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
