package main

import (
	"context"
	"log/slog"

	"github.com/skein-dev/skein/internal/dispatch"
	"github.com/skein-dev/skein/internal/store"
)

// newRegistry builds the action registry with all built-ins installed.
func newRegistry(logger *slog.Logger) (*dispatch.Registry, error) {
	reg := dispatch.NewRegistry()
	if err := dispatch.RegisterBuiltins(reg, logger, dispatch.HTTPConfig{}); err != nil {
		return nil, err
	}
	return reg, nil
}

// openStore opens the checkpoint store at path. An empty path or ":memory:"
// yields the in-memory store.
func openStore(ctx context.Context, path string) (store.CheckpointStore, error) {
	if path == "" || path == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	return store.NewLibSQLStore(ctx, path)
}
