package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const logInputSchema = `{
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "level": {"type": "string", "enum": ["debug","info","warn","error"], "default": "info"}
  },
  "required": ["message"]
}`

// LogAction implements "core.log": emits a structured log line and echoes
// the message back as output.
type LogAction struct {
	logger *slog.Logger
}

func NewLogAction(logger *slog.Logger) *LogAction {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAction{logger: logger}
}

func (a *LogAction) Name() string { return "core.log" }

func (a *LogAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Log a message at the requested level.",
		InputSchema: json.RawMessage(logInputSchema),
	}
}

func (a *LogAction) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	message := stringParam(params, "message", "")
	level := stringParam(params, "level", "info")

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
	a.logger.Log(ctx, lvl, message)

	return map[string]any{
		"message": message,
		"level":   level,
	}, nil
}

// EchoAction implements "core.echo": returns its params unchanged. Useful
// as a passthrough node and for exercising variable resolution in tests.
type EchoAction struct{}

func NewEchoAction() *EchoAction { return &EchoAction{} }

func (a *EchoAction) Name() string { return "core.echo" }

func (a *EchoAction) Schema() ActionSchema {
	return ActionSchema{Description: "Return the given params as the step output."}
}

func (a *EchoAction) Execute(_ context.Context, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}

// SleepAction implements "core.sleep": waits for the configured duration or
// until the context is cancelled.
type SleepAction struct{}

func NewSleepAction() *SleepAction { return &SleepAction{} }

func (a *SleepAction) Name() string { return "core.sleep" }

func (a *SleepAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Sleep for the given duration (e.g. \"250ms\").",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"duration":{"type":"string"}},"required":["duration"]}`),
	}
}

func (a *SleepAction) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	raw := stringParam(params, "duration", "")
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("core.sleep: invalid duration %q: %w", raw, err)
	}

	select {
	case <-time.After(d):
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Param helpers used by all action files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}
