package dispatch

import "log/slog"

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, logger *slog.Logger, httpCfg HTTPConfig) error {
	all := []Action{
		NewLogAction(logger),
		NewEchoAction(),
		NewSleepAction(),
		NewTransformAction(),
		NewHTTPRequestAction(httpCfg),
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
