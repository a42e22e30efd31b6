package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the CLI's runtime configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath             string `json:"db_path"`
	LogLevel           string `json:"log_level"`
	MaxConcurrentSteps int    `json:"max_concurrent_steps"`
	PoolSize           int    `json:"pool_size"`
	FailurePolicy      string `json:"failure_policy"`
	ConditionLanguage  string `json:"condition_language"`
	AgentID            string `json:"agent_id"`
}

func defaultConfig() Config {
	return Config{
		DBPath:             filepath.Join(skeinDir(), "skein.db"),
		LogLevel:           "info",
		MaxConcurrentSteps: 4,
		PoolSize:           64,
		FailurePolicy:      "halt",
		ConditionLanguage:  "cel",
		AgentID:            "cli",
	}
}

func skeinDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skein"
	}
	return filepath.Join(home, ".skein")
}

func settingsPath() string {
	return filepath.Join(skeinDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SKEIN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SKEIN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SKEIN_MAX_CONCURRENT_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentSteps = n
		}
	}
	if v := os.Getenv("SKEIN_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("SKEIN_FAILURE_POLICY"); v != "" {
		cfg.FailurePolicy = v
	}
	if v := os.Getenv("SKEIN_CONDITION_LANGUAGE"); v != "" {
		cfg.ConditionLanguage = v
	}
	if v := os.Getenv("SKEIN_AGENT_ID"); v != "" {
		cfg.AgentID = v
	}

	return cfg
}
