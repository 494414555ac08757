package config

import (
	"os"
	"strconv"
)

// FromEnv overlays BRRR_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("BRRR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BRRR_STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("BRRR_QUEUE_BACKEND"); v != "" {
		cfg.QueueBackend = v
	}
	if v := os.Getenv("BRRR_SPAWN_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.SpawnLimit = n
		}
	}
	if v := os.Getenv("BRRR_CAS_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CasRetryLimit = n
		}
	}
	if v := os.Getenv("BRRR_EMPTY_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmptyPollIntervalMS = n
		}
	}
	if v := os.Getenv("BRRR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BRRR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
