package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config is the top-level runtime configuration loaded from file/env.
type Config struct {
	DataDir string `json:"dataDir"`

	// StoreBackend and QueueBackend select the persistence adapters:
	// "memory" (no durability, used for tests and local experimentation)
	// or "pebble" (on-disk, durable).
	StoreBackend string `json:"storeBackend"`
	QueueBackend string `json:"queueBackend"`

	SpawnLimit          int64 `json:"spawnLimit"`
	CasRetryLimit       int   `json:"casRetryLimit"`
	EmptyPollIntervalMS int   `json:"emptyPollIntervalMs"`

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`
}

// Default returns built-in defaults: an in-memory, non-durable runtime
// suitable for local experimentation and tests.
func Default() Config {
	return Config{
		DataDir:             DefaultDataDir(),
		StoreBackend:        "memory",
		QueueBackend:        "memory",
		SpawnLimit:          500,
		CasRetryLimit:       100,
		EmptyPollIntervalMS: 50,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// Load reads configuration from a JSON file, overlaid onto Default(). If
// path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch ext := filepath.Ext(path); ext {
	case ".json", "":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, errors.New("config: unsupported file extension " + ext + "; use .json")
	}
	return cfg, nil
}
