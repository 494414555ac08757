package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.StoreBackend != "memory" {
		t.Fatalf("default store backend")
	}
	if cfg.QueueBackend != "memory" {
		t.Fatalf("default queue backend")
	}
	if cfg.SpawnLimit != 500 {
		t.Fatalf("default spawn limit")
	}
	if cfg.CasRetryLimit != 100 {
		t.Fatalf("default cas retry limit")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "brrr.json")
	data := []byte(`{"storeBackend":"pebble","queueBackend":"pebble","spawnLimit":50,"casRetryLimit":10}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != "pebble" {
		t.Fatalf("expected pebble store backend, got %q", cfg.StoreBackend)
	}
	if cfg.QueueBackend != "pebble" {
		t.Fatalf("expected pebble queue backend, got %q", cfg.QueueBackend)
	}
	if cfg.SpawnLimit != 50 {
		t.Fatalf("expected spawn limit 50, got %d", cfg.SpawnLimit)
	}
	if cfg.CasRetryLimit != 10 {
		t.Fatalf("expected cas retry limit 10, got %d", cfg.CasRetryLimit)
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "brrr.yaml")
	if err := os.WriteFile(file, []byte("spawnLimit: 5"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected error loading unsupported extension")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("BRRR_STORE_BACKEND", "pebble")
	os.Setenv("BRRR_SPAWN_LIMIT", "42")
	os.Setenv("BRRR_LOG_LEVEL", "debug")
	t.Cleanup(func() {
		os.Unsetenv("BRRR_STORE_BACKEND")
		os.Unsetenv("BRRR_SPAWN_LIMIT")
		os.Unsetenv("BRRR_LOG_LEVEL")
	})
	FromEnv(&cfg)
	if cfg.StoreBackend != "pebble" {
		t.Fatalf("env override store backend")
	}
	if cfg.SpawnLimit != 42 {
		t.Fatalf("env override spawn limit, got %d", cfg.SpawnLimit)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("env override log level")
	}
}
