package config

import (
	"os"
	"testing"
)

const sampleConfig = `
backend:
  base_url: https://sally.example.com
  streaming: false
  request_timeout_seconds: 12
  health_timeout_seconds: 2
storage:
  path: /tmp/sally-test.db
log:
  level: debug
guidance:
  "418": "The backend is a teapot."
`

// TestLoad verifies that Load unmarshals a file pointed to by CONFIG_PATH.
func TestLoad(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(sampleConfig); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://sally.example.com" {
		t.Fatalf("unexpected base url: %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Streaming {
		t.Fatalf("streaming should be disabled")
	}
	if got := cfg.Backend.RequestTimeout().Seconds(); got != 12 {
		t.Fatalf("unexpected request timeout: %v", got)
	}
	if cfg.Storage.Path != "/tmp/sally-test.db" {
		t.Fatalf("unexpected storage path: %s", cfg.Storage.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.Log.Level)
	}
	if cfg.Guidance["418"] != "The backend is a teapot." {
		t.Fatalf("guidance table not parsed: %v", cfg.Guidance)
	}
}

// TestLoad_MissingFileUsesDefaults verifies a missing config file is not fatal.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir()+"/does-not-exist.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Fatalf("default base url missing: %s", cfg.Backend.BaseURL)
	}
	if !cfg.Backend.Streaming {
		t.Fatalf("streaming should default to enabled")
	}
	if got := cfg.Backend.HealthTimeout().Seconds(); got != 4 {
		t.Fatalf("unexpected default health timeout: %v", got)
	}
}
