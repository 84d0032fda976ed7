// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("LEDGER_PATH")
	os.Unsetenv("HTTP_TIMEOUT_MS")
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Pipeline.WorkerCount)
	require.NotEmpty(t, cfg.Ledger.LogPath)
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("LEDGER_PATH", "/tmp/custom-ledger.ndjson")
	defer os.Unsetenv("LEDGER_PATH")
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom-ledger.ndjson", cfg.Ledger.LogPath)
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Pipeline.WorkerCount = 0
	require.Error(t, Validate(cfg))

	cfg = defaultConfig()
	cfg.Pipeline.BufferSize = 0
	require.Error(t, Validate(cfg))

	cfg = defaultConfig()
	cfg.Ledger.LogPath = ""
	require.Error(t, Validate(cfg))

	cfg = defaultConfig()
	cfg.Ledger.DedupCacheBackend = "postgres"
	require.Error(t, Validate(cfg))
}
