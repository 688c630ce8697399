package cli

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionalPath(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"config.yaml"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "config.yaml", cfg.ConfigPath)
	assert.Equal(t, ".cache/paths", cfg.CacheDir)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
}

func TestParseConfigFlags(t *testing.T) {
	t.Run("long form", func(t *testing.T) {
		var out bytes.Buffer
		cfg, _, err := Parse([]string{"-config", "a.hcl"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "a.hcl", cfg.ConfigPath)
	})

	t.Run("shorthand", func(t *testing.T) {
		var out bytes.Buffer
		cfg, _, err := Parse([]string{"-c", "b.hcl"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "b.hcl", cfg.ConfigPath)
	})

	t.Run("long form wins over positional", func(t *testing.T) {
		var out bytes.Buffer
		cfg, _, err := Parse([]string{"-config", "a.hcl", "b.hcl"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "a.hcl", cfg.ConfigPath)
	})
}

func TestParseOptions(t *testing.T) {
	var out bytes.Buffer
	cfg, _, err := Parse([]string{
		"-cache-dir", "/tmp/cache",
		"-log-format", "JSON",
		"-log-level", "Debug",
		"-workers", "3",
		"config.yaml",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cache", cfg.CacheDir)
	assert.Equal(t, "json", cfg.LogFormat, "format is case-insensitive")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Workers)
}

func TestParseMissingPathPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, exit, "missing path is a clean exit, not a failure")
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "CONFIG_PATH")
}

func TestParseHelp(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"-h"}, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
}

func TestParseInvalidInput(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-bogus", "config.yaml"}},
		{"bad log format", []string{"-log-format", "xml", "config.yaml"}},
		{"bad log level", []string{"-log-level", "verbose", "config.yaml"}},
		{"zero workers", []string{"-workers", "0", "config.yaml"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			_, _, err := Parse(tc.args, &out)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}
