package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory with no user config and no
// GENWATCH_* variables leaking in from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	for _, spec := range getEnvSpecs() {
		t.Setenv(spec.Name, "")
		require.NoError(t, os.Unsetenv(spec.Name))
	}
	t.Setenv(EnvConfigFile, "")
	return dir
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "http://localhost:8088", cfg.API.BaseURL)
		assert.Empty(t, cfg.API.Key)
		assert.Equal(t, 60*time.Second, cfg.API.Timeout)
		assert.Zero(t, cfg.API.RateLimit)
		assert.Equal(t, 1, cfg.API.Burst)
		assert.Equal(t, "/v1/models", cfg.API.ListPath)
		assert.Equal(t, "/v1/images/generations", cfg.API.SubmitPath)
		assert.Equal(t, "/v1/tasks/{task_id}/stream", cfg.API.StreamPath)

		assert.Equal(t, 1<<20, cfg.Stream.MaxLineBytes)
		assert.Empty(t, cfg.Defaults.Model)
		assert.Equal(t, "720x1280", cfg.Defaults.Size)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, OutputText, cfg.Output.Format)
		assert.False(t, cfg.Output.Copy)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)

		overrides := map[string]any{
			"api": map[string]any{
				"base_url": "http://api.test:9000/",
				"key":      "k1",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "http://api.test:9000", cfg.API.BaseURL)
		assert.Equal(t, "k1", cfg.API.Key)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "720x1280", cfg.Defaults.Size)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("GENWATCH_API_KEY", "from-env")
		t.Setenv("GENWATCH_LOG_LEVEL", "warn")
		t.Setenv("GENWATCH_COPY", "true")
		t.Setenv("GENWATCH_OUTPUT", "JSONL")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.API.Key)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.True(t, cfg.Output.Copy)
		assert.Equal(t, OutputJSONL, cfg.Output.Format)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, ConfigFileName), "api:\n  key: from-file\n  burst: 3\ndefaults:\n  model: file-model\n")
		t.Setenv("GENWATCH_API_KEY", "from-env")

		cfg, err := Load(ctx, map[string]any{"api": map[string]any{"key": "from-override"}})
		require.NoError(t, err)

		assert.Equal(t, "from-override", cfg.API.Key)
		assert.Equal(t, 3, cfg.API.Burst)
		assert.Equal(t, "file-model", cfg.Defaults.Model)
	})

	t.Run("EnvBeatsFile", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, ConfigFileName), "api:\n  key: from-file\n")
		t.Setenv("GENWATCH_API_KEY", "from-env")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.API.Key)
	})

	t.Run("DotEnv", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, ".env"), "GENWATCH_API_KEY=dotenv-key\n")
		t.Cleanup(func() { _ = os.Unsetenv("GENWATCH_API_KEY") })

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "dotenv-key", cfg.API.Key)
	})

	t.Run("ExplicitConfigFile", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "custom.yaml")
		writeFile(t, path, "output:\n  format: jsonl\n")
		t.Setenv(EnvConfigFile, path)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutputJSONL, cfg.Output.Format)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		isolate(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Load(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("GENWATCH_TIMEOUT", "45s")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{"bad output format", map[string]any{"output": map[string]any{"format": "table"}}, "output.format"},
		{"stream path without placeholder", map[string]any{"api": map[string]any{"stream_path": "/v1/stream"}}, "{task_id}"},
		{"zero burst", map[string]any{"api": map[string]any{"burst": 0}}, "api.burst"},
		{"negative rate", map[string]any{"api": map[string]any{"rate_limit": -1}}, "api.rate_limit"},
		{"empty base url", map[string]any{"api": map[string]any{"base_url": " "}}, "api.base_url"},
		{"zero max line", map[string]any{"stream": map[string]any{"max_line_bytes": 0}}, "stream.max_line_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetConfig(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background(), map[string]any{"defaults": map[string]any{"model": "m9"}})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Defaults.Model, current.Defaults.Model)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	seen := make(map[string]bool)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, EnvPrefix+"_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		assert.False(t, seen[spec.Name], "duplicate env var %s", spec.Name)
		seen[spec.Name] = true
	}
	assert.True(t, seen["GENWATCH_API_KEY"])
	assert.True(t, seen["GENWATCH_BASE_URL"])
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"API":    map[string]any{"Key": "k", "burst": 2},
		"output": map[string]any{"copy": true},
	})
	assert.Equal(t, map[string]any{"api.key": "k", "api.burst": 2, "output.copy": true}, got)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
