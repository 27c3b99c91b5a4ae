package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnvOverridesDefaults(t *testing.T) {
	env := map[string]string{
		"TELEGRAM_TOKEN": " token ",
		"TICK_INTERVAL":  "30s",
		"WORKERS":        "8",
		"TIMEZONE":       "Europe/Berlin",
	}
	cfg := Defaults()
	require.NoError(t, applyEnv(&cfg, func(k string) string { return env[k] }))

	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 2*time.Hour, cfg.DedupRetention)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"duration": {"CALL_TIMEOUT": "soon"},
		"negative": {"DEDUP_RETENTION": "-1h"},
		"workers":  {"WORKERS": "zero"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			assert.Error(t, applyEnv(&cfg, func(k string) string { return env[k] }))
		})
	}
}

func TestValidateTickInterval(t *testing.T) {
	cfg := Defaults()
	cfg.TickInterval = 2 * time.Minute
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "database_url: data/test.db\ntick_interval: 20s\nworkers: 2\nlog_format: json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := Defaults()
	require.NoError(t, applyFile(&cfg, path))
	assert.Equal(t, "data/test.db", cfg.DatabaseURL)
	assert.Equal(t, 20*time.Second, cfg.TickInterval)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}
