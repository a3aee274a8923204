package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sliding", cfg.RateLimit.HourlyWindow)
	assert.Equal(t, 10, cfg.RateLimit.MaxPerHour)
	assert.Equal(t, "info", cfg.Audit.MinSeverity)
	assert.Equal(t, 10_000, cfg.Audit.MaxEvents)
	assert.Equal(t, 2*time.Minute, cfg.Withdrawal.SubmitTimeout)
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server:\n  port: 9000\nrate_limit:\n  max_per_hour: 3\n"), 0o644))

	t.Setenv("SWB_SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	// env beats file beats defaults
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.RateLimit.MaxPerHour)
	assert.Equal(t, 50, cfg.RateLimit.MaxPerDay)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.RateLimit.HourlyWindow = "monthly"
	assert.Error(t, cfg.Validate())

	cfg.RateLimit.HourlyWindow = "fixed"
	require.NoError(t, cfg.Validate())

	cfg.Audit.MinSeverity = "debug"
	assert.Error(t, cfg.Validate())

	cfg.Audit.MinSeverity = "warning"
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}
