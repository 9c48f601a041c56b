package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 500, cfg.Solar.DebounceMs)
	assert.Equal(t, 500*time.Millisecond, cfg.Solar.Debounce())
	assert.InDelta(t, 0.15, cfg.Solar.ModuleEfficiency, 1e-9)
	assert.InDelta(t, 0.05, cfg.Solar.MinCapacityKW, 1e-9)
	assert.InDelta(t, 500000, cfg.Solar.MaxCapacityKW, 1e-9)
	assert.Equal(t, "https://developer.nrel.gov/api/pvwatts/v8.json", cfg.PVWatts.BaseURL)
	assert.Equal(t, "DEMO_KEY", cfg.PVWatts.Key)
	assert.Equal(t, 30*time.Second, cfg.PVWatts.Timeout())
	assert.Equal(t, 1, cfg.PVWatts.ArrayType)
	assert.InDelta(t, 14, cfg.PVWatts.Losses, 1e-9)
	assert.InDelta(t, 180, cfg.PVWatts.Azimuth, 1e-9)
	assert.Equal(t, "nsrdb", cfg.PVWatts.Dataset)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.Server.SessionIdleMinutes)

	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
solar:
  debounce_ms: 250
  module_efficiency: 0.2
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Solar.DebounceMs)
	assert.InDelta(t, 0.2, cfg.Solar.ModuleEfficiency, 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.InDelta(t, 500000, cfg.Solar.MaxCapacityKW, 1e-9)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
solar:
  module_efficiency: 0.2
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SOLAR_SOLAR_MODULE_EFFICIENCY", "0.18")
	t.Setenv("SOLAR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.InDelta(t, 0.18, cfg.Solar.ModuleEfficiency, 1e-9)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SOLAR_SERVER_PORT", "3000")
	t.Setenv("SOLAR_PVWATTS_KEY", "nrel-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "nrel-key", cfg.PVWatts.Key)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("solar: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Solar.DebounceMs = 500
	cfg.Solar.ModuleEfficiency = 0.15
	cfg.Solar.MinCapacityKW = 0.05
	cfg.Solar.MaxCapacityKW = 500000
	cfg.PVWatts.BaseURL = "https://developer.nrel.gov/api/pvwatts/v8.json"
	cfg.PVWatts.TimeoutSecs = 30
	cfg.Server.Port = 8080
	cfg.Server.EditRatePerSec = 20
	cfg.Server.EditBurst = 40
	cfg.Server.SessionIdleMinutes = 30
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "estimate", "validate"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateEfficiencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Solar.ModuleEfficiency = 0
	err := cfg.Validate("estimate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "module_efficiency")

	cfg.Solar.ModuleEfficiency = 1.01
	assert.Error(t, cfg.Validate("estimate"))

	cfg.Solar.ModuleEfficiency = 1
	assert.NoError(t, cfg.Validate("estimate"))
}

func TestValidateCapacityBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Solar.MinCapacityKW = 0
	err := cfg.Validate("estimate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "min_capacity_kw must be > 0")

	cfg.Solar.MinCapacityKW = 10
	cfg.Solar.MaxCapacityKW = 10
	err = cfg.Validate("estimate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must exceed")
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Solar.DebounceMs = 0
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debounce_ms")
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServeOnlyChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Server.SessionIdleMinutes = 0

	assert.NoError(t, cfg.Validate("estimate"))
	assert.Error(t, cfg.Validate("serve"))
}

func TestValidateSkipsPVWattsForValidateMode(t *testing.T) {
	cfg := validDefaults()
	cfg.PVWatts.BaseURL = ""
	cfg.PVWatts.TimeoutSecs = 0

	assert.NoError(t, cfg.Validate("validate"))

	err := cfg.Validate("estimate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pvwatts.base_url is required")
}
