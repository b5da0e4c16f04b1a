package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("THRESHOLDS_FILE", "")
	t.Setenv("ALERT_RECIPIENTS", " cs@example.com, ,sales@example.com ")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"cs@example.com", "sales@example.com"}, cfg.AlertRecipients)
	assert.Equal(t, 1.5, cfg.Policy.OverConsumingRatio)
	assert.Equal(t, 0.5, cfg.Policy.UnderConsumingRatio)
	assert.Equal(t, 90.0, cfg.Display.AtRiskBurnPercent)
}

func TestNewConfig_InvalidValues(t *testing.T) {
	t.Setenv("CACHE_TTL", "soon")
	_, err := NewConfig()
	assert.ErrorContains(t, err, "CACHE_TTL")
}

func TestNewConfig_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := NewConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestNewConfig_ThresholdsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
classifier:
  over_consuming_ratio: 1.3
display:
  warning_window_days: 30
`), 0o600))
	t.Setenv("THRESHOLDS_FILE", path)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 1.3, cfg.Policy.OverConsumingRatio)
	assert.Equal(t, 0.5, cfg.Policy.UnderConsumingRatio)
	assert.Equal(t, 30, cfg.Display.WarningWindowDays)
	assert.Equal(t, 70.0, cfg.Display.OnTrackBurnPercent)
}

func TestNewConfig_RejectsCrossedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classifier:\n  under_consuming_ratio: 2\n"), 0o600))
	t.Setenv("THRESHOLDS_FILE", path)

	_, err := NewConfig()
	assert.ErrorContains(t, err, "under_consuming_ratio")
}
