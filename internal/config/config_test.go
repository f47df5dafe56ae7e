package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := Load()
	assert.Equal(t, "memory", cfg.DBDriver)
	assert.Equal(t, 5, cfg.DefaultWindowMinutes)
	assert.Equal(t, 5.0, cfg.MaxBeaconDistance)
	assert.Equal(t, 0.5, cfg.GraceFraction)
	assert.Equal(t, -75, cfg.MinRSSI)
	assert.Equal(t, "reject", cfg.ConflictPolicy)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.False(t, cfg.AuthRequired)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("MAX_BEACON_DISTANCE", "3.5")
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("SESSION_CONFLICT_POLICY", "replace")

	cfg := Load()
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, 3.5, cfg.MaxBeaconDistance)
	assert.True(t, cfg.AuthRequired)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, "replace", cfg.ConflictPolicy)
}

func TestInvalidValuesFallBack(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("GRACE_FRACTION", "half")
	t.Setenv("ACCESS_TTL", "forever")

	cfg := Load()
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, 0.5, cfg.GraceFraction)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
}

func TestValidateRejectsUnknownSettings(t *testing.T) {
	chdir(t, t.TempDir())
	base := Load()

	cases := map[string]func(*App){
		"driver":   func(a *App) { a.DBDriver = "mongo" },
		"policy":   func(a *App) { a.ConflictPolicy = "merge" },
		"mode":     func(a *App) { a.ProximityMode = "gps" },
		"grace":    func(a *App) { a.GraceFraction = 0 },
		"window":   func(a *App) { a.DefaultWindowMinutes = 61 },
		"distance": func(a *App) { a.MaxBeaconDistance = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent to testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
