package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	age, err := cfg.MaxSessionAge()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, age)

	interval, err := cfg.SweepInterval()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, interval)

	assert.Equal(t, 1000, cfg.Ledger.MaxRecords)
	assert.Equal(t, 0.3, cfg.Router.CatalogThreshold)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cadence", cfg.Name)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	body := `
coordinator:
  max_session_age: 30m
  sweep_interval: 5s
  max_cycle_history: 20
  keep_recent_sessions: 3
ledger:
  max_records: 50
router:
  catalog_threshold: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	age, err := cfg.MaxSessionAge()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, age)

	interval, err := cfg.SweepInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, interval)

	assert.Equal(t, 50, cfg.Ledger.MaxRecords)
	assert.Equal(t, 0.5, cfg.Router.CatalogThreshold)
	assert.Equal(t, 3, cfg.Coordinator.KeepRecentSessions)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  sweep_interval: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep_interval")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Run("negative history", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Coordinator.MaxCycleHistory = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("threshold out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Router.CatalogThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown classifier", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Classifier.Provider = "oracle"
		assert.Error(t, cfg.Validate())
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GENAI key switches provider from keyword", func(t *testing.T) {
		t.Setenv("CADENCE_GENAI_API_KEY", "key-1")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "key-1", cfg.Classifier.APIKey)
		assert.Equal(t, "genai", cfg.Classifier.Provider)
	})

	t.Run("CADENCE key wins over GEMINI key", func(t *testing.T) {
		t.Setenv("CADENCE_GENAI_API_KEY", "key-1")
		t.Setenv("GEMINI_API_KEY", "key-2")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "key-1", cfg.Classifier.APIKey)
	})

	t.Run("tunables", func(t *testing.T) {
		t.Setenv("CADENCE_MAX_SESSION_AGE", "10m")
		t.Setenv("CADENCE_SWEEP_INTERVAL", "1s")
		t.Setenv("CADENCE_MAX_RECORDS", "7")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "10m", cfg.Coordinator.MaxSessionAge)
		assert.Equal(t, "1s", cfg.Coordinator.SweepInterval)
		assert.Equal(t, 7, cfg.Ledger.MaxRecords)
	})

	t.Run("bad max_records ignored", func(t *testing.T) {
		t.Setenv("CADENCE_MAX_RECORDS", "lots")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 1000, cfg.Ledger.MaxRecords)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cadence.yaml")

	cfg := DefaultConfig()
	cfg.Coordinator.SweepInterval = "42s"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "42s", loaded.Coordinator.SweepInterval)
}
