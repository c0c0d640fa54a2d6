// Package config loads and validates cadence configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cadence configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Workspace directory for logs and the ledger database
	Workspace string `yaml:"workspace"`

	// Session coordination
	Coordinator CoordinatorConfig `yaml:"coordinator"`

	// Audit ledger
	Ledger LedgerConfig `yaml:"ledger"`

	// Intent classification
	Classifier ClassifierConfig `yaml:"classifier"`

	// Intent routing
	Router RouterConfig `yaml:"router"`
}

// CoordinatorConfig tunes the session coordinator and its inactivity sweep.
type CoordinatorConfig struct {
	// MaxSessionAge is the inactivity budget before a session is ended
	// with reason "timeout".
	MaxSessionAge string `yaml:"max_session_age"`

	// SweepInterval is how often the background sweep runs.
	SweepInterval string `yaml:"sweep_interval"`

	// MaxCycleHistory bounds the list of finalized cycles kept in memory.
	MaxCycleHistory int `yaml:"max_cycle_history"`

	// KeepRecentSessions bounds terminal sub-sessions kept per registry.
	KeepRecentSessions int `yaml:"keep_recent_sessions"`
}

// LedgerConfig tunes the session-record ledger.
type LedgerConfig struct {
	// MaxRecords bounds the in-memory ring of records.
	MaxRecords int `yaml:"max_records"`

	// DatabasePath, when set, mirrors the ledger into a sqlite file.
	DatabasePath string `yaml:"database_path"`
}

// ClassifierConfig selects and configures the intent classifier.
type ClassifierConfig struct {
	Provider string `yaml:"provider"` // keyword, genai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// RouterConfig tunes the intent priority router.
type RouterConfig struct {
	// CatalogThreshold is the minimum relevance for a task-catalog match
	// to override the classifier's work mode.
	CatalogThreshold float64 `yaml:"catalog_threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:      "cadence",
		Version:   "0.3.0",
		Workspace: ".cadence",

		Coordinator: CoordinatorConfig{
			MaxSessionAge:      "24h",
			SweepInterval:      "300s",
			MaxCycleHistory:    100,
			KeepRecentSessions: 10,
		},

		Ledger: LedgerConfig{
			MaxRecords:   1000,
			DatabasePath: "",
		},

		Classifier: ClassifierConfig{
			Provider: "keyword",
			Model:    "gemini-2.0-flash",
		},

		Router: RouterConfig{
			CatalogThreshold: 0.3,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Classifier API key (check in priority order)
	if key := os.Getenv("CADENCE_GENAI_API_KEY"); key != "" {
		c.Classifier.APIKey = key
		if c.Classifier.Provider == "" || c.Classifier.Provider == "keyword" {
			c.Classifier.Provider = "genai"
		}
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Classifier.APIKey = key
		if c.Classifier.Provider == "" || c.Classifier.Provider == "keyword" {
			c.Classifier.Provider = "genai"
		}
	}

	if v := os.Getenv("CADENCE_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("CADENCE_MAX_SESSION_AGE"); v != "" {
		c.Coordinator.MaxSessionAge = v
	}
	if v := os.Getenv("CADENCE_SWEEP_INTERVAL"); v != "" {
		c.Coordinator.SweepInterval = v
	}
	if v := os.Getenv("CADENCE_LEDGER_DB"); v != "" {
		c.Ledger.DatabasePath = v
	}
	if v := os.Getenv("CADENCE_MAX_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ledger.MaxRecords = n
		}
	}
}

// Validate checks field ranges and duration syntax.
func (c *Config) Validate() error {
	if _, err := c.MaxSessionAge(); err != nil {
		return fmt.Errorf("invalid coordinator.max_session_age: %w", err)
	}
	if _, err := c.SweepInterval(); err != nil {
		return fmt.Errorf("invalid coordinator.sweep_interval: %w", err)
	}
	if c.Coordinator.MaxCycleHistory <= 0 {
		return fmt.Errorf("coordinator.max_cycle_history must be positive, got %d", c.Coordinator.MaxCycleHistory)
	}
	if c.Coordinator.KeepRecentSessions < 0 {
		return fmt.Errorf("coordinator.keep_recent_sessions must be >= 0, got %d", c.Coordinator.KeepRecentSessions)
	}
	if c.Ledger.MaxRecords <= 0 {
		return fmt.Errorf("ledger.max_records must be positive, got %d", c.Ledger.MaxRecords)
	}
	if c.Router.CatalogThreshold < 0 || c.Router.CatalogThreshold > 1 {
		return fmt.Errorf("router.catalog_threshold must be in [0,1], got %v", c.Router.CatalogThreshold)
	}
	switch c.Classifier.Provider {
	case "", "keyword", "genai":
	default:
		return fmt.Errorf("unknown classifier.provider %q", c.Classifier.Provider)
	}
	return nil
}

// MaxSessionAge parses the configured inactivity budget.
func (c *Config) MaxSessionAge() (time.Duration, error) {
	return parseDuration(c.Coordinator.MaxSessionAge, 24*time.Hour)
}

// SweepInterval parses the configured sweep interval.
func (c *Config) SweepInterval() (time.Duration, error) {
	return parseDuration(c.Coordinator.SweepInterval, 300*time.Second)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", d)
	}
	return d, nil
}
