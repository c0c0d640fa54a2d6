// Package main implements the cadence CLI: an interactive session
// coordinator driven by classified user intent.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"cadence/internal/classify"
	"cadence/internal/config"
	"cadence/internal/coordinator"
	"cadence/internal/executor"
	"cadence/internal/ledger"
	"cadence/internal/logging"
	"cadence/internal/router"
	"cadence/internal/types"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	workspace  string

	// Loaded in PersistentPreRunE, shared by all commands.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - intent-routed session coordinator",
	Long: `cadence coordinates nested interaction sessions: one top-level cycle
per exchange, with conversation and task sub-sessions underneath.

User input is classified into intent segments (call, chat, work, response)
and routed by priority; every session leaves an audit record in the ledger.

Run without arguments to start the interactive loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if workspace != "" {
			cfg.Workspace = workspace
		}
		if err := logging.Initialize(cfg.Workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logging.Boot("cadence %s starting (workspace=%s)", cfg.Version, cfg.Workspace)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the config file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory override")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cadence.yaml"
	}
	return filepath.Join(home, ".cadence", "cadence.yaml")
}

// buildCoordinator wires the full stack from the loaded config. The caller
// owns the returned store and must close it.
func buildCoordinator() (*coordinator.Coordinator, *ledger.Store, error) {
	var store *ledger.Store
	if cfg.Ledger.DatabasePath != "" {
		var err error
		store, err = ledger.OpenStore(cfg.Ledger.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open ledger store: %w", err)
		}
	}

	bus := &types.Bus{}
	lg := ledger.New(ledger.Options{
		MaxRecords: cfg.Ledger.MaxRecords,
		Bus:        bus,
		Store:      store,
	})

	classifier, err := buildClassifier()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	maxAge, err := cfg.MaxSessionAge()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	sweep, err := cfg.SweepInterval()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	coord := coordinator.New(coordinator.Options{
		MaxSessionAge:      maxAge,
		SweepInterval:      sweep,
		MaxCycleHistory:    cfg.Coordinator.MaxCycleHistory,
		KeepRecentSessions: cfg.Coordinator.KeepRecentSessions,
		Bus:                bus,
		Ledger:             lg,
		Router:             router.New(nil, cfg.Router.CatalogThreshold),
		Classifier:         classifier,
		Executors:          executor.NewDefaultRegistry(),
		Async:              executor.NewAsyncRunner(),
	})
	return coord, store, nil
}

func buildClassifier() (types.IntentClassifier, error) {
	switch cfg.Classifier.Provider {
	case "genai":
		c, err := classify.NewGenAIClassifier(cfg.Classifier.APIKey, cfg.Classifier.Model)
		if err != nil {
			logging.Boot("genai classifier unavailable, falling back to keywords: %v", err)
			return classify.NewKeywordClassifier(), nil
		}
		return c, nil
	default:
		return classify.NewKeywordClassifier(), nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
