package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"meridian/internal/config"
	"meridian/internal/logging"
	"meridian/internal/retry"
	"meridian/internal/session"
	"meridian/internal/store"
	"meridian/internal/syncer"
	"meridian/internal/tools"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	dbPath     string
	configPath string

	// Loaded at startup
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "meridian",
	Short: "meridian - document draft reconciliation engine",
	Long: `meridian reconciles a human-edited document with an AI-authored draft.

AI edits accumulate in a reviewable draft beside the canonical content.
The merge codec renders both versions as one marked-up buffer whose
change regions (hunks) can be accepted or rejected one at a time, and
the sync layer persists every decision optimistically with conflict
detection and retry.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}

		if configPath == "" {
			configPath = filepath.Join(workspace, ".meridian", "config.yaml")
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if dbPath != "" {
			cfg.Storage.DatabasePath = dbPath
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// openStore opens the configured document store.
func openStore() (*store.LocalStore, error) {
	path := cfg.Storage.DatabasePath
	if !filepath.IsAbs(path) && path != ":memory:" {
		path = filepath.Join(workspace, path)
	}
	return store.NewLocalStore(path)
}

// newEditor builds the tool surface over a store.
func newEditor(s *store.LocalStore) (*tools.Registry, *session.Manager) {
	manager := session.NewManager(s)
	reg := tools.NewRegistry()
	limits := tools.Limits{
		MaxDocumentBytes: cfg.Limits.MaxDocumentBytes,
		MaxEditBytes:     cfg.Limits.MaxEditBytes,
	}
	tools.NewDocEditor(s, manager, nil, nil, limits).RegisterAll(reg)
	return reg, manager
}

// newCoordinator builds the sync coordinator over a store, with retry
// parameters from config.
func newCoordinator(s *store.LocalStore) *syncer.Coordinator {
	return syncer.NewCoordinator(
		syncer.NewMemoryCache(),
		&syncer.DocumentRemote{Store: s},
		retry.Config{
			Backoff: retry.ExponentialBackoff{
				Base:   cfg.GetBaseBackoff(),
				Max:    cfg.GetMaxBackoff(),
				Jitter: cfg.Sync.Jitter,
			},
			MaxAttempts:  cfg.Sync.MaxAttempts,
			TickInterval: cfg.GetTickInterval(),
		},
	)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .meridian/config.yaml)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(hunksCmd)
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
