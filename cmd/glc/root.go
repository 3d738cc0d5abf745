package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BadgerOps/glc/internal/api"
	"github.com/BadgerOps/glc/internal/config"
	"github.com/BadgerOps/glc/internal/safety"
	"github.com/BadgerOps/glc/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath     string
	projectDir  string
	environment string
	logLevel    string
	logFormat   string
	quiet       bool
	globalCfg   *config.Config
	logger      *slog.Logger

	// Global components
	globalClient *api.Client
	globalStore  *store.Store
)

// initializeComponents builds the API client shared by every command
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	httpClient, err := safety.NewHTTPClientFor(globalCfg.APIURL(), globalCfg.API.Timeout.Std(), globalCfg.API.InsecureLoopback)
	if err != nil {
		return fmt.Errorf("invalid API URL %q: %w", globalCfg.APIURL(), err)
	}

	opts := []api.Option{
		api.WithHTTPClient(httpClient),
		api.WithUserAgent("glc/" + version),
	}
	if globalCfg.API.Token != "" {
		opts = append(opts, api.WithToken(globalCfg.API.Token))
	}
	globalClient = api.NewClient(globalCfg.APIURL(), logger, opts...)

	logger.Debug("components initialized", "api", globalCfg.APIURL(), "environment", globalCfg.API.Environment)
	return nil
}

// openStore opens the run history database
func openStore() error {
	if globalStore != nil {
		return nil
	}
	dbPath := globalCfg.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	globalStore = st
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true,
		"path":    true,
		"presets": true,
		"build":   true,
		"history": true,
	}
	return skipInitCmds[cmdName]
}

// needsStore reports whether a command reads or writes run history
func needsStore(cmdName string) bool {
	return cmdName == "upload" || cmdName == "history" || cmdName == "finalize"
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glc",
		Short: "Package Godot builds and upload them to Game Launcher Cloud",
		Long: `glc exports a Godot project, compresses the result into a single archive
and uploads it to Game Launcher Cloud. Archives over 500 MiB are sent as a
multipart upload against presigned storage URLs; the build is finalized once
every part has been acknowledged.`,
		Example: `  glc login --api-key $GLC_API_KEY
  glc apps
  glc presets
  glc upload --app-id 42 --preset "Windows Desktop"
  glc upload --app-id 42 --skip-build --wait
  glc history
  glc finalize 2b1c...`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if projectDir != "" {
				globalCfg.Project.Dir = projectDir
			}
			if environment != "" {
				globalCfg.API.Environment = config.Environment(strings.ToLower(environment))
				if err := globalCfg.Validate(); err != nil {
					return err
				}
			}
			if key := os.Getenv("GLC_API_KEY"); key != "" && globalCfg.ResolvedAPIKey() == "" {
				globalCfg.API.APIKey = key
			}

			logger.Debug("config loaded", "path", cfgPath, "project", globalCfg.ProjectDir())

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}
			if needsStore(cmd.Name()) {
				if err := openStore(); err != nil {
					return err
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&projectDir, "project", "", "override project directory")
	cmd.PersistentFlags().StringVar(&environment, "env", "", "service environment (production, staging, development)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress progress output")

	// Add subcommands
	cmd.AddCommand(
		newLoginCmd(),
		newAppsCmd(),
		newPresetsCmd(),
		newBuildCmd(),
		newUploadCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newFinalizeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// configSavePath is where persisted selections are written.
func configSavePath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.UserConfigPath()
}
