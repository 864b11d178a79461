// Package cmd provides the CLI commands for Atelier.
package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atelier-chat/atelier/internal/appdir"
	"github.com/atelier-chat/atelier/internal/config"
	"github.com/atelier-chat/atelier/internal/logging"
)

var (
	// Global flags
	backendURL    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string
	logJSON       bool

	// Loaded configuration
	settings config.Settings
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Atelier - conversation engine for AI coding assistants",
	Long: `Atelier maintains live conversation state for AI coding assistants:
it subscribes to the backend's lifecycle event stream, folds streaming
text, tool calls, and thoughts into per-conversation sessions, and keeps
a bounded cache of fully-loaded conversations consistent with the backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Atelier directory: %w", err)
		}

		var err error
		settings, err = config.LoadDefault()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if backendURL != "" {
			settings.BackendURL = backendURL
		}

		// Priority: --log-level flag > --debug flag > settings > default (info)
		effectiveLogLevel := settings.Logging.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}

		components := settings.Logging.Components
		if logComponents != "" {
			components = nil
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}

		fileLogPath := settings.Logging.File
		if logFile != "" {
			fileLogPath = logFile
		}
		var fileLog *logging.FileLogConfig
		if fileLogPath != "" {
			flc := logging.DefaultFileLogConfig()
			flc.Path = fileLogPath
			fileLog = &flc
		} else if logsDir, err := appdir.LogsDir(); err == nil {
			flc := logging.DefaultFileLogConfig()
			flc.Path = filepath.Join(logsDir, "atelier.log")
			fileLog = &flc
		}

		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			FileLog:    fileLog,
			JSON:       logJSON || settings.Logging.JSON,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend base URL (overrides settings)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (overrides settings)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "comma-separated list of components to log")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log in JSON format")
}
