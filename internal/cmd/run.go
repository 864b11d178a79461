package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atelier-chat/atelier/internal/appdir"
	"github.com/atelier-chat/atelier/internal/backend"
	"github.com/atelier-chat/atelier/internal/config"
	"github.com/atelier-chat/atelier/internal/engine"
	"github.com/atelier-chat/atelier/internal/events"
	"github.com/atelier-chat/atelier/internal/logging"
)

var spaceID string

// runCmd connects to the backend, subscribes to the lifecycle event feed,
// and keeps the session engine running until interrupted. The desktop shell
// embeds the same wiring; this command runs it headless.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the session engine against a backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.App()

		client := backend.New(settings.BackendURL)
		eng := engine.New(engine.Options{
			Backend:       client,
			CacheCapacity: settings.CacheCapacity,
			Logger:        logging.Engine(),
			OnOpenPlan: func(spaceID, conversationID string) {
				logging.Engine().Info("Plan ready",
					"space_id", spaceID,
					"conversation_id", conversationID)
			},
		})

		feed := events.NewFeed(events.FeedOptions{
			URL:     settings.ResolveEventsURL(),
			Handler: eng,
			Logger:  logging.Events(),
			OnStateChange: func(s events.ConnectionState) {
				logging.Events().Info("Feed state changed", "state", s.String())
			},
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if spaceID != "" {
			eng.SetCurrentSpace(spaceID)
			if _, err := eng.LoadConversations(ctx, spaceID); err != nil {
				logger.Warn("Failed to load conversations", "space_id", spaceID, "error", err)
			}
		}

		// Live-reload logging settings when the settings file changes.
		settingsPath, err := appdir.SettingsPath()
		if err == nil {
			watcher, werr := config.NewSettingsWatcher(settingsPath, func(s config.Settings) {
				logger.Info("Settings reloaded", "path", settingsPath)
				if s.Logging.Level != settings.Logging.Level {
					if err := logging.Initialize(logging.Config{
						Level:      s.Logging.Level,
						JSON:       s.Logging.JSON,
						Components: s.Logging.Components,
					}); err != nil {
						logger.Warn("Failed to apply logging settings", "error", err)
					}
				}
				settings = s
			}, logging.App())
			if werr != nil {
				logger.Warn("Settings watcher unavailable", "error", werr)
			} else {
				watcher.Start()
				defer watcher.Close()
			}
		}

		logger.Info("Engine running",
			"backend_url", settings.BackendURL,
			"events_url", settings.ResolveEventsURL())

		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("event feed: %w", err)
		}
		logger.Info("Shutting down")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&spaceID, "space", "", "space to focus on startup")
	rootCmd.AddCommand(runCmd)
}
