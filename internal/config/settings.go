// Package config provides settings loading and live-reload support for Atelier.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atelier-chat/atelier/internal/appdir"
)

// DefaultCacheCapacity is the default number of fully-loaded conversations
// kept in memory.
const DefaultCacheCapacity = 10

// LoggingSettings holds the logging section of the settings file.
type LoggingSettings struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`
	// File is an optional log file path. Rotation is handled automatically.
	File string `yaml:"file,omitempty"`
	// JSON enables JSON log output.
	JSON bool `yaml:"json,omitempty"`
	// Components limits logging to the named components (empty means all).
	Components []string `yaml:"components,omitempty"`
}

// Settings holds the persisted Atelier configuration.
type Settings struct {
	// BackendURL is the base URL of the backend process (e.g., "http://localhost:7323").
	BackendURL string `yaml:"backend_url"`

	// EventsURL is the WebSocket URL for the lifecycle event stream.
	// If empty, it is derived from BackendURL.
	EventsURL string `yaml:"events_url,omitempty"`

	// CacheCapacity is the maximum number of fully-loaded conversations
	// kept in memory. Defaults to DefaultCacheCapacity.
	CacheCapacity int `yaml:"cache_capacity,omitempty"`

	// Logging configures log output.
	Logging LoggingSettings `yaml:"logging,omitempty"`
}

// DefaultSettings returns settings with sensible defaults applied.
func DefaultSettings() Settings {
	return Settings{
		BackendURL:    "http://localhost:7323",
		CacheCapacity: DefaultCacheCapacity,
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// applyDefaults fills in zero-valued fields with defaults.
func (s *Settings) applyDefaults() {
	if s.BackendURL == "" {
		s.BackendURL = "http://localhost:7323"
	}
	if s.CacheCapacity <= 0 {
		s.CacheCapacity = DefaultCacheCapacity
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
}

// LoadSettings reads the settings file from the given path.
// If the file does not exist, default settings are returned without error.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	s.applyDefaults()
	return s, nil
}

// SaveSettings writes the settings to the given path, creating parent
// directories as needed.
func SaveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file %s: %w", path, err)
	}
	return nil
}

// ResolveEventsURL returns the WebSocket endpoint for the lifecycle event
// stream, deriving it from BackendURL when EventsURL is not set explicitly.
func (s Settings) ResolveEventsURL() string {
	if s.EventsURL != "" {
		return s.EventsURL
	}
	ws := s.BackendURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/atelier/ws"
}

// LoadDefault loads settings from the platform-native location.
func LoadDefault() (Settings, error) {
	path, err := appdir.SettingsPath()
	if err != nil {
		return Settings{}, err
	}
	return LoadSettings(path)
}
