// Package settings provides configuration loading for Ripcord.
// This package is separate from cli so that store and reconcile can import it
// without creating an import cycle (cli imports both).
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/jsonutil"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
)

const (
	// SettingsFile is the path to the Ripcord settings file
	SettingsFile = ".ripcord/settings.json"
	// SettingsLocalFile is the path to the local settings override file (not committed)
	SettingsLocalFile = ".ripcord/settings.local.json"
)

// Default debounce windows for the reconciliation engine, in milliseconds.
const (
	DefaultDebounceMs    = 250
	DefaultMaxDebounceMs = 1000
)

// Settings represents the .ripcord/settings.json configuration
type Settings struct {
	// Enabled indicates whether Ripcord is active. When false, CLI commands
	// show a disabled message and serve mode exits silently. Defaults to true.
	Enabled bool `json:"enabled"`

	// HistoryDir overrides where shadow history is stored. Empty means
	// .ripcord/history inside the workspace. An absolute path lets several
	// workspaces share one history location, with tasks isolated by branch.
	HistoryDir string `json:"history_dir,omitempty"`

	// DebounceMs is the quiet window after an edit before changes are
	// recomputed. Defaults to 250.
	DebounceMs int `json:"debounce_ms,omitempty"`

	// MaxDebounceMs caps how long recomputation can be deferred while edits
	// keep arriving. Defaults to 1000.
	MaxDebounceMs int `json:"max_debounce_ms,omitempty"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by RIPCORD_LOG_LEVEL environment variable.
	// Defaults to "info".
	LogLevel string `json:"log_level,omitempty"`

	// Exclude lists additional gitignore-style patterns that are never
	// checkpointed, on top of the built-in exclusions.
	Exclude []string `json:"exclude,omitempty"`

	// Metrics controls anonymous usage analytics.
	// nil = not asked yet (show prompt), true = opted in, false = opted out
	Metrics *bool `json:"metrics,omitempty"`
}

// Load loads the Ripcord settings from .ripcord/settings.json,
// then applies any overrides from .ripcord/settings.local.json if it exists.
// Returns default settings if neither file exists.
// Works correctly from any subdirectory within the workspace.
func Load() (*Settings, error) {
	settingsFileAbs, err := paths.AbsPath(SettingsFile)
	if err != nil {
		settingsFileAbs = SettingsFile // Fallback to relative
	}
	localSettingsFileAbs, err := paths.AbsPath(SettingsLocalFile)
	if err != nil {
		localSettingsFileAbs = SettingsLocalFile // Fallback to relative
	}

	// Load base settings
	settings, err := loadFromFile(settingsFileAbs)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	// Apply local overrides if they exist
	localData, err := os.ReadFile(localSettingsFileAbs) //nolint:gosec // path is from AbsPath or constant
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
		// Local file doesn't exist, continue without overrides
	} else {
		if err := mergeJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	applyDefaults(settings)

	return settings, nil
}

// loadFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func loadFromFile(filePath string) (*Settings, error) {
	settings := &Settings{
		Enabled: true, // Default to enabled
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(settings)
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	applyDefaults(settings)

	return settings, nil
}

// mergeJSON merges JSON data into existing settings.
// Only fields present in the JSON override existing settings.
func mergeJSON(settings *Settings, data []byte) error {
	// Parse into a map to check which fields are present
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	// Override enabled if present
	if enabledRaw, ok := raw["enabled"]; ok {
		var e bool
		if err := json.Unmarshal(enabledRaw, &e); err != nil {
			return fmt.Errorf("parsing enabled field: %w", err)
		}
		settings.Enabled = e
	}

	// Override history_dir if present and non-empty
	if historyDirRaw, ok := raw["history_dir"]; ok {
		var hd string
		if err := json.Unmarshal(historyDirRaw, &hd); err != nil {
			return fmt.Errorf("parsing history_dir field: %w", err)
		}
		if hd != "" {
			settings.HistoryDir = hd
		}
	}

	// Override debounce_ms if present and positive
	if debounceRaw, ok := raw["debounce_ms"]; ok {
		var d int
		if err := json.Unmarshal(debounceRaw, &d); err != nil {
			return fmt.Errorf("parsing debounce_ms field: %w", err)
		}
		if d > 0 {
			settings.DebounceMs = d
		}
	}

	// Override max_debounce_ms if present and positive
	if maxDebounceRaw, ok := raw["max_debounce_ms"]; ok {
		var d int
		if err := json.Unmarshal(maxDebounceRaw, &d); err != nil {
			return fmt.Errorf("parsing max_debounce_ms field: %w", err)
		}
		if d > 0 {
			settings.MaxDebounceMs = d
		}
	}

	// Override log_level if present and non-empty
	if logLevelRaw, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(logLevelRaw, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			settings.LogLevel = ll
		}
	}

	// Append exclude patterns if present
	if excludeRaw, ok := raw["exclude"]; ok {
		var ex []string
		if err := json.Unmarshal(excludeRaw, &ex); err != nil {
			return fmt.Errorf("parsing exclude field: %w", err)
		}
		settings.Exclude = append(settings.Exclude, ex...)
	}

	// Override metrics if present
	if metricsRaw, ok := raw["metrics"]; ok {
		var m bool
		if err := json.Unmarshal(metricsRaw, &m); err != nil {
			return fmt.Errorf("parsing metrics field: %w", err)
		}
		settings.Metrics = &m
	}

	return nil
}

func applyDefaults(settings *Settings) {
	if settings.DebounceMs <= 0 {
		settings.DebounceMs = DefaultDebounceMs
	}
	if settings.MaxDebounceMs <= 0 {
		settings.MaxDebounceMs = DefaultMaxDebounceMs
	}
	if settings.MaxDebounceMs < settings.DebounceMs {
		settings.MaxDebounceMs = settings.DebounceMs
	}
}

// Save writes settings to .ripcord/settings.json, creating the directory if
// needed. Local overrides are never written by this function.
func Save(settings *Settings) error {
	settingsFileAbs, err := paths.AbsPath(SettingsFile)
	if err != nil {
		settingsFileAbs = SettingsFile
	}

	if err := os.MkdirAll(filepath.Dir(settingsFileAbs), 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	if err := os.WriteFile(settingsFileAbs, data, 0o644); err != nil { //nolint:gosec // settings are not sensitive
		return fmt.Errorf("writing settings file: %w", err)
	}

	return nil
}

// IsEnabled checks whether Ripcord is enabled.
// Returns true by default if settings cannot be loaded.
func IsEnabled() bool {
	settings, err := Load()
	if err != nil {
		return true
	}
	return settings.Enabled
}

// GetLogLevel returns the configured log level, or empty string if settings
// cannot be loaded. Used as the logging package's level getter.
func GetLogLevel() string {
	settings, err := Load()
	if err != nil {
		return ""
	}
	return settings.LogLevel
}

// DebounceInterval returns the configured debounce window as a duration.
func (s *Settings) DebounceInterval() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// MaxDebounceInterval returns the configured debounce cap as a duration.
func (s *Settings) MaxDebounceInterval() time.Duration {
	return time.Duration(s.MaxDebounceMs) * time.Millisecond
}

// HistoryDirFor resolves the shadow history location for a workspace.
// Relative HistoryDir values are resolved against the workspace root.
func (s *Settings) HistoryDirFor(workspaceRoot string) string {
	if s.HistoryDir == "" {
		return paths.DefaultHistoryDir(workspaceRoot)
	}
	if filepath.IsAbs(s.HistoryDir) {
		return s.HistoryDir
	}
	return filepath.Join(workspaceRoot, s.HistoryDir)
}
