// Package models contains data structures used throughout the application
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSettings is wrapped by every validation failure
var ErrInvalidSettings = errors.New("invalid settings")

// Interval and zero-elapsed mode names accepted in the delta section
const (
	IntervalsFractional = "fractional"
	IntervalsTruncated  = "truncated"

	ZeroElapsedNoData = "no_data"
	ZeroElapsedClamp  = "clamp"
)

// Settings contains all application settings
type Settings struct {
	Nightscout NightscoutSettings `yaml:"nightscout"`
	Delta      DeltaSettings      `yaml:"delta"`
	Badge      BadgeSettings      `yaml:"badge"`
	Alerts     AlertSettings      `yaml:"alerts"`
	Log        LogSettings        `yaml:"log"`
}

// NightscoutSettings holds the connection settings
type NightscoutSettings struct {
	URL       string        `yaml:"url"`
	APISecret string        `yaml:"api_secret"` // Plain API secret (will be hashed)
	APIToken  string        `yaml:"api_token"`  // Token-based auth
	UseToken  bool          `yaml:"use_token"`  // Use token instead of secret
	Timeout   time.Duration `yaml:"timeout"`
	Refresh   time.Duration `yaml:"refresh"` // Poll interval in watch mode
}

// DeltaSettings holds the tunables of the delta estimator
type DeltaSettings struct {
	Lookback        time.Duration `yaml:"lookback"`
	WindowHalfWidth time.Duration `yaml:"window_half_width"`
	MinValidValue   float64       `yaml:"min_valid_value"`
	ReportInterval  time.Duration `yaml:"report_interval"`
	Intervals       string        `yaml:"intervals"`    // "fractional" or "truncated"
	ZeroElapsed     string        `yaml:"zero_elapsed"` // "no_data" or "clamp"
	MinElapsed      time.Duration `yaml:"min_elapsed"`
}

// BadgeSettings controls the rendered PNG badge.
// Glucose thresholds are in mg/dL.
type BadgeSettings struct {
	Path         string `yaml:"path"` // Empty disables rendering
	ColorInRange string `yaml:"color_in_range"`
	ColorHigh    string `yaml:"color_high"`
	ColorLow     string `yaml:"color_low"`
	ColorUrgent  string `yaml:"color_urgent"`
	TargetLow    int    `yaml:"target_low"`
	TargetHigh   int    `yaml:"target_high"`
	UrgentLow    int    `yaml:"urgent_low"`
	UrgentHigh   int    `yaml:"urgent_high"`
}

// AlertSettings controls desktop notifications.
// Glucose alerts use the badge thresholds.
type AlertSettings struct {
	Enabled          bool          `yaml:"enabled"`
	UrgentLow        bool          `yaml:"urgent_low"`
	Low              bool          `yaml:"low"`
	High             bool          `yaml:"high"`
	UrgentHigh       bool          `yaml:"urgent_high"`
	RapidChange      float64       `yaml:"rapid_change"` // mg/dL per 5 min, 0 disables
	RepeatInterval   time.Duration `yaml:"repeat_interval"`
	NotifyOnRecovery bool          `yaml:"notify_on_recovery"`
}

// LogSettings controls the logger
type LogSettings struct {
	Debug bool `yaml:"debug"`
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		Nightscout: NightscoutSettings{
			Timeout: 30 * time.Second,
			Refresh: time.Minute,
		},
		Delta: DeltaSettings{
			Lookback:        5 * time.Minute,
			WindowHalfWidth: 150 * time.Second,
			MinValidValue:   39,
			ReportInterval:  5 * time.Minute,
			Intervals:       IntervalsFractional,
			ZeroElapsed:     ZeroElapsedNoData,
			MinElapsed:      time.Minute,
		},
		Badge: BadgeSettings{
			ColorInRange: "#4ade80", // Green
			ColorHigh:    "#facc15", // Yellow
			ColorLow:     "#f97316", // Orange
			ColorUrgent:  "#ef4444", // Red
			TargetLow:    70,
			TargetHigh:   180,
			UrgentLow:    55,
			UrgentHigh:   250,
		},
		Alerts: AlertSettings{
			UrgentLow:      true,
			Low:            true,
			High:           true,
			UrgentHigh:     true,
			RapidChange:    15,
			RepeatInterval: 15 * time.Minute,
		},
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, "nightscout-delta"), nil
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// LoadSettings reads settings from path. Fields absent from the file keep their
// defaults, and a missing file yields DefaultSettings.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path) //nolint:gosec // Config path is chosen by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to path, creating the parent directory
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks that the settings are usable
func (s *Settings) Validate() error {
	d := s.Delta
	switch {
	case d.Lookback <= 0:
		return fmt.Errorf("%w: delta.lookback must be positive", ErrInvalidSettings)
	case d.WindowHalfWidth <= 0:
		return fmt.Errorf("%w: delta.window_half_width must be positive", ErrInvalidSettings)
	case d.ReportInterval <= 0:
		return fmt.Errorf("%w: delta.report_interval must be positive", ErrInvalidSettings)
	case d.MinElapsed <= 0:
		return fmt.Errorf("%w: delta.min_elapsed must be positive", ErrInvalidSettings)
	case d.Intervals != IntervalsFractional && d.Intervals != IntervalsTruncated:
		return fmt.Errorf("%w: delta.intervals %q", ErrInvalidSettings, d.Intervals)
	case d.ZeroElapsed != ZeroElapsedNoData && d.ZeroElapsed != ZeroElapsedClamp:
		return fmt.Errorf("%w: delta.zero_elapsed %q", ErrInvalidSettings, d.ZeroElapsed)
	}

	if s.Nightscout.Timeout <= 0 {
		return fmt.Errorf("%w: nightscout.timeout must be positive", ErrInvalidSettings)
	}
	if s.Nightscout.Refresh <= 0 {
		return fmt.Errorf("%w: nightscout.refresh must be positive", ErrInvalidSettings)
	}
	if s.Alerts.RapidChange < 0 || s.Alerts.RepeatInterval < 0 {
		return fmt.Errorf("%w: alerts.rapid_change and alerts.repeat_interval must not be negative", ErrInvalidSettings)
	}

	b := s.Badge
	if !(b.UrgentLow < b.TargetLow && b.TargetLow < b.TargetHigh && b.TargetHigh < b.UrgentHigh) {
		return fmt.Errorf("%w: badge thresholds must satisfy urgent_low < target_low < target_high < urgent_high",
			ErrInvalidSettings)
	}

	return nil
}

// IsConfigured returns true if minimum required settings are set
func (s *Settings) IsConfigured() bool {
	return s.Nightscout.URL != ""
}

// GetGlucoseStatus returns the status string for a glucose value
func (s *Settings) GetGlucoseStatus(mgdl int) string {
	b := s.Badge
	switch {
	case mgdl <= b.UrgentLow:
		return "urgent_low"
	case mgdl <= b.TargetLow:
		return "low"
	case mgdl >= b.UrgentHigh:
		return "urgent_high"
	case mgdl >= b.TargetHigh:
		return "high"
	default:
		return "normal"
	}
}
