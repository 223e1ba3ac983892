package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Red October server
	API APIConfig `json:"api" mapstructure:"api" yaml:"api"`

	// Server login
	Auth AuthConfig `json:"auth" mapstructure:"auth" yaml:"auth"`

	// Process-wide session values
	Session SessionConfig `json:"session" mapstructure:"session" yaml:"session"`

	// Password prompt behaviour
	Prompt PromptConfig `json:"prompt" mapstructure:"prompt" yaml:"prompt"`

	// Profile cache
	State StateConfig `json:"state" mapstructure:"state" yaml:"state"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log" yaml:"log"`

	// Development options
	Dev DevConfig `json:"dev,omitempty" mapstructure:"dev" yaml:"dev,omitempty"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay" yaml:"retry_delay"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent" yaml:"user_agent"`
}

// AuthConfig for the server login.
type AuthConfig struct {
	Database    string `json:"database" mapstructure:"database" yaml:"database"`
	Login       string `json:"login" mapstructure:"login" yaml:"login"`
	SessionFile string `json:"session_file" mapstructure:"session_file" yaml:"session_file"` // empty = <state.dir>/session.json

	// JSON file with database, login and password for unattended login.
	CredentialsFile string `json:"credentials_file,omitempty" mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

// SessionConfig carries values that are fixed for the lifetime of the process.
type SessionConfig struct {
	// Anti-forgery token sent with every crypt call. Fetched from the
	// server at startup when empty.
	CSRFToken string `json:"csrf_token,omitempty" mapstructure:"csrf_token" yaml:"csrf_token,omitempty"`

	// Drop the cached password when the server rejects a request.
	ForgetOnReject bool `json:"forget_on_reject" mapstructure:"forget_on_reject" yaml:"forget_on_reject"`

	// Follow server-side profile changes over a websocket.
	WatchProfiles bool `json:"watch_profiles" mapstructure:"watch_profiles" yaml:"watch_profiles"`
}

// PromptConfig for the terminal password prompt.
type PromptConfig struct {
	Label   string        `json:"label" mapstructure:"label" yaml:"label"`       // fmt pattern, receives the profile name
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"` // 0 = wait forever
}

// StateConfig for the local profile cache.
type StateConfig struct {
	Backend string `json:"backend" mapstructure:"backend" yaml:"backend"` // json, sqlite, none
	Dir     string `json:"dir" mapstructure:"dir" yaml:"dir"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`             // debug, info, warn, error
	Format    string `json:"format" mapstructure:"format" yaml:"format"`          // text, json
	File      string `json:"file" mapstructure:"file" yaml:"file"`                // Log file path (empty = stderr)
	Color     bool   `json:"color" mapstructure:"color" yaml:"color"`             // Enable colored output
	Timestamp bool   `json:"timestamp" mapstructure:"timestamp" yaml:"timestamp"` // Include timestamps
}

// DevConfig for development/debugging.
type DevConfig struct {
	LocalCrypto        bool `json:"local_crypto" mapstructure:"local_crypto" yaml:"local_crypto"`
	InsecureSkipVerify bool `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".roclient"

	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:8069",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
			UserAgent:  "roclient/1.0",
		},
		Prompt: PromptConfig{
			Label: "Password for %s: ",
		},
		State: StateConfig{
			Backend: "json",
			Dir:     filepath.Join(dataDir, "state"),
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			Color:     true,
			Timestamp: true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must not be negative")
	}

	if c.Auth.SessionFile == "" && c.State.Dir == "" {
		return errors.New("auth.session_file or state.dir is required")
	}

	if c.Prompt.Timeout < 0 {
		return errors.New("prompt.timeout must not be negative")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true, "none": true}
	if !validBackends[c.State.Backend] {
		return fmt.Errorf("invalid state backend: %s", c.State.Backend)
	}

	if c.State.Backend != "none" && c.State.Dir == "" {
		return errors.New("state.dir is required")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// SessionFile returns where the login session is kept.
func (c *Config) SessionFile() string {
	if c.Auth.SessionFile != "" {
		return c.Auth.SessionFile
	}
	return filepath.Join(c.State.Dir, "session.json")
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Auth.SessionFile != "" {
		dirs = append(dirs, filepath.Dir(c.Auth.SessionFile))
	}
	if c.State.Backend != "none" {
		dirs = append(dirs, c.State.Dir)
	}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
