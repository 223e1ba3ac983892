package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. ROCLIENT_API_BASE_URL.
const EnvPrefix = "ROCLIENT"

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"base-url":  "api.base_url",
	"log-level": "log.level",
	"log-file":  "log.file",
	"state":     "state.backend",
	"local":     "dev.local_crypto",
	"db":        "auth.database",
	"login":     "auth.login",
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	flags      *pflag.FlagSet
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// WithFlags binds command line flags; set flags win over file and env.
func (l *Loader) WithFlags(flags *pflag.FlagSet) *Loader {
	l.flags = flags
	return l
}

// Load reads configuration from defaults, file, environment and flags, in
// increasing precedence.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configPath != "" {
		// The type follows the extension: .json, .yaml or .yml.
		v.SetConfigFile(l.configPath)
	} else {
		v.SetConfigType("json")
		v.SetConfigName("config")
		for _, dir := range l.defaultDirs() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.flags != nil {
		for name, key := range flagKeys {
			if f := l.flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultDirs returns directories searched for config.json.
func (l *Loader) defaultDirs() []string {
	dirs := []string{".roclient", "."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "roclient"),
			filepath.Join(homeDir, ".roclient"),
		)
	}

	return dirs
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.retry_delay", cfg.API.RetryDelay)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)

	v.SetDefault("auth.database", cfg.Auth.Database)
	v.SetDefault("auth.login", cfg.Auth.Login)
	v.SetDefault("auth.session_file", cfg.Auth.SessionFile)
	v.SetDefault("auth.credentials_file", cfg.Auth.CredentialsFile)

	v.SetDefault("session.csrf_token", cfg.Session.CSRFToken)
	v.SetDefault("session.forget_on_reject", cfg.Session.ForgetOnReject)
	v.SetDefault("session.watch_profiles", cfg.Session.WatchProfiles)

	v.SetDefault("prompt.label", cfg.Prompt.Label)
	v.SetDefault("prompt.timeout", cfg.Prompt.Timeout)

	v.SetDefault("state.backend", cfg.State.Backend)
	v.SetDefault("state.dir", cfg.State.Dir)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
	v.SetDefault("log.timestamp", cfg.Log.Timestamp)

	v.SetDefault("dev.local_crypto", cfg.Dev.LocalCrypto)
	v.SetDefault("dev.insecure_skip_verify", cfg.Dev.InsecureSkipVerify)
}

// SaveExample writes an example config file, as YAML when path ends in
// .yaml or .yml and as JSON otherwise.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
