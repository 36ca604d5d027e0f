package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "idcap"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "IDCAP"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, so that flags
// bound by the root command take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a private viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.LoadWithFileWithoutValidation("")
}

// LoadWithFile loads configuration from a specific file path. An empty path
// searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and env vars apply.
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// IDCAP_SERVER_PORT maps to server.port.
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)
	l.v.SetDefault("language", defaults.Language)

	l.v.SetDefault("document.type", defaults.Document.Type)

	l.v.SetDefault("glare.preset", defaults.Glare.Preset)
	l.v.SetDefault("glare.sum_threshold", defaults.Glare.SumThreshold)
	l.v.SetDefault("glare.saturation_threshold", defaults.Glare.SaturationThreshold)
	l.v.SetDefault("glare.flag_percent_threshold", defaults.Glare.FlagPercentThreshold)
	l.v.SetDefault("glare.margin_fraction", defaults.Glare.MarginFraction)

	l.v.SetDefault("readiness.pre_delay_ms", defaults.Readiness.PreDelayMS)
	l.v.SetDefault("readiness.delay_ms", defaults.Readiness.DelayMS)

	l.v.SetDefault("viewport.width", defaults.Viewport.Width)
	l.v.SetDefault("viewport.height", defaults.Viewport.Height)

	l.v.SetDefault("camera.device", defaults.Camera.Device)
	l.v.SetDefault("camera.width", defaults.Camera.Width)
	l.v.SetDefault("camera.height", defaults.Camera.Height)
	l.v.SetDefault("camera.facing_mode", defaults.Camera.FacingMode)
	l.v.SetDefault("camera.frames_dir", defaults.Camera.FramesDir)

	l.v.SetDefault("auth.domain", defaults.Auth.Domain)
	l.v.SetDefault("auth.client_id", defaults.Auth.ClientID)
	l.v.SetDefault("auth.redirect_uri", defaults.Auth.RedirectURI)
	l.v.SetDefault("auth.scopes", defaults.Auth.Scopes)

	l.v.SetDefault("submission.url", defaults.Submission.URL)
	l.v.SetDefault("submission.timeout_sec", defaults.Submission.TimeoutSec)
	l.v.SetDefault("submission.token", defaults.Submission.Token)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.session_ttl_min", defaults.Server.SessionTTLMin)
	l.v.SetDefault("server.rate_limit.enabled", defaults.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", defaults.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", defaults.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", defaults.Server.RateLimit.MaxRequestsPerDay)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes the default configuration as YAML.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	data, err := ToYAML(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o600)
}

// ToYAML renders a configuration as YAML.
func ToYAML(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	return data, nil
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, "/etc/"+ConfigFileName)

	return paths
}
