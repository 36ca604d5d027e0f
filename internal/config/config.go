package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/doctype"
	"github.com/MeKo-Tech/idcap/internal/glare"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/readiness"
	"github.com/MeKo-Tech/idcap/internal/source"
)

// PresetCustom selects the explicit glare thresholds instead of a named preset.
const PresetCustom = "custom"

// Config represents the complete configuration for the idcap application.
// It covers the capture workflow, the collaborators it talks to and the
// HTTP server, and is loaded from configuration files, environment variables
// and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	Language string `mapstructure:"language" yaml:"language" json:"language"`

	Document   DocumentConfig   `mapstructure:"document" yaml:"document" json:"document"`
	Glare      GlareConfig      `mapstructure:"glare" yaml:"glare" json:"glare"`
	Readiness  ReadinessConfig  `mapstructure:"readiness" yaml:"readiness" json:"readiness"`
	Viewport   ViewportConfig   `mapstructure:"viewport" yaml:"viewport" json:"viewport"`
	Camera     CameraConfig     `mapstructure:"camera" yaml:"camera" json:"camera"`
	Auth       auth.Config      `mapstructure:"auth" yaml:"auth" json:"auth"`
	Submission SubmissionConfig `mapstructure:"submission" yaml:"submission" json:"submission"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// DocumentConfig selects the document being captured.
type DocumentConfig struct {
	Type string `mapstructure:"type" yaml:"type" json:"type"`
}

// GlareConfig holds the glare heuristic thresholds. A named preset overrides
// the explicit values; set Preset to "custom" to use them.
type GlareConfig struct {
	Preset               string  `mapstructure:"preset" yaml:"preset" json:"preset"`
	SumThreshold         int     `mapstructure:"sum_threshold" yaml:"sum_threshold" json:"sum_threshold"`
	SaturationThreshold  int     `mapstructure:"saturation_threshold" yaml:"saturation_threshold" json:"saturation_threshold"`
	FlagPercentThreshold float64 `mapstructure:"flag_percent_threshold" yaml:"flag_percent_threshold" json:"flag_percent_threshold"`
	MarginFraction       float64 `mapstructure:"margin_fraction" yaml:"margin_fraction" json:"margin_fraction"`
}

// ReadinessConfig holds the capture countdown delays.
type ReadinessConfig struct {
	PreDelayMS int `mapstructure:"pre_delay_ms" yaml:"pre_delay_ms" json:"pre_delay_ms"`
	DelayMS    int `mapstructure:"delay_ms" yaml:"delay_ms" json:"delay_ms"`
}

// ViewportConfig is the initial viewport assumed before the UI reports one.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// CameraConfig describes the frame source.
type CameraConfig struct {
	Device     string `mapstructure:"device" yaml:"device" json:"device"`
	Width      int    `mapstructure:"width" yaml:"width" json:"width"`
	Height     int    `mapstructure:"height" yaml:"height" json:"height"`
	FacingMode string `mapstructure:"facing_mode" yaml:"facing_mode" json:"facing_mode"`
	// FramesDir serves still images instead of a camera when set.
	FramesDir string `mapstructure:"frames_dir" yaml:"frames_dir" json:"frames_dir"`
}

// SubmissionConfig describes the processing endpoint.
type SubmissionConfig struct {
	URL        string `mapstructure:"url" yaml:"url" json:"url"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	// Token is a fixed identity token, mainly for testing.
	Token string `mapstructure:"token" yaml:"token" json:"token"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	SessionTTLMin   int             `mapstructure:"session_ttl_min" yaml:"session_ttl_min" json:"session_ttl_min"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	g := glare.DefaultConfig()
	r := readiness.DefaultConfig()
	s := source.DefaultConfig()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Language: "en",
		Document: DocumentConfig{Type: doctype.Default},
		Glare: GlareConfig{
			Preset:               glare.PresetStandard,
			SumThreshold:         g.SumThreshold,
			SaturationThreshold:  g.SaturationThreshold,
			FlagPercentThreshold: g.FlagPercentThreshold,
			MarginFraction:       g.MarginFraction,
		},
		Readiness: ReadinessConfig{
			PreDelayMS: int(r.PreDelay / time.Millisecond),
			DelayMS:    int(r.Delay / time.Millisecond),
		},
		Viewport: ViewportConfig{Width: 1280, Height: 720},
		Camera: CameraConfig{
			Width:      s.Width,
			Height:     s.Height,
			FacingMode: s.FacingMode,
		},
		Auth: auth.Config{Scopes: append([]string(nil), auth.DefaultScopes...)},
		Submission: SubmissionConfig{
			TimeoutSec: 30,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     10,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			SessionTTLMin:   15,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
				MaxRequestsPerDay: 5000,
			},
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validLanguages := []string{"en", "es"}
	if c.Language != "" && !slices.Contains(validLanguages, c.Language) {
		return fmt.Errorf("invalid language: %s (must be one of: %s)", c.Language, strings.Join(validLanguages, ", "))
	}

	if !doctype.Valid(c.Document.Type) {
		return fmt.Errorf("invalid document type: %s", c.Document.Type)
	}

	g, err := c.ToGlareConfig()
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}

	if c.Readiness.PreDelayMS < 0 || c.Readiness.DelayMS < 0 {
		return fmt.Errorf("invalid readiness delays: %d/%d ms (must not be negative)", c.Readiness.PreDelayMS, c.Readiness.DelayMS)
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("invalid viewport: %dx%d (must be positive)", c.Viewport.Width, c.Viewport.Height)
	}

	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	validFacing := []string{source.FacingEnvironment, source.FacingUser}
	if c.Camera.FacingMode != "" && !slices.Contains(validFacing, c.Camera.FacingMode) {
		return fmt.Errorf("invalid facing mode: %s (must be one of: %s)", c.Camera.FacingMode, strings.Join(validFacing, ", "))
	}

	if c.Submission.TimeoutSec <= 0 {
		return fmt.Errorf("invalid submission timeout: %d (must be positive)", c.Submission.TimeoutSec)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.SessionTTLMin <= 0 {
		return fmt.Errorf("invalid session ttl: %d (must be positive)", c.Server.SessionTTLMin)
	}
	if rl := c.Server.RateLimit; rl.Enabled {
		if rl.RequestsPerMinute <= 0 || rl.RequestsPerHour <= 0 || rl.MaxRequestsPerDay <= 0 {
			return fmt.Errorf("invalid rate limits: %d/min %d/h %d/day (must be positive)",
				rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay)
		}
	}

	return nil
}

// ToGlareConfig resolves the glare thresholds.
func (c *Config) ToGlareConfig() (glare.Config, error) {
	name := strings.ToLower(strings.TrimSpace(c.Glare.Preset))
	if name == "" || name == PresetCustom {
		return glare.Config{
			SumThreshold:         c.Glare.SumThreshold,
			SaturationThreshold:  c.Glare.SaturationThreshold,
			FlagPercentThreshold: c.Glare.FlagPercentThreshold,
			MarginFraction:       c.Glare.MarginFraction,
		}, nil
	}
	g, ok := glare.Preset(name)
	if !ok {
		return glare.Config{}, fmt.Errorf("invalid glare preset: %s (must be one of: %s, %s)",
			c.Glare.Preset, strings.Join(glare.PresetNames(), ", "), PresetCustom)
	}
	return g, nil
}

// ToReadinessConfig converts the countdown delays.
func (c *Config) ToReadinessConfig() readiness.Config {
	return readiness.Config{
		PreDelay: time.Duration(c.Readiness.PreDelayMS) * time.Millisecond,
		Delay:    time.Duration(c.Readiness.DelayMS) * time.Millisecond,
	}
}

// ToSourceConfig converts the camera settings.
func (c *Config) ToSourceConfig() source.Config {
	return source.Config{
		DeviceID:   c.Camera.Device,
		Width:      c.Camera.Width,
		Height:     c.Camera.Height,
		FacingMode: c.Camera.FacingMode,
	}
}

// ToCaptureConfig builds the workflow configuration.
func (c *Config) ToCaptureConfig() (capture.Config, error) {
	g, err := c.ToGlareConfig()
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		Glare:     g,
		Readiness: c.ToReadinessConfig(),
		Viewport:  orientation.Viewport{Width: c.Viewport.Width, Height: c.Viewport.Height},
		Source:    c.ToSourceConfig(),
		DocType:   c.Document.Type,
	}, nil
}

// SubmissionTimeout is the per-request submission timeout.
func (c *Config) SubmissionTimeout() time.Duration {
	return time.Duration(c.Submission.TimeoutSec) * time.Second
}
