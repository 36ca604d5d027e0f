package config

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/idcap/internal/glare"
)

const infoLevel = "info"

// TestDefaultConfig verifies that DefaultConfig returns expected values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected log_level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Verbose {
		t.Error("Expected verbose to be false")
	}
	if cfg.Document.Type != "ine" {
		t.Errorf("Expected document type 'ine', got %s", cfg.Document.Type)
	}
	if cfg.Glare.Preset != glare.PresetStandard {
		t.Errorf("Expected glare preset 'standard', got %s", cfg.Glare.Preset)
	}
	if cfg.Readiness.PreDelayMS != 100 || cfg.Readiness.DelayMS != 2500 {
		t.Errorf("Expected readiness 100/2500 ms, got %d/%d", cfg.Readiness.PreDelayMS, cfg.Readiness.DelayMS)
	}
	if cfg.Camera.Width != 1920 || cfg.Camera.Height != 1080 {
		t.Errorf("Expected camera 1920x1080, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.FacingMode != "environment" {
		t.Errorf("Expected facing mode 'environment', got %s", cfg.Camera.FacingMode)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected server port 8080, got %d", cfg.Server.Port)
	}
	if len(cfg.Auth.Scopes) != 3 {
		t.Errorf("Expected 3 default scopes, got %v", cfg.Auth.Scopes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// TestValidate covers each validation rule.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"language", func(c *Config) { c.Language = "fr" }},
		{"document type", func(c *Config) { c.Document.Type = "visa" }},
		{"glare preset", func(c *Config) { c.Glare.Preset = "lenient" }},
		{"custom glare out of range", func(c *Config) {
			c.Glare.Preset = PresetCustom
			c.Glare.SumThreshold = 900
		}},
		{"negative delay", func(c *Config) { c.Readiness.DelayMS = -1 }},
		{"viewport", func(c *Config) { c.Viewport.Width = 0 }},
		{"camera resolution", func(c *Config) { c.Camera.Height = -1 }},
		{"facing mode", func(c *Config) { c.Camera.FacingMode = "sideways" }},
		{"submission timeout", func(c *Config) { c.Submission.TimeoutSec = 0 }},
		{"server port", func(c *Config) { c.Server.Port = 70000 }},
		{"upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }},
		{"server timeout", func(c *Config) { c.Server.TimeoutSec = 0 }},
		{"session ttl", func(c *Config) { c.Server.SessionTTLMin = 0 }},
		{"rate limit", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.RequestsPerHour = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

// TestToGlareConfig verifies preset resolution.
func TestToGlareConfig(t *testing.T) {
	cfg := DefaultConfig()
	g, err := cfg.ToGlareConfig()
	if err != nil {
		t.Fatalf("ToGlareConfig() error: %v", err)
	}
	if g != glare.DefaultConfig() {
		t.Errorf("Expected standard preset, got %+v", g)
	}

	cfg.Glare.Preset = "sensitive"
	cfg.Glare.SumThreshold = 700
	g, _ = cfg.ToGlareConfig()
	if g.SumThreshold != 650 {
		t.Errorf("Named preset should ignore explicit values, got %d", g.SumThreshold)
	}

	cfg.Glare.Preset = PresetCustom
	g, _ = cfg.ToGlareConfig()
	if g.SumThreshold != 700 {
		t.Errorf("Custom preset should use explicit values, got %d", g.SumThreshold)
	}
}

// TestToCaptureConfig verifies the workflow configuration conversion.
func TestToCaptureConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Document.Type = "passport"
	cfg.Readiness.PreDelayMS = 0
	cfg.Readiness.DelayMS = 1000
	cfg.Viewport.Width = 800
	cfg.Viewport.Height = 600
	cfg.Camera.Device = "2"

	cc, err := cfg.ToCaptureConfig()
	if err != nil {
		t.Fatalf("ToCaptureConfig() error: %v", err)
	}
	if cc.DocType != "passport" {
		t.Errorf("Expected doc type passport, got %s", cc.DocType)
	}
	if cc.Readiness.PreDelay != 0 || cc.Readiness.Delay != time.Second {
		t.Errorf("Unexpected readiness %+v", cc.Readiness)
	}
	if !cc.Viewport.Landscape() {
		t.Error("Expected landscape viewport")
	}
	if cc.Source.DeviceID != "2" || cc.Source.Width != 1920 {
		t.Errorf("Unexpected source config %+v", cc.Source)
	}
	if cfg.SubmissionTimeout() != 30*time.Second {
		t.Errorf("Expected 30s submission timeout, got %s", cfg.SubmissionTimeout())
	}

	cfg.Glare.Preset = "nope"
	if _, err := cfg.ToCaptureConfig(); err == nil {
		t.Error("Expected error for unknown glare preset")
	}
}
