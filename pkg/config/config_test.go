package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer os.Chdir(cwd)

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir temp dir: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.TutorialsDir != "tutorials" {
		t.Fatalf("expected default tutorials dir, got %q", cfg.Paths.TutorialsDir)
	}
	if cfg.Source != "<defaults>" {
		t.Fatalf("expected default source marker, got %q", cfg.Source)
	}
	if cfg.Capture.DoubleClickWindow != 500*time.Millisecond || cfg.Capture.TextIdleGap != time.Second {
		t.Fatalf("unexpected grouping defaults: %+v", cfg.Capture)
	}
	if cfg.OCR.Timeout != 3*time.Second || cfg.OCR.MinConfidence != 0.6 {
		t.Fatalf("unexpected ocr defaults: %+v", cfg.OCR)
	}
	if cfg.Region.MaxWidth != 400 || cfg.Region.MinHeight != 20 {
		t.Fatalf("unexpected region defaults: %+v", cfg.Region)
	}
	if len(cfg.Capture.OwnApps) != 1 || cfg.Capture.OwnApps[0] != "stepcapture" {
		t.Fatalf("unexpected own apps: %v", cfg.Capture.OwnApps)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `paths:
  tutorials_dir: artifacts
capture:
  queue_capacity: 64
  filter_keystrokes: true
  double_click_window: 300ms
  text_idle_gap: 2s
  redact_emails: false
  redact_patterns:
    - password
    - token
region:
  max_width: 300
ocr:
  engine: NONE
  timeout: 1500ms
screenshots:
  backend: none
  max_per_minute: 4
logging:
  level: DEBUG
  format: console
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if got := cfg.Paths.TutorialsDir; got != "artifacts" {
		t.Fatalf("unexpected tutorials dir: %q", got)
	}
	if got := cfg.Paths.IndexPath; got != filepath.Join("tutorials", "index.db") {
		t.Fatalf("index path default should be kept, got %q", got)
	}
	if cfg.Capture.QueueCapacity != 64 || !cfg.Capture.FilterKeystrokes {
		t.Fatalf("unexpected capture config: %+v", cfg.Capture)
	}
	if cfg.Capture.DoubleClickWindow != 300*time.Millisecond || cfg.Capture.TextIdleGap != 2*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg.Capture)
	}
	if cfg.Capture.RedactEmails {
		t.Fatalf("expected redact emails disabled")
	}
	if got := len(cfg.Capture.RedactPatterns); got != 2 {
		t.Fatalf("expected two redact patterns, got %d", got)
	}
	if cfg.Region.MaxWidth != 300 || cfg.Region.MaxHeight != 200 {
		t.Fatalf("unexpected region: %+v", cfg.Region)
	}
	if cfg.OCR.Engine != "none" || cfg.OCR.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected ocr: %+v", cfg.OCR)
	}
	if cfg.Screenshots.Backend != "none" || cfg.Screenshots.MaxPerMinute != 4 {
		t.Fatalf("unexpected screenshots: %+v", cfg.Screenshots)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	if cfg.Source != cfgPath {
		t.Fatalf("expected source to equal path, got %q", cfg.Source)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  addr: 127.0.0.1:9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STEPCAPTURE_SERVER_ADDR", "127.0.0.1:9100")
	t.Setenv("STEPCAPTURE_OCR_MIN_CONFIDENCE", "0.8")
	t.Setenv("STEPCAPTURE_TELEMETRY_OTLP_ENDPOINT", "localhost:4317")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9100" {
		t.Fatalf("env should win over file, got %q", cfg.Server.Addr)
	}
	if cfg.OCR.MinConfidence != 0.8 {
		t.Fatalf("unexpected min confidence %v", cfg.OCR.MinConfidence)
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Fatalf("unexpected endpoint %q", cfg.Telemetry.OTLPEndpoint)
	}
}

func TestUnknownKeyReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "capture:\n  unsupported: true\n"

	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for unsupported key")
	}
}

func TestExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty tutorials dir": func(c *Config) { c.Paths.TutorialsDir = " " },
		"zero queue":          func(c *Config) { c.Capture.QueueCapacity = 0 },
		"min over max":        func(c *Config) { c.Region.MinWidth = 500 },
		"confidence":          func(c *Config) { c.OCR.MinConfidence = 1.5 },
		"engine":              func(c *Config) { c.OCR.Engine = "paddle" },
		"backend":             func(c *Config) { c.Screenshots.Backend = "x11" },
		"log level":           func(c *Config) { c.Logging.Level = "loud" },
		"log format":          func(c *Config) { c.Logging.Format = "xml" },
		"rate":                func(c *Config) { c.Server.RequestsPerMinute = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestNormalizeHelpers(t *testing.T) {
	if got, err := NormalizeLogLevel("WARNING"); err != nil || got != "warn" {
		t.Fatalf("unexpected level %q %v", got, err)
	}
	if got, err := NormalizeFormat("text"); err != nil || got != "console" {
		t.Fatalf("unexpected format %q %v", got, err)
	}
	if got, err := NormalizeEngine(""); err != nil || got != "tesseract" {
		t.Fatalf("unexpected engine %q %v", got, err)
	}
}
