package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultFileName = "config.yaml"
	// EnvPrefix namespaces environment overrides, e.g. STEPCAPTURE_OCR_TIMEOUT.
	EnvPrefix = "STEPCAPTURE"
)

// Config captures the user-adjustable knobs for recording and serving tutorials.
type Config struct {
	Paths       PathsConfig      `mapstructure:"paths"`
	Capture     CaptureConfig    `mapstructure:"capture"`
	Region      RegionConfig     `mapstructure:"region"`
	OCR         OCRConfig        `mapstructure:"ocr"`
	Screenshots ScreenshotConfig `mapstructure:"screenshots"`
	Server      ServerConfig     `mapstructure:"server"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
	Logging     LoggingConfig    `mapstructure:"logging"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `mapstructure:"-"`
}

// PathsConfig controls filesystem locations used by the CLI.
type PathsConfig struct {
	TutorialsDir string `mapstructure:"tutorials_dir"`
	IndexPath    string `mapstructure:"index_path"`
}

// CaptureConfig tunes event intake and step grouping.
type CaptureConfig struct {
	QueueCapacity       int           `mapstructure:"queue_capacity"`
	FilterKeystrokes    bool          `mapstructure:"filter_keystrokes"`
	MonitorID           int           `mapstructure:"monitor_id"`
	DoubleClickWindow   time.Duration `mapstructure:"double_click_window"`
	DoubleClickDistance float64       `mapstructure:"double_click_distance"`
	TextIdleGap         time.Duration `mapstructure:"text_idle_gap"`
	OwnApps             []string      `mapstructure:"own_apps"`
	OwnTitles           []string      `mapstructure:"own_titles"`
	RedactEmails        bool          `mapstructure:"redact_emails"`
	RedactPatterns      []string      `mapstructure:"redact_patterns"`
}

// RegionConfig bounds the OCR crop box around a click.
type RegionConfig struct {
	MaxWidth      int `mapstructure:"max_width"`
	MaxHeight     int `mapstructure:"max_height"`
	MinWidth      int `mapstructure:"min_width"`
	MinHeight     int `mapstructure:"min_height"`
	EdgeThreshold int `mapstructure:"edge_threshold"`
	Padding       int `mapstructure:"padding"`
}

// OCRConfig selects and bounds text recognition.
type OCRConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Engine          string        `mapstructure:"engine"`
	TesseractBinary string        `mapstructure:"tesseract_binary"`
	Languages       []string      `mapstructure:"languages"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MinConfidence   float64       `mapstructure:"min_confidence"`
}

// ScreenshotConfig controls screenshot cadence and throttling.
type ScreenshotConfig struct {
	Backend      string        `mapstructure:"backend"`
	Interval     time.Duration `mapstructure:"interval"`
	MaxPerMinute int           `mapstructure:"max_per_minute"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

// ServerConfig configures the local control API.
type ServerConfig struct {
	Addr              string `mapstructure:"addr"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// TelemetryConfig configures metric export.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			TutorialsDir: "tutorials",
			IndexPath:    filepath.Join("tutorials", "index.db"),
		},
		Capture: CaptureConfig{
			QueueCapacity:       1024,
			DoubleClickWindow:   500 * time.Millisecond,
			DoubleClickDistance: 5,
			TextIdleGap:         time.Second,
			OwnApps:             []string{"stepcapture"},
			RedactEmails:        true,
		},
		Region: RegionConfig{
			MaxWidth:      400,
			MaxHeight:     200,
			MinWidth:      40,
			MinHeight:     20,
			EdgeThreshold: 40,
			Padding:       4,
		},
		OCR: OCRConfig{
			Enabled:         true,
			Engine:          "tesseract",
			TesseractBinary: "tesseract",
			Languages:       []string{"eng"},
			Timeout:         3 * time.Second,
			MinConfidence:   0.6,
		},
		Screenshots: ScreenshotConfig{
			Backend:      "synthetic",
			Interval:     2 * time.Second,
			MaxPerMinute: 120,
			MaxAge:       5 * time.Second,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8787",
			RequestsPerMinute: 120,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "stepcapture",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// Load layers defaults, an optional YAML file and STEPCAPTURE_* environment
// overrides. When path is empty, ./config.yaml is read if it exists.
func Load(path string) (Config, error) {
	defaults := Default()
	v := viper.New()
	setDefaults(v, defaults)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := defaults.Source
	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}
	if _, err := os.Stat(candidate); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return defaults, fmt.Errorf("open config file %q: %w", candidate, err)
		}
		if explicit {
			return defaults, fmt.Errorf("config file %q not found", candidate)
		}
	} else {
		v.SetConfigFile(candidate)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return defaults, fmt.Errorf("read config file %q: %w", candidate, err)
		}
		source = candidate
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return defaults, fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = source
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("paths.tutorials_dir", d.Paths.TutorialsDir)
	v.SetDefault("paths.index_path", d.Paths.IndexPath)

	v.SetDefault("capture.queue_capacity", d.Capture.QueueCapacity)
	v.SetDefault("capture.filter_keystrokes", d.Capture.FilterKeystrokes)
	v.SetDefault("capture.monitor_id", d.Capture.MonitorID)
	v.SetDefault("capture.double_click_window", d.Capture.DoubleClickWindow)
	v.SetDefault("capture.double_click_distance", d.Capture.DoubleClickDistance)
	v.SetDefault("capture.text_idle_gap", d.Capture.TextIdleGap)
	v.SetDefault("capture.own_apps", d.Capture.OwnApps)
	v.SetDefault("capture.own_titles", d.Capture.OwnTitles)
	v.SetDefault("capture.redact_emails", d.Capture.RedactEmails)
	v.SetDefault("capture.redact_patterns", d.Capture.RedactPatterns)

	v.SetDefault("region.max_width", d.Region.MaxWidth)
	v.SetDefault("region.max_height", d.Region.MaxHeight)
	v.SetDefault("region.min_width", d.Region.MinWidth)
	v.SetDefault("region.min_height", d.Region.MinHeight)
	v.SetDefault("region.edge_threshold", d.Region.EdgeThreshold)
	v.SetDefault("region.padding", d.Region.Padding)

	v.SetDefault("ocr.enabled", d.OCR.Enabled)
	v.SetDefault("ocr.engine", d.OCR.Engine)
	v.SetDefault("ocr.tesseract_binary", d.OCR.TesseractBinary)
	v.SetDefault("ocr.languages", d.OCR.Languages)
	v.SetDefault("ocr.timeout", d.OCR.Timeout)
	v.SetDefault("ocr.min_confidence", d.OCR.MinConfidence)

	v.SetDefault("screenshots.backend", d.Screenshots.Backend)
	v.SetDefault("screenshots.interval", d.Screenshots.Interval)
	v.SetDefault("screenshots.max_per_minute", d.Screenshots.MaxPerMinute)
	v.SetDefault("screenshots.max_age", d.Screenshots.MaxAge)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.TutorialsDir) == "" {
		return errors.New("paths.tutorials_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.IndexPath) == "" {
		return errors.New("paths.index_path must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	if c.Capture.QueueCapacity <= 0 {
		return errors.New("capture.queue_capacity must be positive")
	}
	if c.Capture.MonitorID < 0 {
		return errors.New("capture.monitor_id must not be negative")
	}
	if c.Capture.DoubleClickWindow <= 0 {
		return errors.New("capture.double_click_window must be positive")
	}
	if c.Capture.DoubleClickDistance <= 0 {
		return errors.New("capture.double_click_distance must be positive")
	}
	if c.Capture.TextIdleGap <= 0 {
		return errors.New("capture.text_idle_gap must be positive")
	}

	r := c.Region
	if r.MinWidth <= 0 || r.MinHeight <= 0 || r.MaxWidth <= 0 || r.MaxHeight <= 0 {
		return errors.New("region box sizes must be positive")
	}
	if r.MinWidth > r.MaxWidth || r.MinHeight > r.MaxHeight {
		return errors.New("region minimum box must fit inside the maximum box")
	}
	if r.EdgeThreshold <= 0 {
		return errors.New("region.edge_threshold must be positive")
	}
	if r.Padding < 0 {
		return errors.New("region.padding must not be negative")
	}

	if _, err := NormalizeEngine(c.OCR.Engine); err != nil {
		return err
	}
	if c.OCR.Timeout <= 0 {
		return errors.New("ocr.timeout must be positive")
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		return errors.New("ocr.min_confidence must be within [0,1]")
	}
	if c.OCR.Enabled && c.OCR.Engine == "tesseract" && len(c.OCR.Languages) == 0 {
		return errors.New("ocr.languages must not be empty")
	}

	if _, err := NormalizeBackend(c.Screenshots.Backend); err != nil {
		return err
	}
	if c.Screenshots.Interval <= 0 {
		return errors.New("screenshots.interval must be positive")
	}
	if c.Screenshots.MaxPerMinute <= 0 {
		return errors.New("screenshots.max_per_minute must be positive")
	}
	if c.Screenshots.MaxAge <= 0 {
		return errors.New("screenshots.max_age must be positive")
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Server.RequestsPerMinute <= 0 {
		return errors.New("server.requests_per_minute must be positive")
	}
	return nil
}

func (c *Config) normalize() {
	defaults := Default()

	c.Paths.TutorialsDir = filepath.Clean(strings.TrimSpace(c.Paths.TutorialsDir))
	if c.Paths.TutorialsDir == "." || c.Paths.TutorialsDir == "" {
		c.Paths.TutorialsDir = defaults.Paths.TutorialsDir
	}
	c.Paths.IndexPath = strings.TrimSpace(c.Paths.IndexPath)
	if c.Paths.IndexPath == "" {
		c.Paths.IndexPath = filepath.Join(c.Paths.TutorialsDir, "index.db")
	}

	if level, err := NormalizeLogLevel(c.Logging.Level); err == nil {
		c.Logging.Level = level
	}
	if format, err := NormalizeFormat(c.Logging.Format); err == nil {
		c.Logging.Format = format
	}
	if engine, err := NormalizeEngine(c.OCR.Engine); err == nil {
		c.OCR.Engine = engine
	}
	if backend, err := NormalizeBackend(c.Screenshots.Backend); err == nil {
		c.Screenshots.Backend = backend
	}
	if strings.TrimSpace(c.OCR.TesseractBinary) == "" {
		c.OCR.TesseractBinary = defaults.OCR.TesseractBinary
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
	c.Capture.OwnApps = trimList(c.Capture.OwnApps)
	c.Capture.OwnTitles = trimList(c.Capture.OwnTitles)
	c.Capture.RedactPatterns = trimList(c.Capture.RedactPatterns)
	c.OCR.Languages = trimList(c.OCR.Languages)
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}

// NormalizeEngine validates OCR engine names.
func NormalizeEngine(engine string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", "tesseract":
		return "tesseract", nil
	case "none", "off":
		return "none", nil
	default:
		return "", fmt.Errorf("unsupported ocr engine %q", engine)
	}
}

// NormalizeBackend validates screenshot backend names.
func NormalizeBackend(backend string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "synthetic":
		return "synthetic", nil
	case "none", "off":
		return "none", nil
	default:
		return "", fmt.Errorf("unsupported screenshot backend %q", backend)
	}
}
