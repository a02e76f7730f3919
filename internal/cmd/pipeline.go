package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/offlinefirst/stepcapture/internal/buildinfo"
	"github.com/offlinefirst/stepcapture/pkg/config"
	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/ocr"
	"github.com/offlinefirst/stepcapture/pkg/permissions"
	"github.com/offlinefirst/stepcapture/pkg/processor"
	"github.com/offlinefirst/stepcapture/pkg/region"
	"github.com/offlinefirst/stepcapture/pkg/screenshots"
	"github.com/offlinefirst/stepcapture/pkg/session"
	"github.com/offlinefirst/stepcapture/pkg/storage"
	"github.com/offlinefirst/stepcapture/pkg/telemetry"
)

var (
	timeNow  = time.Now
	hostname = os.Hostname
	// lookupEnv feeds the permission probes; tests pin it.
	lookupEnv permissions.LookupEnvFunc = os.LookupEnv
	// newRecognizer resolves the OCR engine; tests swap in a fake.
	newRecognizer = configuredRecognizer
)

// pipeline is a session manager wired to storage, telemetry and OCR.
type pipeline struct {
	manager *session.Manager
	files   *storage.FileStore
	index   *storage.SQLiteIndex
	closers []func(context.Context) error
}

// buildPipeline assembles the recording stack from configuration. clock
// drives session timestamps and pause bookkeeping.
func buildPipeline(ctx context.Context, app *AppContext, clock func() time.Time) (*pipeline, error) {
	cfg := app.Config
	logger := app.Logger
	if clock == nil {
		clock = timeNow
	}
	p := &pipeline{}

	providers, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	p.closers = append(p.closers, providers.Shutdown)
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(telemetry.MeterName))
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	host, err := hostname()
	if err != nil {
		host = "unknown"
	}
	files, err := storage.NewFileStore(storage.FileOptions{
		Dir:        cfg.Paths.TutorialsDir,
		Hostname:   host,
		AppVersion: buildinfo.Version(),
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		p.Close(ctx)
		return nil, err
	}
	p.files = files

	index, err := storage.OpenIndex(ctx, cfg.Paths.IndexPath)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}
	p.index = index
	p.closers = append(p.closers, func(context.Context) error { return index.Close() })

	redactor, err := events.NewRedactor(cfg.Capture.RedactEmails, cfg.Capture.RedactPatterns)
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("compile redaction patterns: %w", err)
	}
	own := events.NewOwnWindow(cfg.Capture.OwnApps, cfg.Capture.OwnTitles)

	recognizer, err := newRecognizer(cfg.OCR, app)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}

	shots := session.ScreenshotOptions{
		Interval:     cfg.Screenshots.Interval,
		MaxPerMinute: cfg.Screenshots.MaxPerMinute,
		MaxAge:       cfg.Screenshots.MaxAge,
	}
	if cfg.Screenshots.Backend != screenshots.BackendNone {
		provider, err := screenshots.NewProvider(cfg.Screenshots.Backend, permissions.Probe(permissions.ScreenRecording, lookupEnv))
		if err != nil {
			logger.Warn("screenshots unavailable; clicks use coordinate descriptions", "backend", cfg.Screenshots.Backend, "error", err)
		} else {
			shots.Provider = provider
		}
	}

	manager, err := session.New(session.Options{
		Monitors:      screenshots.DefaultMonitors(),
		QueueCapacity: cfg.Capture.QueueCapacity,
		Processor: processor.Options{
			DoubleClickWindow:   cfg.Capture.DoubleClickWindow,
			DoubleClickDistance: cfg.Capture.DoubleClickDistance,
			TextIdleGap:         cfg.Capture.TextIdleGap,
			MinConfidence:       cfg.OCR.MinConfidence,
			OCRTimeout:          cfg.OCR.Timeout,
			FilterKeystrokes:    cfg.Capture.FilterKeystrokes,
			MonitorID:           cfg.Capture.MonitorID,
			OwnWindow:           own.Matches,
			Redactor:            redactor,
			Selector:            region.New(selectorOptions(cfg.Region)),
			Recognizer:          recognizer,
		},
		Screenshots: shots,
		Store:       storage.Multi(files, index),
		Clock:       clock,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		p.Close(ctx)
		return nil, err
	}
	p.manager = manager
	return p, nil
}

// Close releases the index and flushes telemetry, newest first.
func (p *pipeline) Close(ctx context.Context) error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func selectorOptions(r config.RegionConfig) region.Options {
	return region.Options{
		MaxWidth:      r.MaxWidth,
		MaxHeight:     r.MaxHeight,
		MinWidth:      r.MinWidth,
		MinHeight:     r.MinHeight,
		EdgeThreshold: float64(r.EdgeThreshold),
		Padding:       r.Padding,
	}
}

// configuredRecognizer returns nil when OCR is disabled or the engine is
// missing; clicks then get positional descriptions.
func configuredRecognizer(cfg config.OCRConfig, app *AppContext) (ocr.Recognizer, error) {
	if !cfg.Enabled || cfg.Engine == ocr.ProviderNone {
		return nil, nil
	}
	engine, err := ocr.NewTesseract(ocr.TesseractOptions{
		Binary:    cfg.TesseractBinary,
		Languages: cfg.Languages,
	})
	if err != nil {
		return nil, fmt.Errorf("configure tesseract: %w", err)
	}
	if !engine.Available() {
		app.Logger.Warn("tesseract not found; clicks use coordinate descriptions", "binary", cfg.TesseractBinary)
		return nil, nil
	}
	return engine, nil
}
