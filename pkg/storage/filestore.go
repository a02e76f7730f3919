package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/screenshots"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// FileOptions configure a FileStore.
type FileOptions struct {
	Dir        string
	Hostname   string
	AppVersion string
	Clock      func() time.Time
	Logger     *slog.Logger
}

// FileStore writes one directory per session under Dir.
type FileStore struct {
	dir        string
	hostname   string
	appVersion string
	clock      func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	layouts map[string]Layout
}

// NewFileStore validates options and returns a store.
func NewFileStore(opts FileOptions) (*FileStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("tutorials directory must not be empty")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileStore{
		dir:        opts.Dir,
		hostname:   opts.Hostname,
		appVersion: opts.AppVersion,
		clock:      clock,
		logger:     logger,
		layouts:    make(map[string]Layout),
	}, nil
}

// LayoutFor returns the layout assigned to a session, creating its directory
// on first use.
func (s *FileStore) LayoutFor(session tutorial.Session) (Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if layout, ok := s.layouts[session.ID]; ok {
		return layout, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Layout{}, fmt.Errorf("create tutorials directory: %w", err)
	}
	started := session.StartedAt
	if started.IsZero() {
		started = s.clock()
	}
	name, err := ResolveDirName(s.dir, started)
	if err != nil {
		return Layout{}, err
	}
	layout := BuildLayout(s.dir, name)
	if err := EnsureFilesystem(layout); err != nil {
		return Layout{}, err
	}
	s.layouts[session.ID] = layout
	return layout, nil
}

// OpenEventLog creates the session directory, writes an in-progress
// manifest and opens events.jsonl for appending.
func (s *FileStore) OpenEventLog(session tutorial.Session) (EventLog, error) {
	layout, err := s.LayoutFor(session)
	if err != nil {
		return nil, err
	}
	if err := SaveManifest(NewManifest(session, layout, s.hostname, s.appVersion, s.clock()), layout.ManifestPath); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(layout.EventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &jsonlLog{file: file, w: w, enc: enc}, nil
}

// Save writes steps, referenced screenshots, the OCR summary and the final manifest.
func (s *FileStore) Save(ctx context.Context, session tutorial.Session, frames FrameSource) error {
	layout, err := s.LayoutFor(session)
	if err != nil {
		return err
	}
	steps := session.Steps
	if steps == nil {
		steps = []tutorial.Step{}
	}
	if err := writeJSON(layout.StepsPath, steps); err != nil {
		return err
	}

	if frames != nil {
		referenced := make(map[string]struct{}, len(steps))
		for _, step := range steps {
			if step.Screenshot != "" {
				referenced[step.Screenshot] = struct{}{}
			}
		}
		for _, frame := range frames.Frames() {
			if ctx != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if _, ok := referenced[frame.Ref.ID]; !ok || frame.Image == nil {
				continue
			}
			if err := writePNG(layout.ScreenshotPath(frame.Ref.ID), frame); err != nil {
				return err
			}
		}
	}

	if err := writeJSON(layout.OCRStatusPath, summarizeOCR(steps)); err != nil {
		return err
	}
	man := NewManifest(session, layout, s.hostname, s.appVersion, s.clock())
	if err := SaveManifest(man, layout.ManifestPath); err != nil {
		return err
	}
	s.logger.Info("tutorial saved", "session_id", session.ID, "dir", layout.Root, "steps", len(steps))
	return nil
}

func writePNG(path string, frame screenshots.Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create screenshot %q: %w", frame.Ref.ID, err)
	}
	if err := png.Encode(file, frame.Image); err != nil {
		file.Close()
		return fmt.Errorf("encode screenshot %q: %w", frame.Ref.ID, err)
	}
	return file.Close()
}

// OCRStatus summarises recognition outcomes for a tutorial.
type OCRStatus struct {
	Clicks            int            `json:"clicks"`
	Recognised        int            `json:"recognised"`
	Fallbacks         int            `json:"fallbacks"`
	AverageConfidence float64        `json:"average_confidence"`
	Engines           map[string]int `json:"engines,omitempty"`
	Steps             []OCRStepEntry `json:"steps"`
}

// OCRStepEntry is the per-click OCR outcome.
type OCRStepEntry struct {
	StepID     int64   `json:"step_id"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine,omitempty"`
	Fallback   bool    `json:"fallback"`
}

func summarizeOCR(steps []tutorial.Step) OCRStatus {
	status := OCRStatus{Engines: map[string]int{}, Steps: []OCRStepEntry{}}
	var total float64
	for _, step := range steps {
		if step.Coordinates == nil {
			continue
		}
		status.Clicks++
		fallback := step.Fallback
		if fallback {
			status.Fallbacks++
		} else {
			status.Recognised++
			total += step.OCRConfidence
		}
		if step.OCREngine != "" {
			status.Engines[step.OCREngine]++
		}
		status.Steps = append(status.Steps, OCRStepEntry{
			StepID:     step.ID,
			Text:       step.OCRText,
			Confidence: step.OCRConfidence,
			Engine:     step.OCREngine,
			Fallback:   fallback,
		})
	}
	if status.Recognised > 0 {
		status.AverageConfidence = total / float64(status.Recognised)
	}
	return status
}

type jsonlLog struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

type logLine struct {
	Disposition string          `json:"disposition"`
	Event       json.RawMessage `json:"event"`
}

func (l *jsonlLog) Record(ev events.RawEvent, disposition string) error {
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.ErrClosed
	}
	return l.enc.Encode(logLine{Disposition: disposition, Event: data})
}

func (l *jsonlLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	flushErr := l.w.Flush()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(flushErr, closeErr)
}
