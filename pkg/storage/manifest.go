package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// SchemaVersion captures the manifest version for compatibility checks.
const SchemaVersion = 1

// Layout represents the absolute filesystem locations for a tutorial.
type Layout struct {
	Root          string
	ManifestPath  string
	StepsPath     string
	EventsPath    string
	ScreensDir    string
	OCRStatusPath string
}

// Paths holds the relative locations stored in the manifest for portability.
type Paths struct {
	Root        string `json:"root"`
	Manifest    string `json:"manifest"`
	Steps       string `json:"steps"`
	Events      string `json:"events"`
	Screenshots string `json:"screenshots"`
	OCRStatus   string `json:"ocr_status"`
}

// Status summarises the lifecycle of a recorded session.
type Status struct {
	State           string     `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DroppedEvents   uint64     `json:"dropped_events"`
	DiscardedEvents uint64     `json:"discarded_events"`
}

// Manifest is the durable metadata describing a tutorial directory.
type Manifest struct {
	SchemaVersion   int                       `json:"schema_version"`
	SessionID       string                    `json:"session_id"`
	Dir             string                    `json:"dir"`
	Hostname        string                    `json:"hostname"`
	AppVersion      string                    `json:"app_version"`
	Metadata        tutorial.Metadata         `json:"metadata"`
	Monitors        []coords.Monitor          `json:"monitors"`
	PausedIntervals []tutorial.PausedInterval `json:"paused_intervals,omitempty"`
	Paths           Paths                     `json:"paths"`
	Status          Status                    `json:"status"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// NewManifest describes session stored under layout.
func NewManifest(session tutorial.Session, layout Layout, hostname, appVersion string, now time.Time) Manifest {
	var ended *time.Time
	if session.EndedAt != nil {
		t := session.EndedAt.UTC()
		ended = &t
	}
	return Manifest{
		SchemaVersion:   SchemaVersion,
		SessionID:       session.ID,
		Dir:             filepath.Base(layout.Root),
		Hostname:        hostname,
		AppVersion:      appVersion,
		Metadata:        session.Metadata(),
		Monitors:        session.Monitors,
		PausedIntervals: session.PausedIntervals,
		Paths:           layout.RelativePaths(),
		Status: Status{
			State:           string(session.State),
			StartedAt:       session.StartedAt.UTC(),
			EndedAt:         ended,
			DroppedEvents:   session.DroppedEvents,
			DiscardedEvents: session.DiscardedEvents,
		},
		UpdatedAt: now.UTC(),
	}
}

// BuildLayout creates an absolute filesystem layout for a tutorial directory.
func BuildLayout(tutorialsDir, name string) Layout {
	root := filepath.Join(tutorialsDir, name)
	return Layout{
		Root:          root,
		ManifestPath:  filepath.Join(root, "manifest.json"),
		StepsPath:     filepath.Join(root, "steps.json"),
		EventsPath:    filepath.Join(root, "events.jsonl"),
		ScreensDir:    filepath.Join(root, "screenshots"),
		OCRStatusPath: filepath.Join(root, "ocr_status.json"),
	}
}

// RelativePaths exposes the manifest-friendly relative paths for the layout.
func (l Layout) RelativePaths() Paths {
	return Paths{
		Root:        ".",
		Manifest:    filepath.Base(l.ManifestPath),
		Steps:       filepath.Base(l.StepsPath),
		Events:      filepath.Base(l.EventsPath),
		Screenshots: filepath.Base(l.ScreensDir),
		OCRStatus:   filepath.Base(l.OCRStatusPath),
	}
}

// ScreenshotPath is where a referenced frame is written.
func (l Layout) ScreenshotPath(id string) string {
	return filepath.Join(l.ScreensDir, id+".png")
}

// EnsureFilesystem prepares the directory tree for a layout.
func EnsureFilesystem(layout Layout) error {
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return fmt.Errorf("create tutorial root: %w", err)
	}
	if err := os.MkdirAll(layout.ScreensDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", layout.ScreensDir, err)
	}
	return nil
}

// SaveManifest writes the manifest JSON to disk with indentation for readability.
func SaveManifest(man Manifest, path string) error {
	return writeJSON(path, man)
}

// LoadManifest reads a manifest JSON file from disk.
func LoadManifest(path string) (Manifest, error) {
	var man Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return man, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

// ResolveDirName chooses a directory name derived from the start time and avoids collisions.
func ResolveDirName(tutorialsDir string, startedAt time.Time) (string, error) {
	if strings.TrimSpace(tutorialsDir) == "" {
		return "", errors.New("tutorials directory must not be empty")
	}

	base := startedAt.UTC().Format("20060102_150405")
	candidate := base
	suffix := 1
	for {
		_, err := os.Stat(filepath.Join(tutorialsDir, candidate))
		if err == nil {
			candidate = fmt.Sprintf("%s_%02d", base, suffix)
			suffix++
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		return "", fmt.Errorf("inspect tutorials directory: %w", err)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
