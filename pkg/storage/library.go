package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

var (
	// ErrNotFound indicates no saved tutorial has the requested session id.
	ErrNotFound = errors.New("tutorial not found")
	// ErrStepNotFound indicates the tutorial has no step with the requested id.
	ErrStepNotFound = errors.New("step not found")
)

// Tutorial is a saved tutorial read back from its directory.
type Tutorial struct {
	Layout   Layout
	Manifest Manifest
	Steps    []tutorial.Step
}

// LoadTutorial reads the manifest and steps of the tutorial at layout. A
// directory whose session never finished has no steps file and loads with
// no steps.
func LoadTutorial(layout Layout) (Tutorial, error) {
	man, err := LoadManifest(layout.ManifestPath)
	if err != nil {
		return Tutorial{}, err
	}
	t := Tutorial{Layout: layout, Manifest: man, Steps: []tutorial.Step{}}
	data, err := os.ReadFile(layout.StepsPath)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return Tutorial{}, fmt.Errorf("read steps: %w", err)
	}
	if err := json.Unmarshal(data, &t.Steps); err != nil {
		return Tutorial{}, fmt.Errorf("decode steps: %w", err)
	}
	return t, nil
}

// Locate finds the directory holding the tutorial with session id.
func (s *FileStore) Locate(id string) (Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locateLocked(id)
}

func (s *FileStore) locateLocked(id string) (Layout, error) {
	if id == "" {
		return Layout{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if layout, ok := s.layouts[id]; ok {
		if _, err := os.Stat(layout.ManifestPath); err == nil {
			return layout, nil
		}
		delete(s.layouts, id)
	}
	found, err := s.scan()
	if err != nil {
		return Layout{}, err
	}
	for _, t := range found {
		if t.Manifest.SessionID == id {
			s.layouts[id] = t.Layout
			return t.Layout, nil
		}
	}
	return Layout{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// scan reads every manifest under the tutorials directory. Directories
// without a readable manifest are skipped.
func (s *FileStore) scan() ([]Tutorial, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tutorials directory: %w", err)
	}
	var out []Tutorial
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		layout := BuildLayout(s.dir, entry.Name())
		man, err := LoadManifest(layout.ManifestPath)
		if err != nil {
			continue
		}
		out = append(out, Tutorial{Layout: layout, Manifest: man})
	}
	return out, nil
}

// Load reads the tutorial with session id.
func (s *FileStore) Load(id string) (Tutorial, error) {
	layout, err := s.Locate(id)
	if err != nil {
		return Tutorial{}, err
	}
	return LoadTutorial(layout)
}

// Tutorials loads every saved tutorial, newest first.
func (s *FileStore) Tutorials() ([]Tutorial, error) {
	s.mu.Lock()
	found, err := s.scan()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]Tutorial, 0, len(found))
	for _, t := range found {
		loaded, err := LoadTutorial(t.Layout)
		if err != nil {
			s.logger.Warn("skipping unreadable tutorial", "dir", t.Layout.Root, "error", err)
			continue
		}
		out = append(out, loaded)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Manifest.Status.StartedAt.After(out[j].Manifest.Status.StartedAt)
	})
	return out, nil
}

// Delete removes the tutorial directory of session id.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	layout, err := s.locateLocked(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(layout.Root); err != nil {
		return fmt.Errorf("remove tutorial %s: %w", id, err)
	}
	delete(s.layouts, id)
	s.logger.Info("tutorial deleted", "session_id", id, "dir", layout.Root)
	return nil
}

// DeleteStep removes one step from a saved tutorial. The remaining steps keep
// their ids. The step's screenshot is removed once no other step uses it.
func (s *FileStore) DeleteStep(ctx context.Context, id string, stepID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	layout, err := s.locateLocked(id)
	if err != nil {
		return err
	}
	t, err := LoadTutorial(layout)
	if err != nil {
		return err
	}

	kept := make([]tutorial.Step, 0, len(t.Steps))
	var removed *tutorial.Step
	for i := range t.Steps {
		if t.Steps[i].ID == stepID && removed == nil {
			step := t.Steps[i]
			removed = &step
			continue
		}
		kept = append(kept, t.Steps[i])
	}
	if removed == nil {
		return fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
	}

	if err := writeJSON(layout.StepsPath, kept); err != nil {
		return err
	}
	if err := writeJSON(layout.OCRStatusPath, summarizeOCR(kept)); err != nil {
		return err
	}
	man := t.Manifest
	man.Metadata.StepCount = len(kept)
	man.UpdatedAt = s.clock().UTC()
	if err := SaveManifest(man, layout.ManifestPath); err != nil {
		return err
	}

	if shot := removed.Screenshot; shot != "" && !referencesScreenshot(kept, shot) {
		if err := os.Remove(layout.ScreenshotPath(shot)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove screenshot failed", "session_id", id, "screenshot", shot, "error", err)
		}
	}
	s.logger.Info("step deleted", "session_id", id, "step_id", stepID, "remaining", len(kept))
	return nil
}

func referencesScreenshot(steps []tutorial.Step, ref string) bool {
	for _, step := range steps {
		if step.Screenshot == ref {
			return true
		}
	}
	return false
}

// Library manages saved tutorials. The directory store is authoritative; the
// index, when present, follows every deletion.
type Library struct {
	files *FileStore
	index *SQLiteIndex
}

// NewLibrary returns a library over files and an optional index.
func NewLibrary(files *FileStore, index *SQLiteIndex) (*Library, error) {
	if files == nil {
		return nil, errors.New("file store is required")
	}
	return &Library{files: files, index: index}, nil
}

// Load reads the tutorial with session id.
func (l *Library) Load(id string) (Tutorial, error) {
	return l.files.Load(id)
}

// Screenshot returns the path of a saved screenshot of tutorial id.
func (l *Library) Screenshot(id, ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || filepath.Base(ref) != ref {
		return "", fmt.Errorf("%w: screenshot %q", ErrNotFound, ref)
	}
	layout, err := l.files.Locate(id)
	if err != nil {
		return "", err
	}
	path := layout.ScreenshotPath(ref)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: screenshot %q", ErrNotFound, ref)
	}
	return path, nil
}

// Delete removes the tutorial from the directory store and the index. It
// reports ErrNotFound only when neither holds the tutorial.
func (l *Library) Delete(ctx context.Context, id string) error {
	return l.both(
		func() error { return l.files.Delete(ctx, id) },
		func() error { return l.index.Delete(ctx, id) },
	)
}

// DeleteStep removes one step from the directory store and the index.
func (l *Library) DeleteStep(ctx context.Context, id string, stepID int64) error {
	return l.both(
		func() error { return l.files.DeleteStep(ctx, id, stepID) },
		func() error { return l.index.DeleteStep(ctx, id, stepID) },
	)
}

func (l *Library) both(files, index func() error) error {
	fileErr := files()
	if l.index == nil {
		return fileErr
	}
	indexErr := index()
	if missing(fileErr) && missing(indexErr) {
		return fileErr
	}
	var errs []error
	for _, err := range []error{fileErr, indexErr} {
		if err != nil && !missing(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func missing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStepNotFound)
}
