// Package export renders saved tutorials as shareable Markdown or HTML
// documents with their screenshots and click markers.
package export

import (
	"encoding/base64"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/storage"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// Format names an export document type.
type Format string

const (
	Markdown Format = "markdown"
	HTML     Format = "html"
)

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts markdown, md, html and htm in any case.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "markdown", "md":
		return Markdown, nil
	case "html", "htm":
		return HTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Extension is the file extension for the format, with its leading dot.
func (f Format) Extension() string {
	if f == HTML {
		return ".html"
	}
	return ".md"
}

// ContentType is the HTTP media type for the format.
func (f Format) ContentType() string {
	if f == HTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Options tune a rendering.
type Options struct {
	// ImageBase prefixes screenshot file names in image links. Defaults to
	// "screenshots/", which resolves from the tutorial directory.
	ImageBase string
	// Embed inlines screenshots as data URIs. Only HTML honours it.
	Embed bool
}

// Filename derives a file name for the tutorial from its title.
func Filename(man storage.Manifest, format Format) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(man.Metadata.Title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		name = "tutorial"
	}
	return name + format.Extension()
}

// Render writes t to w in the given format.
func Render(w io.Writer, t storage.Tutorial, format Format, opts Options) error {
	doc, err := newDocument(t, format, opts)
	if err != nil {
		return err
	}
	switch format {
	case Markdown:
		return markdownTemplate.Execute(w, doc)
	case HTML:
		return htmlTemplate.Execute(w, doc)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

type document struct {
	Title     string
	SessionID string
	Created   string
	Duration  string
	StepCount int
	State     string
	Hostname  string
	Steps     []stepView
}

type stepView struct {
	ID          int64
	Type        tutorial.StepType
	Description string
	Image       string
	ImageData   htmltemplate.URL
	Marker      *marker
	Confidence  string
	Notes       []string
}

// marker locates a click on its screenshot. Left and Top are percentages of
// the monitor; X and Y are the global desktop pixel.
type marker struct {
	Left      string
	Top       string
	MonitorID int
	X, Y      int
	Located   bool
}

func newDocument(t storage.Tutorial, format Format, opts Options) (document, error) {
	base := opts.ImageBase
	if base == "" {
		base = "screenshots/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	man := t.Manifest
	doc := document{
		Title:     man.Metadata.Title,
		SessionID: man.SessionID,
		Created:   man.Metadata.CreatedAt.UTC().Format("January 2, 2006 15:04 MST"),
		Duration:  time.Duration(man.Metadata.Duration * float64(time.Second)).Round(time.Second).String(),
		StepCount: len(t.Steps),
		State:     man.Status.State,
		Hostname:  man.Hostname,
	}
	if doc.Title == "" {
		doc.Title = "Untitled tutorial"
	}

	for _, step := range t.Steps {
		view := stepView{
			ID:          step.ID,
			Type:        step.Type,
			Description: step.Description,
			Marker:      markerFor(step.Coordinates, man.Monitors),
		}
		if step.OCRConfidence > 0 {
			view.Confidence = fmt.Sprintf("%.0f%%", step.OCRConfidence*100)
		}
		if step.Fallback && step.Coordinates != nil {
			view.Notes = append(view.Notes, "no label")
		}
		if step.Clamped {
			view.Notes = append(view.Notes, "clamped")
		}
		if step.Screenshot != "" {
			path := t.Layout.ScreenshotPath(step.Screenshot)
			switch {
			case opts.Embed && format == HTML:
				data, err := os.ReadFile(path)
				if err == nil {
					view.ImageData = htmltemplate.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
				} else if !errors.Is(err, os.ErrNotExist) {
					return document{}, fmt.Errorf("read screenshot %q: %w", step.Screenshot, err)
				}
			default:
				if _, err := os.Stat(path); err == nil {
					view.Image = base + step.Screenshot + ".png"
				}
			}
		}
		doc.Steps = append(doc.Steps, view)
	}
	return doc, nil
}

func markerFor(info *coords.Info, monitors []coords.Monitor) *marker {
	if info == nil {
		return nil
	}
	m := &marker{
		Left:      fmt.Sprintf("%.2f", info.PercentX),
		Top:       fmt.Sprintf("%.2f", info.PercentY),
		MonitorID: info.MonitorID,
	}
	if x, y, err := coords.ToGlobal(info.MonitorID, info.PercentX, info.PercentY, monitors); err == nil {
		m.X, m.Y, m.Located = x, y, true
	}
	return m
}
