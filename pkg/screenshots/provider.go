package screenshots

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/permissions"
)

// Backend names accepted by NewProvider.
const (
	BackendSynthetic = "synthetic"
	BackendNone      = "none"
)

// CaptureProvider produces a full frame of one monitor.
type CaptureProvider interface {
	Grab(ctx context.Context, monitor coords.Monitor) (FrameCapture, error)
}

// CaptureProviderFunc adapts a function to CaptureProvider.
type CaptureProviderFunc func(ctx context.Context, monitor coords.Monitor) (FrameCapture, error)

// Grab calls f.
func (f CaptureProviderFunc) Grab(ctx context.Context, monitor coords.Monitor) (FrameCapture, error) {
	return f(ctx, monitor)
}

// MonitorSource supplies the monitor set snapshotted at session start.
type MonitorSource interface {
	Monitors(ctx context.Context) ([]coords.Monitor, error)
}

// StaticMonitors is a fixed monitor set.
type StaticMonitors []coords.Monitor

// Monitors returns a copy of the set.
func (s StaticMonitors) Monitors(context.Context) ([]coords.Monitor, error) {
	if err := coords.ValidateMonitors(s); err != nil {
		return nil, err
	}
	return append([]coords.Monitor(nil), s...), nil
}

// FrameCapture is a decoded frame with its metadata.
type FrameCapture struct {
	Image    image.Image
	Metadata Metadata
}

// Metadata captures details about a screenshot frame.
type Metadata struct {
	CapturedAt time.Time `json:"captured_at"`
	Backend    string    `json:"backend"`
	MonitorID  int       `json:"monitor_id"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Scale      float64   `json:"scale,omitempty"`
	Notes      []string  `json:"notes,omitempty"`
}

// NewProvider resolves a configured backend. Capture is refused up front when
// the screen recording probe reports the permission as unusable.
func NewProvider(backend string, probe permissions.ProbeResult) (CaptureProvider, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSynthetic:
		if !probe.Usable() {
			return nil, newPermissionError(probe.Message)
		}
		return NewSynthetic(nil), nil
	case BackendNone:
		return disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown screenshot backend %q", backend)
	}
}

type disabled struct{}

func (disabled) Grab(context.Context, coords.Monitor) (FrameCapture, error) {
	return FrameCapture{}, fmt.Errorf("%w: screenshots disabled", ErrNoFrame)
}
