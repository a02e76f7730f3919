package screenshots

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/coords"
)

// DefaultMonitors is the single 1920x1080 display the synthetic backend reports.
func DefaultMonitors() StaticMonitors {
	return StaticMonitors{{ID: 1, Width: 1920, Height: 1080, Primary: true, Scale: 1}}
}

// widget is a control laid out in thousandths of the monitor size.
type widget struct {
	x0, y0, x1, y1 int
	fill           color.Gray
}

// mockLayout mirrors the synthetic login-flow timeline: a recorder toolbar
// button, a toolbar icon, the sign-in field and a context-menu target.
var mockLayout = []widget{
	{x0: 5, y0: 14, x1: 36, y1: 42, fill: color.Gray{Y: 70}},
	{x0: 135, y0: 167, x1: 177, y1: 204, fill: color.Gray{Y: 90}},
	{x0: 396, y0: 370, x1: 604, y1: 407, fill: color.Gray{Y: 255}},
	{x0: 740, y0: 630, x1: 823, y1: 667, fill: color.Gray{Y: 60}},
}

var (
	background = color.Gray{Y: 232}
	outline    = color.Gray{Y: 20}
)

// Synthetic renders a deterministic mock UI for each monitor.
type Synthetic struct {
	clock func() time.Time
}

// NewSynthetic returns the synthetic provider.
func NewSynthetic(clock func() time.Time) *Synthetic {
	if clock == nil {
		clock = time.Now
	}
	return &Synthetic{clock: clock}
}

// Grab renders the mock UI at the monitor's resolution.
func (s *Synthetic) Grab(ctx context.Context, monitor coords.Monitor) (FrameCapture, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return FrameCapture{}, err
		}
	}
	if monitor.Width <= 0 || monitor.Height <= 0 {
		return FrameCapture{}, coords.ErrInvalidMonitor
	}
	img := image.NewGray(image.Rect(0, 0, monitor.Width, monitor.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	for _, w := range mockLayout {
		rect := image.Rect(
			w.x0*monitor.Width/1000, w.y0*monitor.Height/1000,
			w.x1*monitor.Width/1000, w.y1*monitor.Height/1000,
		)
		draw.Draw(img, rect, &image.Uniform{C: outline}, image.Point{}, draw.Src)
		draw.Draw(img, rect.Inset(2), &image.Uniform{C: w.fill}, image.Point{}, draw.Src)
	}
	return FrameCapture{
		Image: img,
		Metadata: Metadata{
			CapturedAt: s.clock().UTC(),
			Backend:    BackendSynthetic,
			MonitorID:  monitor.ID,
			Width:      monitor.Width,
			Height:     monitor.Height,
			Scale:      1,
		},
	}, nil
}
