package screenshots

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/offlinefirst/stepcapture/pkg/coords"
)

// recentPerMonitor bounds how many unreferenced frames are kept per monitor.
const recentPerMonitor = 4

// Ref identifies a frame attached to a step.
type Ref struct {
	ID         string    `json:"id"`
	MonitorID  int       `json:"monitor_id"`
	CapturedAt time.Time `json:"captured_at"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// Frame is a captured image with its reference.
type Frame struct {
	Ref      Ref
	Image    image.Image
	Metadata Metadata
}

// Options configure the Capturer.
type Options struct {
	Provider     CaptureProvider
	Monitors     []coords.Monitor
	Interval     time.Duration
	MaxPerMinute int
	MaxAge       time.Duration
	Clock        func() time.Time
	Sleeper      func(context.Context, time.Duration) error
	Logger       *slog.Logger
}

// Capturer polls the provider for each monitor and serves the frame closest
// to a click. Frames handed out by FrameFor are retained for storage.
type Capturer struct {
	provider CaptureProvider
	monitors []coords.Monitor
	interval time.Duration
	maxAge   time.Duration
	clock    func() time.Time
	sleeper  func(context.Context, time.Duration) error
	logger   *slog.Logger
	// poll throttles Run and demand throttles FrameFor; each has the full
	// per-minute budget.
	poll   *rate.Limiter
	demand *rate.Limiter

	mu         sync.Mutex
	recent     map[int][]Frame
	referenced map[string]Frame
	order      []string
	grabs      int
}

// NewCapturer validates options and returns a capturer.
func NewCapturer(opts Options) (*Capturer, error) {
	if opts.Provider == nil {
		return nil, errors.New("capture provider is required")
	}
	if err := coords.ValidateMonitors(opts.Monitors); err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if opts.MaxPerMinute <= 0 {
		return nil, errors.New("max per minute must be positive")
	}
	if opts.MaxAge <= 0 {
		return nil, errors.New("max age must be positive")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = defaultSleeper
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	every := rate.Every(time.Minute / time.Duration(opts.MaxPerMinute))
	burst := len(opts.Monitors)
	return &Capturer{
		provider:   opts.Provider,
		monitors:   append([]coords.Monitor(nil), opts.Monitors...),
		interval:   opts.Interval,
		maxAge:     opts.MaxAge,
		clock:      clock,
		sleeper:    sleeper,
		logger:     logger,
		poll:       rate.NewLimiter(every, burst),
		demand:     rate.NewLimiter(every, burst),
		recent:     make(map[int][]Frame),
		referenced: make(map[string]Frame),
	}, nil
}

// Run captures every monitor once per interval until ctx is done. A
// permission failure stops polling; on-demand grabs still run.
func (c *Capturer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		for _, m := range c.monitors {
			if _, err := c.grab(ctx, m, c.poll); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, ErrPermissionRequired) {
					c.logger.Warn("screenshot polling stopped", "error", err)
					return nil
				}
				c.logger.Debug("periodic screenshot skipped", "monitor_id", m.ID, "error", err)
			}
		}
		if err := c.sleeper(ctx, c.interval); err != nil {
			return nil
		}
	}
}

// FrameFor returns the newest frame of monitorID captured within MaxAge
// before at, grabbing a fresh one when none qualifies. If the grab is
// throttled or fails, the newest frame of any age is used.
func (c *Capturer) FrameFor(ctx context.Context, monitorID int, at time.Time) (Frame, error) {
	monitor, err := coords.Find(c.monitors, monitorID)
	if err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	frame, ok := c.closest(monitorID, at)
	c.mu.Unlock()
	if ok {
		return c.reference(frame), nil
	}

	frame, grabErr := c.grab(ctx, monitor, c.demand)
	if grabErr == nil {
		return c.reference(frame), nil
	}

	c.mu.Lock()
	frames := c.recent[monitorID]
	c.mu.Unlock()
	if len(frames) > 0 {
		stale := frames[len(frames)-1]
		c.logger.Debug("using stale screenshot", "monitor_id", monitorID, "age", at.Sub(stale.Ref.CapturedAt), "error", grabErr)
		return c.reference(stale), nil
	}
	return Frame{}, fmt.Errorf("%w for monitor %d: %v", ErrNoFrame, monitorID, grabErr)
}

// Frame returns a referenced frame by id.
func (c *Capturer) Frame(id string) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.referenced[id]
	return f, ok
}

// Frames returns every referenced frame in the order first referenced.
func (c *Capturer) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.referenced[id])
	}
	return out
}

// Grabs reports how many frames the provider produced.
func (c *Capturer) Grabs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grabs
}

func (c *Capturer) grab(ctx context.Context, monitor coords.Monitor, limiter *rate.Limiter) (Frame, error) {
	if !limiter.AllowN(c.clock(), 1) {
		return Frame{}, errors.New("screenshot rate limit reached")
	}
	capture, err := c.provider.Grab(ctx, monitor)
	if err != nil {
		return Frame{}, err
	}
	if capture.Image == nil {
		return Frame{}, errors.New("capture provider returned empty image")
	}
	ts := capture.Metadata.CapturedAt
	if ts.IsZero() {
		ts = c.clock()
	}
	ts = ts.UTC()
	capture.Metadata.CapturedAt = ts
	capture.Metadata.MonitorID = monitor.ID
	b := capture.Image.Bounds()
	frame := Frame{
		Ref: Ref{
			ID:         uuid.NewString(),
			MonitorID:  monitor.ID,
			CapturedAt: ts,
			Width:      b.Dx(),
			Height:     b.Dy(),
		},
		Image:    capture.Image,
		Metadata: capture.Metadata,
	}

	c.mu.Lock()
	frames := append(c.recent[monitor.ID], frame)
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Ref.CapturedAt.Before(frames[j].Ref.CapturedAt) })
	if len(frames) > recentPerMonitor {
		frames = frames[len(frames)-recentPerMonitor:]
	}
	c.recent[monitor.ID] = frames
	c.grabs++
	c.mu.Unlock()
	return frame, nil
}

// closest must be called with mu held.
func (c *Capturer) closest(monitorID int, at time.Time) (Frame, bool) {
	frames := c.recent[monitorID]
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if f.Ref.CapturedAt.After(at) {
			continue
		}
		if at.Sub(f.Ref.CapturedAt) <= c.maxAge {
			return f, true
		}
		break
	}
	return Frame{}, false
}

func (c *Capturer) reference(f Frame) Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.referenced[f.Ref.ID]; !ok {
		c.referenced[f.Ref.ID] = f
		c.order = append(c.order, f.Ref.ID)
	}
	return f
}

func defaultSleeper(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
