// Package processor turns queued raw input events into tutorial steps.
//
// A Processor is driven by a single goroutine: either Run, or a caller
// invoking Process, Tick and Flush in sequence. It holds back the first click
// of a potential double click until the double-click window passes, and
// buffers printable keystrokes until the typing goes idle or something else
// happens, so steps are always emitted in input order.
package processor

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/ocr"
	"github.com/offlinefirst/stepcapture/pkg/queue"
	"github.com/offlinefirst/stepcapture/pkg/region"
	"github.com/offlinefirst/stepcapture/pkg/screenshots"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// Disposition records what happened to a consumed event.
type Disposition string

const (
	Accepted  Disposition = "accepted"
	Ignored   Disposition = "ignored"
	Paused    Disposition = "paused"
	OwnWindow Disposition = "own_window"
	Filtered  Disposition = "filtered"
	OffScreen Disposition = "monitor"
)

// Fallback reasons reported to metrics when a click gets a coordinate description.
const (
	FallbackNoFrame       = "no_frame"
	FallbackUnavailable   = "unavailable"
	FallbackTimeout       = "timeout"
	FallbackError         = "error"
	FallbackLowConfidence = "low_confidence"
)

// Defaults for grouping windows.
const (
	DefaultDoubleClickWindow   = 500 * time.Millisecond
	DefaultDoubleClickDistance = 5
	DefaultTextIdleGap         = time.Second
	DefaultMinConfidence       = 0.6
)

// FrameSource supplies the screenshot for a click.
type FrameSource interface {
	FrameFor(ctx context.Context, monitorID int, at time.Time) (screenshots.Frame, error)
}

// PauseLog reports whether a timestamp falls inside a paused interval.
type PauseLog interface {
	Paused(ts time.Time) bool
}

// EventLog receives every consumed event with its disposition.
type EventLog interface {
	Record(ev events.RawEvent, disposition Disposition) error
}

// Metrics is the instrumentation surface used by the processor.
type Metrics interface {
	StepEmitted(ctx context.Context, stepType string)
	EventSkipped(ctx context.Context, reason string)
	OCRFallback(ctx context.Context, reason string)
	OCRLatency(ctx context.Context, d time.Duration)
}

// Options configure a Processor.
type Options struct {
	Monitors            []coords.Monitor
	DoubleClickWindow   time.Duration
	DoubleClickDistance float64
	TextIdleGap         time.Duration
	MinConfidence       float64
	OCRTimeout          time.Duration
	FilterKeystrokes    bool
	// MonitorID restricts recording to one monitor; zero records all.
	MonitorID int
	OwnWindow func(events.RawEvent) bool
	Redactor  events.Redactor
	Frames    FrameSource
	Selector  *region.Selector
	// Recognizer may be nil when no OCR engine is available.
	Recognizer ocr.Recognizer
	Pauses     PauseLog
	EventLog   EventLog
	Emit       func(tutorial.Step)
	// FirstStepID defaults to 1.
	FirstStepID int64
	Clock       func() time.Time
	Logger      *slog.Logger
	Metrics     Metrics
}

type pendingClick struct {
	click events.MouseClick
	info  coords.Info
}

type textGroup struct {
	runes []rune
	start time.Time
	last  time.Time
}

// Processor synthesises steps from raw events.
type Processor struct {
	opts       Options
	recognizer ocr.Recognizer
	selector   *region.Selector
	clock      func() time.Time
	logger     *slog.Logger
	metrics    Metrics
	nextID     atomic.Int64

	pending *pendingClick
	text    *textGroup
}

// New validates options and returns a Processor.
func New(opts Options) (*Processor, error) {
	if err := coords.ValidateMonitors(opts.Monitors); err != nil {
		return nil, err
	}
	if opts.Emit == nil {
		return nil, errors.New("emit callback is required")
	}
	if opts.DoubleClickWindow <= 0 {
		opts.DoubleClickWindow = DefaultDoubleClickWindow
	}
	if opts.DoubleClickDistance <= 0 {
		opts.DoubleClickDistance = DefaultDoubleClickDistance
	}
	if opts.TextIdleGap <= 0 {
		opts.TextIdleGap = DefaultTextIdleGap
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, errors.New("min confidence must be within [0,1]")
	}
	if opts.FirstStepID <= 0 {
		opts.FirstStepID = 1
	}
	selector := opts.Selector
	if selector == nil {
		selector = region.New(region.DefaultOptions())
	}
	recognizer := opts.Recognizer
	if recognizer != nil && opts.OCRTimeout > 0 {
		recognizer = ocr.WithTimeout(recognizer, opts.OCRTimeout)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	p := &Processor{
		opts:       opts,
		recognizer: recognizer,
		selector:   selector,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
	p.nextID.Store(opts.FirstStepID)
	return p, nil
}

// Process consumes one queued item.
func (p *Processor) Process(ctx context.Context, item queue.Item) {
	ev := item.Event
	if ev == nil {
		return
	}
	if d := p.screen(item); d != Accepted {
		p.skip(ctx, ev, d)
		return
	}

	p.Tick(ctx, ev.Time())

	switch e := ev.(type) {
	case events.MouseClick:
		p.record(ev, p.click(ctx, e))
	case events.KeyPress:
		p.record(ev, p.key(ctx, e))
	}
}

// Tick emits groups whose window has elapsed at now.
func (p *Processor) Tick(ctx context.Context, now time.Time) {
	if p.pending != nil && now.Sub(p.pending.click.Timestamp) > p.opts.DoubleClickWindow {
		p.flushClick(ctx)
	}
	if p.text != nil && now.Sub(p.text.last) > p.opts.TextIdleGap {
		p.flushText(ctx)
	}
}

// Flush emits every held group.
func (p *Processor) Flush(ctx context.Context) {
	p.flushClick(ctx)
	p.flushText(ctx)
}

// Pending reports whether a click or text group is held back.
func (p *Processor) Pending() bool {
	return p.pending != nil || p.text != nil
}

// NextStepID is the id the next emitted step will receive.
func (p *Processor) NextStepID() int64 {
	return p.nextID.Load()
}

// Run consumes q until it is closed and drained, then flushes held groups.
// Groups are also flushed when their window elapses while the queue is idle.
func (p *Processor) Run(ctx context.Context, q *queue.Queue) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		item, ok, closed := q.TryDequeue()
		if ok {
			p.Process(ctx, item)
			continue
		}
		if closed {
			p.Flush(ctx)
			return nil
		}

		var timeout <-chan time.Time
		var timer *time.Timer
		if deadline, ok := p.deadline(); ok {
			wait := deadline.Sub(p.clock()) + time.Millisecond
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			p.Flush(ctx)
			return ctx.Err()
		case <-q.Wait():
		case <-timeout:
			p.Tick(ctx, p.clock())
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (p *Processor) deadline() (time.Time, bool) {
	var deadline time.Time
	found := false
	if p.pending != nil {
		deadline = p.pending.click.Timestamp.Add(p.opts.DoubleClickWindow)
		found = true
	}
	if p.text != nil {
		textDeadline := p.text.last.Add(p.opts.TextIdleGap)
		if !found || textDeadline.Before(deadline) {
			deadline = textDeadline
		}
		found = true
	}
	return deadline, found
}

func (p *Processor) screen(item queue.Item) Disposition {
	if !item.State.Accepting() {
		return Paused
	}
	if p.opts.Pauses != nil && p.opts.Pauses.Paused(item.Event.Time()) {
		return Paused
	}
	if p.opts.OwnWindow != nil && p.opts.OwnWindow(item.Event) {
		return OwnWindow
	}
	if _, isKey := item.Event.(events.KeyPress); isKey && p.opts.FilterKeystrokes {
		return Filtered
	}
	return Accepted
}

func (p *Processor) skip(ctx context.Context, ev events.RawEvent, d Disposition) {
	p.metrics.EventSkipped(ctx, string(d))
	p.record(ev, d)
}

func (p *Processor) record(ev events.RawEvent, d Disposition) {
	if p.opts.EventLog == nil {
		return
	}
	if err := p.opts.EventLog.Record(ev, d); err != nil {
		p.logger.Warn("event log write failed", "error", err)
	}
}

func (p *Processor) click(ctx context.Context, c events.MouseClick) Disposition {
	if !c.Pressed {
		return Ignored
	}
	info, err := coords.Locate(c.X, c.Y, p.opts.Monitors)
	if err != nil {
		p.logger.Warn("click could not be located", "x", c.X, "y", c.Y, "error", err)
		p.metrics.EventSkipped(ctx, string(OffScreen))
		return OffScreen
	}
	if p.opts.MonitorID != 0 && info.MonitorID != p.opts.MonitorID {
		p.metrics.EventSkipped(ctx, string(OffScreen))
		return OffScreen
	}

	p.flushText(ctx)

	if prev := p.pending; prev != nil {
		if p.isDoubleClick(prev.click, c) {
			p.pending = nil
			p.emitClick(ctx, tutorial.StepDoubleClick, prev.click, prev.info)
			return Accepted
		}
		p.flushClick(ctx)
	}
	p.pending = &pendingClick{click: c, info: info}
	return Accepted
}

func (p *Processor) isDoubleClick(first, second events.MouseClick) bool {
	if first.Button != second.Button {
		return false
	}
	gap := second.Timestamp.Sub(first.Timestamp)
	if gap < 0 || gap > p.opts.DoubleClickWindow {
		return false
	}
	dist := math.Hypot(float64(second.X-first.X), float64(second.Y-first.Y))
	return dist <= p.opts.DoubleClickDistance
}

func (p *Processor) key(ctx context.Context, k events.KeyPress) Disposition {
	p.flushClick(ctx)

	if k.Key.IsModifier() {
		return Ignored
	}
	if k.Shortcut() || k.Key.IsSpecial() {
		p.flushText(ctx)
		p.emitKey(ctx, k)
		return Accepted
	}
	if k.Key.IsBackspace() {
		if p.text != nil && len(p.text.runes) > 0 {
			p.text.runes = p.text.runes[:len(p.text.runes)-1]
			p.text.last = k.Timestamp
		}
		return Accepted
	}
	r, ok := k.Key.Printable()
	if !ok {
		p.flushText(ctx)
		p.emitKey(ctx, k)
		return Accepted
	}
	if p.text == nil {
		p.text = &textGroup{start: k.Timestamp}
	}
	p.text.runes = append(p.text.runes, r)
	p.text.last = k.Timestamp
	return Accepted
}

func (p *Processor) flushClick(ctx context.Context) {
	if p.pending == nil {
		return
	}
	prev := p.pending
	p.pending = nil
	p.emitClick(ctx, tutorial.StepClick, prev.click, prev.info)
}

func (p *Processor) flushText(ctx context.Context) {
	if p.text == nil {
		return
	}
	group := p.text
	p.text = nil
	if len(group.runes) == 0 {
		return
	}
	text := p.opts.Redactor.Redact(string(group.runes))
	p.emit(ctx, tutorial.Step{
		Type:        tutorial.StepTextEntry,
		Timestamp:   group.start,
		Description: describeText(text),
	})
}

func (p *Processor) emitKey(ctx context.Context, k events.KeyPress) {
	label := k.Label()
	p.emit(ctx, tutorial.Step{
		Type:        tutorial.StepSpecialKey,
		Timestamp:   k.Timestamp,
		Description: describeKey(label),
		Keys:        []string{label},
	})
}

func (p *Processor) emitClick(ctx context.Context, stepType tutorial.StepType, c events.MouseClick, info coords.Info) {
	if info.Clamped {
		p.logger.Warn("click outside every monitor; clamped to nearest", "x", c.X, "y", c.Y, "monitor_id", info.MonitorID)
	}
	located := info
	step := tutorial.Step{
		Type:        stepType,
		Timestamp:   c.Timestamp,
		Coordinates: &located,
		Button:      c.Button,
		Clamped:     info.Clamped,
	}

	label := p.label(ctx, &step, c, info)
	step.Fallback = label == ""
	step.Description = describeClick(stepType, c.Button, label, info)
	p.emit(ctx, step)
}

// label runs region selection and OCR for a click, filling the screenshot,
// region and OCR fields of step. It returns "" when the coordinate
// description must be used; OCR problems never prevent the step.
func (p *Processor) label(ctx context.Context, step *tutorial.Step, c events.MouseClick, info coords.Info) string {
	if p.opts.Frames == nil {
		p.metrics.OCRFallback(ctx, FallbackNoFrame)
		return ""
	}
	frame, err := p.opts.Frames.FrameFor(ctx, info.MonitorID, c.Timestamp)
	if err != nil || frame.Image == nil {
		p.logger.Debug("no screenshot for click", "monitor_id", info.MonitorID, "error", err)
		p.metrics.OCRFallback(ctx, FallbackNoFrame)
		return ""
	}
	step.Screenshot = frame.Ref.ID

	bounds := frame.Image.Bounds()
	pt := image.Pt(
		bounds.Min.X+scale(info.RelativeX, bounds.Dx(), info.ScreenWidth),
		bounds.Min.Y+scale(info.RelativeY, bounds.Dy(), info.ScreenHeight),
	)
	box, err := p.selector.Select(frame.Image, pt)
	if err != nil {
		p.metrics.OCRFallback(ctx, FallbackNoFrame)
		return ""
	}
	step.Region = tutorial.RectFrom(box.Rect)

	if p.recognizer == nil {
		p.metrics.OCRFallback(ctx, FallbackUnavailable)
		return ""
	}
	started := p.clock()
	res, err := p.recognizer.Recognize(ctx, region.Crop(frame.Image, box.Rect))
	p.metrics.OCRLatency(ctx, p.clock().Sub(started))
	if err != nil {
		reason := FallbackError
		switch {
		case errors.Is(err, ocr.ErrTimeout):
			reason = FallbackTimeout
		case errors.Is(err, ocr.ErrUnavailable):
			reason = FallbackUnavailable
		case errors.Is(err, ocr.ErrNoText):
			reason = FallbackLowConfidence
		}
		p.logger.Debug("ocr fallback", "reason", reason, "error", err)
		p.metrics.OCRFallback(ctx, reason)
		return ""
	}

	text := ocr.Clean(res.Text)
	step.OCRText = text
	step.OCREngine = res.Engine
	if !ocr.Meaningful(text) || res.Confidence < p.opts.MinConfidence {
		// Fallback steps always carry zero confidence; the rejected text
		// stays in OCRText.
		p.logger.Debug("ocr fallback", "reason", FallbackLowConfidence, "text", text, "confidence", res.Confidence)
		p.metrics.OCRFallback(ctx, FallbackLowConfidence)
		return ""
	}
	step.OCRConfidence = res.Confidence
	return text
}

func (p *Processor) emit(ctx context.Context, step tutorial.Step) {
	step.ID = p.nextID.Add(1) - 1
	p.opts.Emit(step)
	p.metrics.StepEmitted(ctx, string(step.Type))
	p.logger.Debug("step emitted", "step_id", step.ID, "step_type", step.Type, "description", step.Description)
}

func scale(v, to, from int) int {
	if from <= 0 || to == from {
		return v
	}
	return v * to / from
}

type noopMetrics struct{}

func (noopMetrics) StepEmitted(context.Context, string)       {}
func (noopMetrics) EventSkipped(context.Context, string)      {}
func (noopMetrics) OCRFallback(context.Context, string)       {}
func (noopMetrics) OCRLatency(context.Context, time.Duration) {}
