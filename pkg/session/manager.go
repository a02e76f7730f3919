// Package session owns the single active recording session. It serialises
// lifecycle transitions, publishes the state the capture callback observes
// and drains the event queue through the processor on stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/feed"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/processor"
	"github.com/offlinefirst/stepcapture/pkg/queue"
	"github.com/offlinefirst/stepcapture/pkg/screenshots"
	"github.com/offlinefirst/stepcapture/pkg/storage"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// Metrics extends the processor instruments with queue loss accounting.
type Metrics interface {
	processor.Metrics
	EventDropped(ctx context.Context, reason string)
}

// ScreenshotOptions configure the per-session frame capturer. A nil
// Provider disables screenshots; clicks then fall back to positional text.
type ScreenshotOptions struct {
	Provider     screenshots.CaptureProvider
	Interval     time.Duration
	MaxPerMinute int
	MaxAge       time.Duration
	Sleeper      func(context.Context, time.Duration) error
}

// Options configure a Manager.
type Options struct {
	Monitors      screenshots.MonitorSource
	QueueCapacity int
	// Processor is the template for each session's processor. Monitors,
	// Frames, Pauses, EventLog, Emit, Clock, Logger and Metrics are set by
	// the manager.
	Processor   processor.Options
	Screenshots ScreenshotOptions
	Store       storage.Store
	Feed        *feed.Broadcaster
	Clock       func() time.Time
	Logger      *slog.Logger
	Metrics     Metrics
	NewID       func() string
}

// Status is the point-in-time view returned by Manager.Status.
type Status struct {
	SessionID  string          `json:"session_id,omitempty"`
	Title      string          `json:"title,omitempty"`
	State      lifecycle.State `json:"state"`
	StepCount  int             `json:"step_count"`
	Elapsed    time.Duration   `json:"-"`
	ElapsedSec float64         `json:"elapsed_seconds"`
	QueueDepth int             `json:"queue_depth"`
	Dropped    uint64          `json:"dropped_events"`
	Discarded  uint64          `json:"discarded_events"`
}

// gate is what the capture callback reads without locking.
type gate struct {
	state lifecycle.State
	queue *queue.Queue
}

// Manager runs at most one session at a time.
type Manager struct {
	opts    Options
	feed    *feed.Broadcaster
	clock   func() time.Time
	logger  *slog.Logger
	metrics Metrics
	newID   func() string

	mu      sync.Mutex
	current *run
	gate    atomic.Pointer[gate]
}

// run holds one session and the goroutines serving it.
type run struct {
	mu      sync.Mutex
	session tutorial.Session

	queue     *queue.Queue
	capturer  *screenshots.Capturer
	eventLog  storage.EventLog
	cancel    context.CancelFunc
	group     *errgroup.Group
	processed chan struct{}
}

// Paused implements processor.PauseLog.
func (r *run) Paused(ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Paused(ts)
}

func (r *run) snapshot() tutorial.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

// New validates options and returns an idle manager.
func New(opts Options) (*Manager, error) {
	if opts.Monitors == nil {
		return nil, errors.New("monitor source is required")
	}
	if opts.QueueCapacity < 0 {
		return nil, errors.New("queue capacity must not be negative")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var metrics Metrics = noopMetrics{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	broadcaster := opts.Feed
	if broadcaster == nil {
		broadcaster = feed.New()
	}
	return &Manager{
		opts:    opts,
		feed:    broadcaster,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		newID:   newID,
	}, nil
}

// New allocates an IDLE session titled title. It fails with a ConflictError
// while another session is active.
func (m *Manager) New(title string) (tutorial.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.conflict(); err != nil {
		return tutorial.Session{}, err
	}
	r := &run{session: tutorial.Session{ID: m.newID(), Title: title, State: lifecycle.Idle}}
	m.current = r
	m.logger.Info("session created", "session_id", r.session.ID, "title", title)
	return r.snapshot(), nil
}

// Start moves the IDLE session to RECORDING: it snapshots the monitor set,
// opens the event log and launches the processor and screenshot loop.
func (m *Manager) Start(ctx context.Context) (tutorial.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.current
	if r == nil {
		return tutorial.Session{}, ErrNoSession
	}
	r.mu.Lock()
	state, id := r.session.State, r.session.ID
	r.mu.Unlock()
	if lifecycle.Active(state) {
		return tutorial.Session{}, &ConflictError{ActiveID: id, State: state}
	}
	if _, err := lifecycle.Next(state, lifecycle.Start); err != nil {
		return tutorial.Session{}, err
	}
	if err := m.launch(ctx, r); err != nil {
		return tutorial.Session{}, err
	}
	return r.snapshot(), nil
}

// StartNew creates and starts a session in one call.
func (m *Manager) StartNew(ctx context.Context, title string) (tutorial.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.conflict(); err != nil {
		return tutorial.Session{}, err
	}
	r := &run{session: tutorial.Session{ID: m.newID(), Title: title, State: lifecycle.Idle}}
	if err := m.launch(ctx, r); err != nil {
		return tutorial.Session{}, err
	}
	m.current = r
	return r.snapshot(), nil
}

// Pause stops buffering input and opens a paused interval.
func (m *Manager) Pause() (tutorial.Session, error) {
	return m.transition(lifecycle.Pause, func(r *run, now time.Time) {
		r.session.PausedIntervals = append(r.session.PausedIntervals, tutorial.PausedInterval{Start: now})
	})
}

// Resume closes the open paused interval and resumes buffering.
func (m *Manager) Resume() (tutorial.Session, error) {
	return m.transition(lifecycle.Resume, func(r *run, now time.Time) {
		closePaused(&r.session, now)
	})
}

// Stop moves the session to PROCESSING, drains the queue through the
// processor, marks it STOPPED and hands it to the store. It blocks until
// draining completes. Draining and persistence ignore ctx cancellation;
// only its values are used. A store failure is returned alongside the
// stopped session.
func (m *Manager) Stop(ctx context.Context) (tutorial.Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	m.mu.Lock()
	r := m.current
	if r == nil {
		m.mu.Unlock()
		return tutorial.Session{}, ErrNoSession
	}
	now := m.clock()
	r.mu.Lock()
	next, err := lifecycle.Next(r.session.State, lifecycle.Stop)
	if err != nil {
		r.mu.Unlock()
		m.mu.Unlock()
		return tutorial.Session{}, err
	}
	closePaused(&r.session, now)
	r.session.State = next
	id := r.session.ID
	r.mu.Unlock()
	m.gate.Store(&gate{state: next, queue: r.queue})
	m.mu.Unlock()

	m.logger.Info("session draining", "session_id", id, "state", next, "queued", r.queue.Len())
	m.publishState(r)

	r.queue.Close()
	<-r.processed
	r.cancel()
	if err := r.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("session workers exited with error", "session_id", id, "error", err)
	}
	if r.eventLog != nil {
		if err := r.eventLog.Close(); err != nil {
			m.logger.Warn("event log close failed", "session_id", id, "error", err)
		}
	}

	m.mu.Lock()
	ended := m.clock()
	r.mu.Lock()
	finished, err := lifecycle.Next(r.session.State, lifecycle.Finish)
	if err != nil {
		r.mu.Unlock()
		m.mu.Unlock()
		return tutorial.Session{}, err
	}
	r.session.State = finished
	r.session.EndedAt = &ended
	r.session.DroppedEvents = r.queue.Dropped()
	r.session.DiscardedEvents = r.queue.Discarded()
	done := r.session.Clone()
	r.mu.Unlock()
	m.gate.Store(nil)
	m.mu.Unlock()

	m.logger.Info("session stopped", "session_id", id, "state", finished,
		"steps", len(done.Steps), "dropped", done.DroppedEvents, "discarded", done.DiscardedEvents)
	m.publishState(r)

	if m.opts.Store != nil {
		var frames storage.FrameSource = storage.NoFrames{}
		if r.capturer != nil {
			frames = r.capturer
		}
		if err := m.opts.Store.Save(ctx, done, frames); err != nil {
			return done, fmt.Errorf("save session: %w", err)
		}
	}
	return done, nil
}

// Status reports the current session's state, step count and elapsed
// recording time. Without a session the state is IDLE.
func (m *Manager) Status() Status {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()
	if r == nil {
		return Status{State: lifecycle.Idle}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.session.Elapsed(m.clock())
	st := Status{
		SessionID:  r.session.ID,
		Title:      r.session.Title,
		State:      r.session.State,
		StepCount:  len(r.session.Steps),
		Elapsed:    elapsed,
		ElapsedSec: elapsed.Seconds(),
		Dropped:    r.session.DroppedEvents,
		Discarded:  r.session.DiscardedEvents,
	}
	if r.queue != nil && lifecycle.Active(r.session.State) {
		st.QueueDepth = r.queue.Len()
		st.Dropped = r.queue.Dropped()
		st.Discarded = r.queue.Discarded()
	}
	return st
}

// Enqueue hands a captured event to the active session. It never blocks:
// the session state is read from an atomic snapshot.
func (m *Manager) Enqueue(ev events.RawEvent) queue.Outcome {
	g := m.gate.Load()
	if g == nil {
		return queue.Rejected
	}
	outcome := g.queue.Enqueue(ev, g.state)
	if outcome == queue.Discarded {
		m.metrics.EventDropped(context.Background(), "paused")
	}
	return outcome
}

// Subscribe registers a feed listener.
func (m *Manager) Subscribe(buffer int) (<-chan feed.Notification, func()) {
	return m.feed.Subscribe(buffer)
}

// Current returns a copy of the current session, if any.
func (m *Manager) Current() (tutorial.Session, bool) {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()
	if r == nil {
		return tutorial.Session{}, false
	}
	return r.snapshot(), true
}

// conflict reports a ConflictError when the current session is active.
// Callers hold m.mu.
func (m *Manager) conflict() error {
	if m.current == nil {
		return nil
	}
	m.current.mu.Lock()
	defer m.current.mu.Unlock()
	if lifecycle.Active(m.current.session.State) {
		return &ConflictError{ActiveID: m.current.session.ID, State: m.current.session.State}
	}
	return nil
}

// launch builds the session pipeline and moves r to RECORDING. Callers hold m.mu.
func (m *Manager) launch(ctx context.Context, r *run) error {
	if ctx == nil {
		ctx = context.Background()
	}
	monitors, err := m.opts.Monitors.Monitors(ctx)
	if err != nil {
		return fmt.Errorf("snapshot monitors: %w", err)
	}
	logger := m.logger.With("session_id", r.session.ID)

	q := queue.New(m.opts.QueueCapacity)
	q.OnDrop(func(item queue.Item) {
		m.metrics.EventDropped(context.Background(), "overflow")
		logger.Warn("event queue overflow", "seq", item.Seq, "dropped_total", q.Dropped())
	})

	var capturer *screenshots.Capturer
	if shots := m.opts.Screenshots; shots.Provider != nil {
		capturer, err = screenshots.NewCapturer(screenshots.Options{
			Provider:     shots.Provider,
			Monitors:     monitors,
			Interval:     shots.Interval,
			MaxPerMinute: shots.MaxPerMinute,
			MaxAge:       shots.MaxAge,
			Clock:        m.clock,
			Sleeper:      shots.Sleeper,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("screenshot capturer: %w", err)
		}
	}

	now := m.clock()
	next, err := lifecycle.Next(r.session.State, lifecycle.Start)
	if err != nil {
		return err
	}
	r.mu.Lock()
	opening := r.session.Clone()
	r.mu.Unlock()
	opening.State = next
	opening.StartedAt = now
	opening.Monitors = monitors

	var eventLog storage.EventLog
	if opener, ok := m.opts.Store.(storage.EventLogOpener); ok {
		eventLog, err = opener.OpenEventLog(opening)
		if err != nil {
			logger.Warn("event log unavailable", "error", err)
			eventLog = nil
		}
	}

	popts := m.opts.Processor
	popts.Monitors = monitors
	popts.Pauses = r
	popts.Clock = m.clock
	popts.Logger = logger
	popts.Metrics = m.metrics
	popts.Frames = nil
	if capturer != nil {
		popts.Frames = capturer
	}
	popts.EventLog = nil
	if eventLog != nil {
		popts.EventLog = dispositionLog{eventLog}
	}
	popts.Emit = func(step tutorial.Step) {
		r.mu.Lock()
		r.session.Steps = append(r.session.Steps, step)
		n := feed.Notification{
			Kind:      feed.KindStep,
			SessionID: r.session.ID,
			Title:     r.session.Title,
			State:     r.session.State,
			Step:      &step,
			StepCount: len(r.session.Steps),
			At:        m.clock(),
		}
		r.mu.Unlock()
		m.feed.Publish(n)
	}
	proc, err := processor.New(popts)
	if err != nil {
		if eventLog != nil {
			eventLog.Close()
		}
		return fmt.Errorf("processor: %w", err)
	}

	r.mu.Lock()
	r.session.State = next
	r.session.StartedAt = now
	r.session.Monitors = monitors
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.queue = q
	r.capturer = capturer
	r.eventLog = eventLog
	r.cancel = cancel
	r.processed = make(chan struct{})
	r.group = &errgroup.Group{}
	r.group.Go(func() error {
		defer close(r.processed)
		return proc.Run(runCtx, q)
	})
	if capturer != nil {
		r.group.Go(func() error {
			return capturer.Run(runCtx)
		})
	}

	m.gate.Store(&gate{state: next, queue: q})
	logger.Info("session started", "state", next, "monitors", len(monitors))
	m.publishState(r)
	return nil
}

// transition applies a RECORDING/PAUSED toggle under the lifecycle lock.
func (m *Manager) transition(t lifecycle.Transition, apply func(r *run, now time.Time)) (tutorial.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.current
	if r == nil {
		return tutorial.Session{}, ErrNoSession
	}
	now := m.clock()
	r.mu.Lock()
	next, err := lifecycle.Next(r.session.State, t)
	if err != nil {
		r.mu.Unlock()
		return tutorial.Session{}, err
	}
	apply(r, now)
	r.session.State = next
	id := r.session.ID
	r.mu.Unlock()
	m.gate.Store(&gate{state: next, queue: r.queue})
	m.logger.Info("session "+string(t), "session_id", id, "state", next)
	m.publishState(r)
	return r.snapshot(), nil
}

func (m *Manager) publishState(r *run) {
	r.mu.Lock()
	n := feed.Notification{
		Kind:      feed.KindState,
		SessionID: r.session.ID,
		Title:     r.session.Title,
		State:     r.session.State,
		StepCount: len(r.session.Steps),
		At:        m.clock(),
	}
	r.mu.Unlock()
	m.feed.Publish(n)
}

func closePaused(s *tutorial.Session, now time.Time) {
	if n := len(s.PausedIntervals); n > 0 && s.PausedIntervals[n-1].End == nil {
		end := now
		s.PausedIntervals[n-1].End = &end
	}
}

// dispositionLog adapts a storage event log to the processor.
type dispositionLog struct {
	log storage.EventLog
}

func (d dispositionLog) Record(ev events.RawEvent, disposition processor.Disposition) error {
	return d.log.Record(ev, string(disposition))
}

type noopMetrics struct{}

func (noopMetrics) StepEmitted(context.Context, string)       {}
func (noopMetrics) EventSkipped(context.Context, string)      {}
func (noopMetrics) OCRFallback(context.Context, string)       {}
func (noopMetrics) OCRLatency(context.Context, time.Duration) {}
func (noopMetrics) EventDropped(context.Context, string)      {}
