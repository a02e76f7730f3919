package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventSource emits raw events that should be fed into a recording session.
type EventSource interface {
	Stream(ctx context.Context, emit func(RawEvent) error) error
}

// EventSourceFunc adapts a function literal to the EventSource interface.
type EventSourceFunc func(ctx context.Context, emit func(RawEvent) error) error

// Stream calls the underlying function.
func (f EventSourceFunc) Stream(ctx context.Context, emit func(RawEvent) error) error {
	return f(ctx, emit)
}

// Control is a lifecycle instruction embedded in a script.
type Control string

// Script controls.
const (
	ControlPause  Control = "pause"
	ControlResume Control = "resume"
)

type scriptEntry struct {
	line    int
	env     envelope
	control Control
}

// ScriptOptions controls script replay.
type ScriptOptions struct {
	// Clock supplies the base time that offset_ms values are relative to.
	Clock func() time.Time
	// Pace sleeps between entries so replay follows the scripted timing.
	Pace    bool
	Sleeper func(context.Context, time.Duration) error
	// OnControl receives pause/resume lines. Nil ignores them.
	OnControl func(context.Context, Control) error
}

// ScriptSource replays a JSONL script of encoded events and control lines.
type ScriptSource struct {
	entries []scriptEntry
	opts    ScriptOptions

	mu  sync.Mutex
	now time.Time
}

// LoadScript reads a script from disk.
func LoadScript(path string, opts ScriptOptions) (*ScriptSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script %q: %w", path, err)
	}
	defer file.Close()
	return ParseScript(file, opts)
}

// ParseScript validates every line up front so a bad script fails before recording starts.
func ParseScript(r io.Reader, opts ScriptOptions) (*ScriptSource, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleeper == nil {
		opts.Sleeper = sleepContext
	}

	scanner := bufio.NewScanner(r)
	var entries []scriptEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", lineNo, ErrMalformedEvent, err)
		}
		entry := scriptEntry{line: lineNo, env: env}
		switch Control(env.Type) {
		case ControlPause, ControlResume:
			entry.control = Control(env.Type)
		default:
			if _, err := env.event(time.Time{}); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return &ScriptSource{entries: entries, opts: opts}, nil
}

// Len reports the number of entries, control lines included.
func (s *ScriptSource) Len() int { return len(s.entries) }

// Now returns the scripted time of the most recently replayed entry, which
// lets a session clock follow the script instead of the wall clock.
func (s *ScriptSource) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now.IsZero() {
		return s.opts.Clock()
	}
	return s.now
}

// Stream replays the script.
func (s *ScriptSource) Stream(ctx context.Context, emit func(RawEvent) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	base := s.opts.Clock().UTC()
	prev := base
	s.setNow(base)

	for _, entry := range s.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		ts := entry.env.Timestamp
		if entry.env.OffsetMS != nil {
			ts = base.Add(time.Duration(*entry.env.OffsetMS) * time.Millisecond)
		}
		if ts.IsZero() {
			ts = prev
		}
		if s.opts.Pace && ts.After(prev) {
			if err := s.opts.Sleeper(ctx, ts.Sub(prev)); err != nil {
				return err
			}
		}
		prev = ts
		s.setNow(ts)

		if entry.control != "" {
			if s.opts.OnControl == nil {
				continue
			}
			if err := s.opts.OnControl(ctx, entry.control); err != nil {
				return fmt.Errorf("line %d: %s: %w", entry.line, entry.control, err)
			}
			continue
		}

		ev, err := entry.env.event(ts)
		if err != nil {
			return fmt.Errorf("line %d: %w", entry.line, err)
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScriptSource) setNow(ts time.Time) {
	s.mu.Lock()
	s.now = ts
	s.mu.Unlock()
}

func sleepContext(ctx context.Context, wait time.Duration) error {
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
