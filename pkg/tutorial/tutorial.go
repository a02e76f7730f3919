// Package tutorial holds the records produced by a recording: sessions and
// the ordered steps synthesised from their input events.
package tutorial

import (
	"image"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
)

// StepType classifies a step.
type StepType string

const (
	StepClick       StepType = "click"
	StepDoubleClick StepType = "double_click"
	StepTextEntry   StepType = "text_entry"
	StepSpecialKey  StepType = "special_key"
)

// Step is one synthesised tutorial entry. Steps are immutable once emitted.
type Step struct {
	ID            int64         `json:"step_id"`
	Type          StepType      `json:"step_type"`
	Timestamp     time.Time     `json:"timestamp"`
	Coordinates   *coords.Info  `json:"coordinate_info,omitempty"`
	Screenshot    string        `json:"screenshot_reference,omitempty"`
	Description   string        `json:"description"`
	OCRConfidence float64       `json:"ocr_confidence"`
	OCRText       string        `json:"ocr_text,omitempty"`
	OCREngine     string        `json:"ocr_engine,omitempty"`
	Fallback      bool          `json:"fallback,omitempty"`
	Button        events.Button `json:"button,omitempty"`
	Clamped       bool          `json:"clamped,omitempty"`
	Region        *Rect         `json:"region,omitempty"`
	Keys          []string      `json:"keys,omitempty"`
}

// Rect is a JSON-friendly image rectangle in monitor-relative pixels.
type Rect struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// RectFrom converts an image.Rectangle.
func RectFrom(r image.Rectangle) *Rect {
	return &Rect{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

// PausedInterval is a closed or open span during which input is ignored.
type PausedInterval struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether ts falls in [Start, End). Open intervals extend forever.
func (p PausedInterval) Contains(ts time.Time) bool {
	if ts.Before(p.Start) {
		return false
	}
	return p.End == nil || ts.Before(*p.End)
}

// Session is one recording lifecycle instance.
type Session struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	State           lifecycle.State  `json:"state"`
	Steps           []Step           `json:"steps"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	PausedIntervals []PausedInterval `json:"paused_intervals,omitempty"`
	Monitors        []coords.Monitor `json:"monitors"`
	DroppedEvents   uint64           `json:"dropped_events,omitempty"`
	DiscardedEvents uint64           `json:"discarded_events,omitempty"`
}

// Paused reports whether ts falls inside any recorded paused interval.
func (s *Session) Paused(ts time.Time) bool {
	for _, p := range s.PausedIntervals {
		if p.Contains(ts) {
			return true
		}
	}
	return false
}

// Elapsed is the recording time up to now, excluding paused time.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	total := end.Sub(s.StartedAt)
	for _, p := range s.PausedIntervals {
		pauseEnd := end
		if p.End != nil && p.End.Before(end) {
			pauseEnd = *p.End
		}
		if pauseEnd.After(p.Start) {
			total -= pauseEnd.Sub(p.Start)
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() Session {
	out := *s
	out.Steps = append([]Step(nil), s.Steps...)
	out.PausedIntervals = make([]PausedInterval, len(s.PausedIntervals))
	for i, p := range s.PausedIntervals {
		out.PausedIntervals[i] = p
		if p.End != nil {
			end := *p.End
			out.PausedIntervals[i].End = &end
		}
	}
	out.Monitors = append([]coords.Monitor(nil), s.Monitors...)
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// Metadata is the summary persisted alongside a tutorial.
type Metadata struct {
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Duration  float64   `json:"duration_seconds"`
	StepCount int       `json:"step_count"`
	Status    string    `json:"status"`
}

// Metadata summarises the session.
func (s *Session) Metadata() Metadata {
	end := s.StartedAt
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return Metadata{
		Title:     s.Title,
		CreatedAt: s.StartedAt.UTC(),
		Duration:  s.Elapsed(end).Seconds(),
		StepCount: len(s.Steps),
		Status:    string(s.State),
	}
}
