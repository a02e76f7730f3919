package tutorial

import (
	"image"
	"testing"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
)

func TestSessionPausedAndElapsed(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	resumed := start.Add(30 * time.Second)
	s := &Session{
		StartedAt: start,
		PausedIntervals: []PausedInterval{
			{Start: start.Add(10 * time.Second), End: &resumed},
			{Start: start.Add(50 * time.Second)},
		},
	}

	if s.Paused(start.Add(5 * time.Second)) {
		t.Fatalf("did not expect pause before first interval")
	}
	if !s.Paused(start.Add(10 * time.Second)) {
		t.Fatalf("expected interval start to be paused")
	}
	if s.Paused(resumed) {
		t.Fatalf("interval end is exclusive")
	}
	if !s.Paused(start.Add(time.Hour)) {
		t.Fatalf("open interval extends forever")
	}

	if got := s.Elapsed(start.Add(40 * time.Second)); got != 20*time.Second {
		t.Fatalf("expected 20s elapsed, got %s", got)
	}
	if got := s.Elapsed(start.Add(60 * time.Second)); got != 30*time.Second {
		t.Fatalf("expected 30s elapsed with open pause, got %s", got)
	}
}

func TestSessionMetadataAndClone(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	s := &Session{
		Title:     "Login flow",
		State:     lifecycle.Stopped,
		StartedAt: start,
		EndedAt:   &end,
		Steps:     []Step{{ID: 1, Type: StepClick}, {ID: 2, Type: StepTextEntry}},
	}
	meta := s.Metadata()
	if meta.StepCount != 2 || meta.Duration != 90 || meta.Status != "STOPPED" {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	clone := s.Clone()
	clone.Steps[0].Description = "changed"
	*clone.EndedAt = start
	if s.Steps[0].Description != "" || !s.EndedAt.Equal(end) {
		t.Fatalf("clone shares state with original")
	}
}

func TestRectFrom(t *testing.T) {
	r := RectFrom(image.Rect(1, 2, 3, 4))
	if *r != (Rect{X0: 1, Y0: 2, X1: 3, Y1: 4}) {
		t.Fatalf("unexpected rect %+v", r)
	}
}
