package events

import (
	"context"
	"time"
)

type syntheticSource struct {
	step  time.Duration
	clock func() time.Time
}

// NewSynthetic returns a deterministic "Login flow" timeline used by demos
// and tests on hosts without an input hook. Entries are spaced by step; the
// double click and keystroke bursts use fixed sub-step gaps.
func NewSynthetic(clock func() time.Time, step time.Duration) EventSource {
	if clock == nil {
		clock = time.Now
	}
	if step <= 0 {
		step = 2 * time.Second
	}
	return syntheticSource{step: step, clock: clock}
}

// SyntheticTimeline builds the synthetic events relative to start.
func SyntheticTimeline(start time.Time, step time.Duration) []RawEvent {
	browser := Origin{App: "browser", Title: "Sign in - Example"}
	own := Origin{App: "stepcapture", Title: "Recorder"}

	var timeline []RawEvent
	at := start
	click := func(x, y int, button Button, origin Origin) {
		timeline = append(timeline,
			MouseClick{X: x, Y: y, Button: button, Pressed: true, Timestamp: at, Origin: origin},
			MouseClick{X: x, Y: y, Button: button, Pressed: false, Timestamp: at.Add(40 * time.Millisecond), Origin: origin},
		)
	}
	typeText := func(text string) {
		for i, r := range text {
			timeline = append(timeline, KeyPress{Key: Key(string(r)), Timestamp: at.Add(time.Duration(i) * 120 * time.Millisecond), Origin: browser})
		}
	}

	click(960, 420, ButtonLeft, browser)
	at = at.Add(step)
	typeText("alice@example.com")
	at = at.Add(step + 3*time.Second)
	timeline = append(timeline, KeyPress{Key: "tab", Timestamp: at, Origin: browser})
	at = at.Add(step)
	typeText("hunter22")
	at = at.Add(step + 2*time.Second)
	timeline = append(timeline, KeyPress{Key: "enter", Timestamp: at, Origin: browser})
	at = at.Add(step)
	click(40, 30, ButtonLeft, own)
	at = at.Add(step)
	click(300, 200, ButtonLeft, browser)
	at = at.Add(180 * time.Millisecond)
	click(302, 201, ButtonLeft, browser)
	at = at.Add(step)
	click(1500, 700, ButtonRight, browser)
	at = at.Add(step)
	timeline = append(timeline, KeyPress{Key: "s", Modifiers: []Modifier{ModCtrl}, Timestamp: at, Origin: browser})
	return timeline
}

func (s syntheticSource) Stream(ctx context.Context, emit func(RawEvent) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, event := range SyntheticTimeline(s.clock().UTC(), s.step) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(event); err != nil {
			return err
		}
	}
	return nil
}
