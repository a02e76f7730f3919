package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope type tags used by the JSON codec.
const (
	TypeClick = "click"
	TypeKey   = "key"
)

type envelope struct {
	Type      string     `json:"type"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
	OffsetMS  *int64     `json:"offset_ms,omitempty"`
	X         int        `json:"x,omitempty"`
	Y         int        `json:"y,omitempty"`
	Button    Button     `json:"button,omitempty"`
	Pressed   *bool      `json:"pressed,omitempty"`
	Key       Key        `json:"key,omitempty"`
	Modifiers []Modifier `json:"modifiers,omitempty"`
	App       string     `json:"app,omitempty"`
	Title     string     `json:"title,omitempty"`
}

// Encode renders a raw event as a tagged JSON object.
func Encode(ev RawEvent) ([]byte, error) {
	env, err := toEnvelope(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses a tagged JSON object produced by Encode. Clicks without an
// explicit "pressed" field are treated as presses.
func Decode(data []byte) (RawEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return env.event(env.Timestamp)
}

func toEnvelope(ev RawEvent) (envelope, error) {
	switch e := ev.(type) {
	case MouseClick:
		pressed := e.Pressed
		return envelope{
			Type:      TypeClick,
			Timestamp: e.Timestamp.UTC(),
			X:         e.X,
			Y:         e.Y,
			Button:    e.Button,
			Pressed:   &pressed,
			App:       e.Origin.App,
			Title:     e.Origin.Title,
		}, nil
	case KeyPress:
		return envelope{
			Type:      TypeKey,
			Timestamp: e.Timestamp.UTC(),
			Key:       e.Key,
			Modifiers: e.Modifiers,
			App:       e.Origin.App,
			Title:     e.Origin.Title,
		}, nil
	default:
		return envelope{}, fmt.Errorf("%w: %T", ErrUnknownEventType, ev)
	}
}

func (env envelope) event(ts time.Time) (RawEvent, error) {
	origin := Origin{App: env.App, Title: env.Title}
	switch env.Type {
	case TypeClick:
		button := env.Button
		if button == "" {
			button = ButtonLeft
		}
		pressed := true
		if env.Pressed != nil {
			pressed = *env.Pressed
		}
		return MouseClick{X: env.X, Y: env.Y, Button: button, Pressed: pressed, Timestamp: ts, Origin: origin}, nil
	case TypeKey:
		if env.Key == "" {
			return nil, fmt.Errorf("%w: key event without key", ErrMalformedEvent)
		}
		return KeyPress{Key: env.Key, Modifiers: env.Modifiers, Timestamp: ts, Origin: origin}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}
