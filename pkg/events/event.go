package events

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// RawEvent is a captured input event. The set of implementations is closed:
// MouseClick and KeyPress.
type RawEvent interface {
	Time() time.Time
	Target() Origin
	isRawEvent()
}

// Origin describes the window that received an event.
type Origin struct {
	App   string `json:"app,omitempty"`
	Title string `json:"title,omitempty"`
}

// Button identifies a mouse button.
type Button string

// Mouse buttons.
const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// MouseClick is a button press or release at a global virtual-desktop point.
type MouseClick struct {
	X         int
	Y         int
	Button    Button
	Pressed   bool
	Timestamp time.Time
	Origin    Origin
}

// Time returns the capture timestamp.
func (c MouseClick) Time() time.Time { return c.Timestamp }

// Target returns the window the click landed on.
func (c MouseClick) Target() Origin { return c.Origin }

func (MouseClick) isRawEvent() {}

// KeyPress is a single key press with the modifiers held at the time.
type KeyPress struct {
	Key       Key
	Modifiers []Modifier
	Timestamp time.Time
	Origin    Origin
}

// Time returns the capture timestamp.
func (k KeyPress) Time() time.Time { return k.Timestamp }

// Target returns the focused window.
func (k KeyPress) Target() Origin { return k.Origin }

func (KeyPress) isRawEvent() {}

// Shortcut reports whether a command modifier turns the press into a shortcut.
func (k KeyPress) Shortcut() bool {
	for _, m := range k.Modifiers {
		if m.command() {
			return true
		}
	}
	return false
}

// Label renders the press for step descriptions, e.g. "Enter" or "Ctrl+C".
func (k KeyPress) Label() string {
	if !k.Shortcut() {
		return k.Key.Label()
	}
	parts := make([]string, 0, len(k.Modifiers)+1)
	for _, m := range k.Modifiers {
		parts = append(parts, m.Label())
	}
	parts = append(parts, k.Key.Label())
	return strings.Join(parts, "+")
}

// Modifier is a held modifier key.
type Modifier string

// Modifier keys.
const (
	ModShift Modifier = "shift"
	ModCtrl  Modifier = "ctrl"
	ModAlt   Modifier = "alt"
	ModCmd   Modifier = "cmd"
)

func (m Modifier) command() bool {
	switch normalizeName(string(m)) {
	case "ctrl", "control", "alt", "option", "cmd", "command", "meta", "super", "win":
		return true
	}
	return false
}

// Label renders the modifier name.
func (m Modifier) Label() string {
	switch n := normalizeName(string(m)); n {
	case "ctrl", "control":
		return "Ctrl"
	case "cmd", "command", "meta", "super", "win":
		return "Cmd"
	case "alt", "option":
		return "Alt"
	default:
		return titleCase(n)
	}
}

// Key is a key name: either a single printable character or a named key such as "enter".
type Key string

var specialKeys = map[string]string{
	"enter":  "Enter",
	"return": "Enter",
	"tab":    "Tab",
	"escape": "Escape",
	"esc":    "Escape",
	"up":     "Up",
	"down":   "Down",
	"left":   "Left",
	"right":  "Right",
}

var modifierKeys = map[string]struct{}{
	"shift": {}, "ctrl": {}, "control": {}, "alt": {}, "option": {},
	"cmd": {}, "command": {}, "meta": {}, "super": {}, "capslock": {},
}

// IsSpecial reports keys that always form their own step.
func (k Key) IsSpecial() bool {
	_, ok := specialKeys[normalizeName(string(k))]
	return ok
}

// IsBackspace reports the delete-previous-character key.
func (k Key) IsBackspace() bool {
	return normalizeName(string(k)) == "backspace"
}

// IsModifier reports presses of a bare modifier key.
func (k Key) IsModifier() bool {
	_, ok := modifierKeys[normalizeName(string(k))]
	return ok
}

// Printable returns the character typed by the key, if any.
func (k Key) Printable() (rune, bool) {
	s := string(k)
	if normalizeName(s) == "space" {
		return ' ', true
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsPrint(r) {
		return 0, false
	}
	return r, true
}

// Label renders the key name for descriptions.
func (k Key) Label() string {
	name := normalizeName(string(k))
	if label, ok := specialKeys[name]; ok {
		return label
	}
	if r, ok := k.Printable(); ok && r != ' ' {
		return strings.ToUpper(string(r))
	}
	return titleCase(name)
}

func normalizeName(s string) string {
	if utf8.RuneCountInString(s) == 1 {
		return s
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
