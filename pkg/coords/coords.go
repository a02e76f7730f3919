// Package coords converts between global virtual-desktop pixels and
// monitor-relative, resolution-independent percentages.
//
// All functions are pure: given the same monitor set they always produce the
// same result, which is what allows persisted percentages to be reproduced
// from the raw click and the monitors captured at session start.
package coords

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNoMonitors is returned when a transform is requested against an empty monitor set.
	ErrNoMonitors = errors.New("no monitors available")
	// ErrUnknownMonitor is returned when a monitor id is not part of the set.
	ErrUnknownMonitor = errors.New("unknown monitor")
	// ErrInvalidMonitor reports malformed monitor geometry.
	ErrInvalidMonitor = errors.New("invalid monitor geometry")
)

// Monitor describes one display in global virtual-desktop space.
type Monitor struct {
	ID      int     `json:"id"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Left    int     `json:"left"`
	Top     int     `json:"top"`
	Primary bool    `json:"primary,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
}

// Contains reports whether the global point lies in [left, left+width) x [top, top+height).
func (m Monitor) Contains(x, y int) bool {
	return x >= m.Left && x < m.Left+m.Width && y >= m.Top && y < m.Top+m.Height
}

func (m Monitor) distance(x, y int) float64 {
	dx := 0
	switch {
	case x < m.Left:
		dx = m.Left - x
	case x >= m.Left+m.Width:
		dx = x - (m.Left + m.Width - 1)
	}
	dy := 0
	switch {
	case y < m.Top:
		dy = m.Top - y
	case y >= m.Top+m.Height:
		dy = y - (m.Top + m.Height - 1)
	}
	return math.Hypot(float64(dx), float64(dy))
}

// Info is the monitor-relative and percentage representation of a point.
type Info struct {
	MonitorID    int     `json:"monitor_id"`
	RelativeX    int     `json:"monitor_relative_x"`
	RelativeY    int     `json:"monitor_relative_y"`
	PercentX     float64 `json:"percent_x"`
	PercentY     float64 `json:"percent_y"`
	ScreenWidth  int     `json:"screen_width"`
	ScreenHeight int     `json:"screen_height"`
	Clamped      bool    `json:"clamped,omitempty"`
}

// ValidateMonitors rejects empty sets, non-positive sizes and duplicate ids.
func ValidateMonitors(monitors []Monitor) error {
	if len(monitors) == 0 {
		return ErrNoMonitors
	}
	seen := make(map[int]struct{}, len(monitors))
	for _, m := range monitors {
		if m.Width <= 0 || m.Height <= 0 {
			return fmt.Errorf("%w: monitor %d has size %dx%d", ErrInvalidMonitor, m.ID, m.Width, m.Height)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: duplicate monitor id %d", ErrInvalidMonitor, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

// Locate maps a global point onto the monitor containing it. Overlapping
// monitors resolve to the smallest id. A point outside every monitor is
// clamped onto the nearest one and the result is flagged.
func Locate(x, y int, monitors []Monitor) (Info, error) {
	if len(monitors) == 0 {
		return Info{}, ErrNoMonitors
	}
	ordered := byID(monitors)

	for _, m := range ordered {
		if m.Contains(x, y) {
			return infoFor(m, x-m.Left, y-m.Top, false), nil
		}
	}

	nearest := ordered[0]
	best := nearest.distance(x, y)
	for _, m := range ordered[1:] {
		if d := m.distance(x, y); d < best {
			nearest, best = m, d
		}
	}
	relX := clamp(x-nearest.Left, 0, nearest.Width-1)
	relY := clamp(y-nearest.Top, 0, nearest.Height-1)
	return infoFor(nearest, relX, relY, true), nil
}

// ToGlobal converts percentages on the given monitor back into global pixels.
func ToGlobal(monitorID int, percentX, percentY float64, monitors []Monitor) (int, int, error) {
	m, err := Find(monitors, monitorID)
	if err != nil {
		return 0, 0, err
	}
	relX := int(math.Round(percentX / 100 * float64(m.Width)))
	relY := int(math.Round(percentY / 100 * float64(m.Height)))
	return m.Left + relX, m.Top + relY, nil
}

// Global returns the global pixel for the info on its own monitor geometry.
func (i Info) Global(monitors []Monitor) (int, int, error) {
	return ToGlobal(i.MonitorID, i.PercentX, i.PercentY, monitors)
}

// Find returns the monitor with the given id.
func Find(monitors []Monitor, id int) (Monitor, error) {
	for _, m := range monitors {
		if m.ID == id {
			return m, nil
		}
	}
	return Monitor{}, fmt.Errorf("%w: %d", ErrUnknownMonitor, id)
}

// Primary returns the monitor flagged primary, else the one with the smallest id.
func Primary(monitors []Monitor) (Monitor, error) {
	if len(monitors) == 0 {
		return Monitor{}, ErrNoMonitors
	}
	ordered := byID(monitors)
	for _, m := range ordered {
		if m.Primary {
			return m, nil
		}
	}
	return ordered[0], nil
}

func infoFor(m Monitor, relX, relY int, clamped bool) Info {
	return Info{
		MonitorID:    m.ID,
		RelativeX:    relX,
		RelativeY:    relY,
		PercentX:     float64(relX) / float64(m.Width) * 100,
		PercentY:     float64(relY) / float64(m.Height) * 100,
		ScreenWidth:  m.Width,
		ScreenHeight: m.Height,
		Clamped:      clamped,
	}
}

func byID(monitors []Monitor) []Monitor {
	ordered := append([]Monitor(nil), monitors...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return ordered
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
