package events

import "strings"

// OwnWindow recognises events aimed at the recorder's own UI so the recorder
// does not document clicks on its own controls.
// The zero value matches nothing.
type OwnWindow struct {
	apps   map[string]struct{}
	titles []string
}

// NewOwnWindow builds a predicate from application names (exact, case
// insensitive) and window title fragments (substring, case insensitive).
func NewOwnWindow(apps, titles []string) OwnWindow {
	own := OwnWindow{
		apps:   make(map[string]struct{}, len(apps)),
		titles: make([]string, 0, len(titles)),
	}
	for _, app := range apps {
		trimmed := strings.TrimSpace(app)
		if trimmed == "" {
			continue
		}
		own.apps[strings.ToLower(trimmed)] = struct{}{}
	}
	for _, title := range titles {
		trimmed := strings.TrimSpace(title)
		if trimmed == "" {
			continue
		}
		own.titles = append(own.titles, strings.ToLower(trimmed))
	}
	return own
}

// Matches reports whether the event targets one of the recorder's windows.
func (o OwnWindow) Matches(ev RawEvent) bool {
	if ev == nil {
		return false
	}
	origin := ev.Target()
	if app := strings.ToLower(strings.TrimSpace(origin.App)); app != "" {
		if _, ok := o.apps[app]; ok {
			return true
		}
	}
	title := strings.ToLower(origin.Title)
	if title == "" {
		return false
	}
	for _, fragment := range o.titles {
		if strings.Contains(title, fragment) {
			return true
		}
	}
	return false
}
