// Package storage persists finished tutorials: a per-session directory with
// a manifest, the ordered steps, the raw event log and referenced
// screenshots, plus a SQLite index used for listing.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/screenshots"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// FrameSource exposes the screenshots referenced by a session's steps.
type FrameSource interface {
	Frames() []screenshots.Frame
}

// Store accepts a finished session. Session and step ids are final.
type Store interface {
	Save(ctx context.Context, session tutorial.Session, frames FrameSource) error
}

// EventLog appends consumed raw events with their disposition.
type EventLog interface {
	Record(ev events.RawEvent, disposition string) error
	io.Closer
}

// EventLogOpener is implemented by stores that keep a raw event log.
type EventLogOpener interface {
	OpenEventLog(session tutorial.Session) (EventLog, error)
}

type multi []Store

// Multi fans a save out to every store and joins their errors. The first
// store implementing EventLogOpener provides the event log.
func Multi(stores ...Store) Store {
	out := make(multi, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Save(ctx context.Context, session tutorial.Session, frames FrameSource) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, session, frames); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) OpenEventLog(session tutorial.Session) (EventLog, error) {
	for _, s := range m {
		if opener, ok := s.(EventLogOpener); ok {
			return opener.OpenEventLog(session)
		}
	}
	return nil, nil
}

// NoFrames is a FrameSource with no screenshots.
type NoFrames struct{}

// Frames returns nil.
func (NoFrames) Frames() []screenshots.Frame { return nil }
