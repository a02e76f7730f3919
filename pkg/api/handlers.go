package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/offlinefirst/stepcapture/pkg/export"
	"github.com/offlinefirst/stepcapture/pkg/feed"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/session"
	"github.com/offlinefirst/stepcapture/pkg/storage"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// CreateSessionRequest is the body of POST /v1/session.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// SessionResponse wraps a session returned by lifecycle endpoints.
type SessionResponse struct {
	Session  tutorial.Session  `json:"session"`
	Metadata tutorial.Metadata `json:"metadata"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "title is required"})
		return
	}
	started, err := s.controller.StartNew(r.Context(), title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(started))
}

func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK)(s.controller.Pause())
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK)(s.controller.Resume())
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK)(s.controller.Stop(r.Context()))
}

func (s *Server) respond(w http.ResponseWriter, status int) func(tutorial.Session, error) {
	return func(sess tutorial.Session, err error) {
		if err != nil && sess.ID == "" {
			s.writeError(w, err)
			return
		}
		if err != nil {
			// The lifecycle call succeeded but persistence did not.
			s.logger.Error("session persisted with errors", "session_id", sess.ID, "error", err)
		}
		writeJSON(w, status, sessionResponse(sess))
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) listTutorials(w http.ResponseWriter, r *http.Request) {
	list := []storage.Summary{}
	if s.index != nil {
		found, err := s.index.List(r.Context())
		if err != nil {
			s.logger.Error("list tutorials failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list tutorials failed"})
			return
		}
		if found != nil {
			list = found
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) exportTutorial(w http.ResponseWriter, r *http.Request) {
	if !s.libraryAvailable(w) {
		return
	}
	id := mux.Vars(r)["id"]
	format := export.Markdown
	if name := r.URL.Query().Get("format"); name != "" {
		parsed, err := export.ParseFormat(name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		format = parsed
	}
	t, err := s.library.Load(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	opts := export.Options{ImageBase: "/v1/tutorials/" + url.PathEscape(id) + "/screenshots/"}
	if err := export.Render(&buf, t, format, opts); err != nil {
		s.writeError(w, fmt.Errorf("export %s: %w", id, err))
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", export.Filename(t.Manifest, format)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	if !s.libraryAvailable(w) {
		return
	}
	vars := mux.Vars(r)
	path, err := s.library.Screenshot(vars["id"], vars["ref"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func (s *Server) deleteTutorial(w http.ResponseWriter, r *http.Request) {
	if !s.libraryAvailable(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if !s.inactive(w, id) {
		return
	}
	if err := s.library.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("tutorial deleted over api", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteStep(w http.ResponseWriter, r *http.Request) {
	if !s.libraryAvailable(w) {
		return
	}
	vars := mux.Vars(r)
	id := vars["id"]
	stepID, err := strconv.ParseInt(vars["step"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid step id"})
		return
	}
	if !s.inactive(w, id) {
		return
	}
	if err := s.library.DeleteStep(r.Context(), id, stepID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) libraryAvailable(w http.ResponseWriter) bool {
	if s.library == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "tutorial library unavailable"})
		return false
	}
	return true
}

// inactive refuses edits to the session that is still recording.
func (s *Server) inactive(w http.ResponseWriter, id string) bool {
	if st := s.controller.Status(); st.SessionID == id && lifecycle.Active(st.State) {
		s.writeError(w, &session.ConflictError{ActiveID: id, State: st.State})
		return false
	}
	return true
}

// streamSteps upgrades to a websocket and forwards feed notifications until
// the client goes away. The first message is a state notification carrying
// the current status.
func (s *Server) streamSteps(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	notes, cancel := s.controller.Subscribe(feed.DefaultBuffer)
	defer cancel()

	st := s.controller.Status()
	hello := feed.Notification{
		Kind:      feed.KindState,
		SessionID: st.SessionID,
		Title:     st.Title,
		State:     st.State,
		StepCount: st.StepCount,
		At:        time.Now().UTC(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(n); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket write failed", "error", err)
				}
				return
			}
		}
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.perMinute))
		if !s.limiter.Allow() {
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(s.limiter.Tokens())))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrConflict), errors.Is(err, lifecycle.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoSession), errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrStepNotFound):
		status = http.StatusNotFound
	default:
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func sessionResponse(sess tutorial.Session) SessionResponse {
	if sess.Steps == nil {
		sess.Steps = []tutorial.Step{}
	}
	return SessionResponse{Session: sess, Metadata: sess.Metadata()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
