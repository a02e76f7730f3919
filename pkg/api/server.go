// Package api exposes the session manager over a small local HTTP API and
// streams produced steps to websocket clients.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/offlinefirst/stepcapture/pkg/feed"
	"github.com/offlinefirst/stepcapture/pkg/session"
	"github.com/offlinefirst/stepcapture/pkg/storage"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

// Controller is the lifecycle surface served by the API.
type Controller interface {
	StartNew(ctx context.Context, title string) (tutorial.Session, error)
	Pause() (tutorial.Session, error)
	Resume() (tutorial.Session, error)
	Stop(ctx context.Context) (tutorial.Session, error)
	Status() session.Status
	Subscribe(buffer int) (<-chan feed.Notification, func())
}

// Index lists saved tutorials.
type Index interface {
	List(ctx context.Context) ([]storage.Summary, error)
}

// Library reads and deletes saved tutorials.
type Library interface {
	Load(id string) (storage.Tutorial, error)
	Screenshot(id, ref string) (string, error)
	Delete(ctx context.Context, id string) error
	DeleteStep(ctx context.Context, id string, stepID int64) error
}

// Options configure a Server.
type Options struct {
	Controller Controller
	// Index may be nil; /v1/tutorials then returns an empty list.
	Index Index
	// Library may be nil; export and delete routes then answer 503.
	Library           Library
	RequestsPerMinute int
	Logger            *slog.Logger
}

// Server routes HTTP requests to the controller.
type Server struct {
	controller Controller
	index      Index
	library    Library
	limiter    *rate.Limiter
	perMinute  int
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer validates options and returns a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("controller is required")
	}
	if opts.RequestsPerMinute <= 0 {
		return nil, errors.New("requests per minute must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	burst := opts.RequestsPerMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &Server{
		controller: opts.Controller,
		index:      opts.Index,
		library:    opts.Library,
		limiter:    rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), burst),
		perMinute:  opts.RequestsPerMinute,
		logger:     logger,
		upgrader: websocket.Upgrader{
			// Clients are local tools and browser extensions on loopback.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Routes builds the router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	control := v1.PathPrefix("").Subrouter()
	control.Use(s.rateLimit)
	control.HandleFunc("/session", s.createSession).Methods(http.MethodPost)
	control.HandleFunc("/session/pause", s.pauseSession).Methods(http.MethodPost)
	control.HandleFunc("/session/resume", s.resumeSession).Methods(http.MethodPost)
	control.HandleFunc("/session/stop", s.stopSession).Methods(http.MethodPost)
	control.HandleFunc("/tutorials/{id}", s.deleteTutorial).Methods(http.MethodDelete)
	control.HandleFunc("/tutorials/{id}/steps/{step:[0-9]+}", s.deleteStep).Methods(http.MethodDelete)

	v1.HandleFunc("/status", s.status).Methods(http.MethodGet)
	v1.HandleFunc("/tutorials", s.listTutorials).Methods(http.MethodGet)
	v1.HandleFunc("/tutorials/{id}/export", s.exportTutorial).Methods(http.MethodGet)
	v1.HandleFunc("/tutorials/{id}/screenshots/{ref:[A-Za-z0-9_-]+}.png", s.screenshot).Methods(http.MethodGet)
	v1.HandleFunc("/steps/ws", s.streamSteps).Methods(http.MethodGet)

	r.Use(corsMiddleware)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
