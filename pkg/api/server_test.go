package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/feed"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/screenshots"
	"github.com/offlinefirst/stepcapture/pkg/session"
	"github.com/offlinefirst/stepcapture/pkg/storage"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

type fakeIndex struct {
	list []storage.Summary
	err  error
}

func (f fakeIndex) List(context.Context) ([]storage.Summary, error) { return f.list, f.err }

func newTestServer(t *testing.T, perMinute int, index Index) (*httptest.Server, *session.Manager) {
	t.Helper()
	manager, err := session.New(session.Options{Monitors: screenshots.DefaultMonitors()})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	srv, err := NewServer(Options{Controller: manager, Index: index, RequestsPerMinute: perMinute})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, manager
}

func post(t *testing.T, url, body string) (*http.Response, SessionResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out SessionResponse
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp, out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, 600, nil)

	resp, created := post(t, ts.URL+"/v1/session", `{"title":"Login flow"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if created.Session.State != lifecycle.Recording || created.Session.Title != "Login flow" {
		t.Fatalf("unexpected session %+v", created.Session)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header")
	}

	if resp, _ := post(t, ts.URL+"/v1/session", `{"title":"Again"}`); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for second session, got %d", resp.StatusCode)
	}
	if resp, _ := post(t, ts.URL+"/v1/session/resume", ``); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for invalid resume, got %d", resp.StatusCode)
	}
	if resp, paused := post(t, ts.URL+"/v1/session/pause", ``); resp.StatusCode != http.StatusOK || paused.Session.State != lifecycle.Paused {
		t.Fatalf("pause failed: %d %+v", resp.StatusCode, paused.Session)
	}
	if resp, resumed := post(t, ts.URL+"/v1/session/resume", ``); resp.StatusCode != http.StatusOK || resumed.Session.State != lifecycle.Recording {
		t.Fatalf("resume failed: %d %+v", resp.StatusCode, resumed.Session)
	}

	statusResp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st session.Status
	json.NewDecoder(statusResp.Body).Decode(&st)
	statusResp.Body.Close()
	if st.State != lifecycle.Recording || st.SessionID != created.Session.ID {
		t.Fatalf("unexpected status %+v", st)
	}

	resp, stopped := post(t, ts.URL+"/v1/session/stop", ``)
	if resp.StatusCode != http.StatusOK || stopped.Session.State != lifecycle.Stopped {
		t.Fatalf("stop failed: %d %+v", resp.StatusCode, stopped.Session)
	}
	if stopped.Metadata.Status != string(lifecycle.Stopped) || stopped.Metadata.Title != "Login flow" {
		t.Fatalf("unexpected metadata %+v", stopped.Metadata)
	}
	if resp, _ := post(t, ts.URL+"/v1/session/pause", ``); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after stop, got %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	ts, _ := newTestServer(t, 600, nil)

	if resp, _ := post(t, ts.URL+"/v1/session/stop", ``); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without a session, got %d", resp.StatusCode)
	}
	if resp, _ := post(t, ts.URL+"/v1/session", `{"title":`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", resp.StatusCode)
	}
	if resp, _ := post(t, ts.URL+"/v1/session", `{"title":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty title, got %d", resp.StatusCode)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	ts, _ := newTestServer(t, 1, nil)

	if resp, _ := post(t, ts.URL+"/v1/session/pause", ``); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("first request should pass the limiter, got %d", resp.StatusCode)
	}
	resp, _ := post(t, ts.URL+"/v1/session/pause", ``)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining header")
	}

	statusResp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		t.Fatalf("status should not be rate limited, got %d", statusResp.StatusCode)
	}
}

func TestListTutorials(t *testing.T) {
	started := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)
	ts, _ := newTestServer(t, 600, fakeIndex{list: []storage.Summary{{ID: "a", Title: "Login flow", StartedAt: started, StepCount: 3}}})

	resp, err := http.Get(ts.URL + "/v1/tutorials")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var list []storage.Summary
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Login flow" || list[0].StepCount != 3 {
		t.Fatalf("unexpected listing %+v", list)
	}

	broken, _ := newTestServer(t, 600, fakeIndex{err: errors.New("locked")})
	resp, err = http.Get(broken.URL + "/v1/tutorials")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	empty, _ := newTestServer(t, 600, nil)
	resp, err = http.Get(empty.URL + "/v1/tutorials")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	resp.Body.Close()
	if strings.TrimSpace(body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", body.String())
	}
}

func TestStepFeedOverWebsocket(t *testing.T) {
	ts, manager := newTestServer(t, 600, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/steps/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello feed.Notification
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Kind != feed.KindState || hello.State != lifecycle.Idle {
		t.Fatalf("unexpected hello %+v", hello)
	}

	if resp, _ := post(t, ts.URL+"/v1/session", `{"title":"Feed"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	var started feed.Notification
	if err := conn.ReadJSON(&started); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if started.Kind != feed.KindState || started.State != lifecycle.Recording || started.Title != "Feed" {
		t.Fatalf("unexpected notification %+v", started)
	}
	if _, err := manager.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(Options{RequestsPerMinute: 10}); err == nil {
		t.Fatalf("expected error without controller")
	}
	manager, _ := session.New(session.Options{Monitors: screenshots.DefaultMonitors()})
	if _, err := NewServer(Options{Controller: manager}); err == nil {
		t.Fatalf("expected error without rate")
	}
}

type frameList []screenshots.Frame

func (f frameList) Frames() []screenshots.Frame { return f }

const savedID = "3f0c7c1e-0000-4000-8000-000000000001"

func newLibrary(t *testing.T) *storage.Library {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	files, err := storage.NewFileStore(storage.FileOptions{Dir: filepath.Join(dir, "tutorials")})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	index, err := storage.OpenIndex(ctx, filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	started := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)
	ended := started.Add(time.Minute)
	saved := tutorial.Session{
		ID:        savedID,
		Title:     "Login flow",
		State:     lifecycle.Stopped,
		StartedAt: started,
		EndedAt:   &ended,
		Monitors:  []coords.Monitor{{ID: 1, Width: 1920, Height: 1080, Primary: true}},
		Steps: []tutorial.Step{
			{
				ID: 1, Type: tutorial.StepClick, Timestamp: started.Add(time.Second),
				Coordinates: &coords.Info{MonitorID: 1, PercentX: 50, PercentY: 50},
				Screenshot:  "frame-a",
				Description: `Click on "Save"`,
			},
			{ID: 2, Type: tutorial.StepTextEntry, Timestamp: started.Add(2 * time.Second), Description: `Type "hi"`},
			{ID: 3, Type: tutorial.StepSpecialKey, Timestamp: started.Add(3 * time.Second), Description: "Press Enter"},
		},
	}
	frames := frameList{{Ref: screenshots.Ref{ID: "frame-a", MonitorID: 1}, Image: image.NewGray(image.Rect(0, 0, 4, 4))}}
	if err := storage.Multi(files, index).Save(ctx, saved, frames); err != nil {
		t.Fatalf("save: %v", err)
	}
	library, err := storage.NewLibrary(files, index)
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	return library
}

func newLibraryServer(t *testing.T, library Library) (*httptest.Server, *session.Manager) {
	t.Helper()
	manager, err := session.New(session.Options{Monitors: screenshots.DefaultMonitors()})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	srv, err := NewServer(Options{Controller: manager, Library: library, RequestsPerMinute: 600})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, manager
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	return resp, body.String()
}

func del(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete %s: %v", url, err)
	}
	resp.Body.Close()
	return resp
}

func TestExportTutorial(t *testing.T) {
	ts, _ := newLibraryServer(t, newLibrary(t))
	base := ts.URL + "/v1/tutorials/" + savedID

	resp, body := get(t, base+"/export")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "login-flow.md") {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}
	for _, want := range []string{"# Login flow", "## Step 3", "(/v1/tutorials/" + savedID + "/screenshots/frame-a.png)", "> Clicked at (960, 540)"} {
		if !strings.Contains(body, want) {
			t.Fatalf("export missing %q:\n%s", want, body)
		}
	}

	resp, body = get(t, base+"/export?format=html")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected html export %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, `style="left: 50.00%; top: 50.00%"`) {
		t.Fatalf("expected click marker:\n%s", body)
	}

	resp, _ = get(t, base+"/screenshots/frame-a.png")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected screenshot response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if resp, _ := get(t, base+"/screenshots/frame-b.png"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown screenshot, got %d", resp.StatusCode)
	}
	if resp, _ := get(t, base+"/export?format=docx"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", resp.StatusCode)
	}
	if resp, _ := get(t, ts.URL+"/v1/tutorials/missing/export"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tutorial, got %d", resp.StatusCode)
	}
}

func TestDeleteTutorialAndStep(t *testing.T) {
	library := newLibrary(t)
	ts, manager := newLibraryServer(t, library)
	base := ts.URL + "/v1/tutorials/" + savedID

	resp := del(t, base+"/steps/2")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Fatalf("expected DELETE in CORS methods")
	}
	loaded, err := library.Load(savedID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Steps) != 2 || loaded.Steps[0].ID != 1 || loaded.Steps[1].ID != 3 {
		t.Fatalf("remaining steps should keep their ids, got %+v", loaded.Steps)
	}
	if resp := del(t, base+"/steps/2"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted step, got %d", resp.StatusCode)
	}

	active, err := manager.StartNew(context.Background(), "Live")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp := del(t, ts.URL+"/v1/tutorials/"+active.ID); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for active session, got %d", resp.StatusCode)
	}
	if _, err := manager.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if resp := del(t, base); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp := del(t, base); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	if resp, _ := get(t, base+"/export"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 exporting a deleted tutorial, got %d", resp.StatusCode)
	}
}

func TestLibraryRoutesWithoutLibrary(t *testing.T) {
	ts, _ := newTestServer(t, 600, nil)
	if resp, _ := get(t, ts.URL+"/v1/tutorials/x/export"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp := del(t, ts.URL+"/v1/tutorials/x"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
