package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"emocall/internal/domain"
)

type fakeSession struct{}

func (fakeSession) Status() domain.Status {
	return domain.Status{State: domain.SessionStateRecording, Active: true, SessionID: "s1", StartedAt: 1000}
}

func (fakeSession) Timeline() []domain.TimelinePoint {
	return []domain.TimelinePoint{{Timestamp: 1, Emotion: "happy", Confidence: 0.9}}
}

func (fakeSession) CurrentEmotion() *domain.EmotionEvent {
	return &domain.EmotionEvent{Emotion: "happy", Confidence: 0.9, Timestamp: 1}
}

type fakeExporter struct {
	user, format string
	err          error
}

func (f *fakeExporter) Export(_ context.Context, userID, format string) (string, error) {
	f.user, f.format = userID, format
	return "Call ID\nrow", f.err
}

type fakeIdentity struct{ user *domain.User }

func (f fakeIdentity) CurrentUser() *domain.User { return f.user }

func serve(t *testing.T, r http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Session: fakeSession{}}, nil)

	w := serve(t, r, "/healthz")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	w = serve(t, r, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics response: %d", w.Code)
	}
}

func TestSessionAndTimeline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Session: fakeSession{}}, nil)

	var session struct {
		Status  domain.Status        `json:"status"`
		Current *domain.EmotionEvent `json:"current"`
	}
	w := serve(t, r, "/api/session")
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Status.State != domain.SessionStateRecording || session.Current.Emotion != "happy" {
		t.Fatalf("unexpected session: %+v", session)
	}

	var timeline struct {
		Timeline []domain.TimelinePoint `json:"timeline"`
	}
	w = serve(t, r, "/api/timeline")
	if err := json.Unmarshal(w.Body.Bytes(), &timeline); err != nil || len(timeline.Timeline) != 1 {
		t.Fatalf("unexpected timeline: %s %v", w.Body.String(), err)
	}
}

func TestExportEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	exporter := &fakeExporter{}
	r := NewRouter(Deps{Session: fakeSession{}, Exporter: exporter, Identity: fakeIdentity{user: &domain.User{UID: "me"}}}, nil)

	w := serve(t, r, "/api/calls/export")
	if w.Code != http.StatusOK || exporter.user != "me" || exporter.format != "csv" {
		t.Fatalf("unexpected export: %d user=%q format=%q", w.Code, exporter.user, exporter.format)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv") ||
		!strings.Contains(w.Header().Get("Content-Disposition"), "calls-export.csv") {
		t.Fatalf("unexpected headers: %+v", w.Header())
	}

	w = serve(t, r, "/api/calls/export?format=JSON&user=other")
	if w.Code != http.StatusOK || exporter.user != "other" || exporter.format != "json" {
		t.Fatalf("unexpected json export: %d %q %q", w.Code, exporter.user, exporter.format)
	}

	if w = serve(t, r, "/api/calls/export?format=xml"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	exporter.err = errors.New("db down")
	if w = serve(t, r, "/api/calls/export"); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	anon := NewRouter(Deps{Session: fakeSession{}, Exporter: exporter, Identity: fakeIdentity{}}, nil)
	if w = serve(t, anon, "/api/calls/export"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	bare := NewRouter(Deps{Session: fakeSession{}}, nil)
	if w = serve(t, bare, "/api/calls/export"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestListenLoopbackOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)

	if _, err := Listen("0.0.0.0:0", http.NotFoundHandler(), nil); err == nil {
		t.Fatalf("expected non-loopback address to be rejected")
	}
	if _, err := Listen("nonsense", http.NotFoundHandler(), nil); err == nil {
		t.Fatalf("expected malformed address to be rejected")
	}

	srv, err := Listen("127.0.0.1:0", NewRouter(Deps{Session: fakeSession{}}, nil), nil)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
