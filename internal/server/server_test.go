package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/captchad/captchad/internal/model"
	"github.com/captchad/captchad/internal/ocr"
	"github.com/captchad/captchad/internal/service"
	"github.com/captchad/captchad/internal/store"
)

// fakeEngine answers every recognition call with a fixed string.
type fakeEngine struct{}

func (fakeEngine) Classify(context.Context, []byte) (string, error) { return "abcd", nil }
func (fakeEngine) ClassifyRanged(context.Context, []byte, string) (string, error) {
	return "abcd", nil
}
func (fakeEngine) Detect(context.Context, []byte) ([]ocr.Box, error) { return nil, nil }
func (fakeEngine) SlideMatch(context.Context, []byte, []byte) (*ocr.SlideResult, error) {
	return &ocr.SlideResult{}, nil
}
func (fakeEngine) SlideCompare(context.Context, []byte, []byte) (*ocr.SlideResult, error) {
	return &ocr.SlideResult{}, nil
}

type testServer struct {
	srv    *Server
	tokens *service.Tokens
	gate   *service.Gate
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("create in-memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := service.NewLimiter()
	cache := service.NewCache(st, limiter)
	usage := service.NewAccumulator(st, cache, 0, logger)
	gate := service.NewGate(cache, limiter, usage)
	tokens := service.NewTokens(st, cache, limiter, usage)
	sessions := service.NewSessionStore(time.Hour)

	cfg := DefaultConfig()
	cfg.AdminUsername = "admin"
	cfg.AdminPassword = "correct-horse-battery"
	srv := New(cfg, gate, tokens, sessions, fakeEngine{}, logger)
	return &testServer{srv: srv, tokens: tokens, gate: gate}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Token", token)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestOCRRouteRejectsWithoutToken(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.tokens.Create(context.Background(), "", "", nil, nil); err != nil {
		t.Fatalf("create token: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/api/ocr/image", "", map[string]string{"img_base64": "x"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "X-Token") {
		t.Errorf("body should name the missing header: %s", rec.Body.String())
	}
}

func TestOCRRouteRejectsWhenUnconfigured(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/ocr/image", "whatever-token-value-123", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestOCRRouteRejectsInvalidToken(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.tokens.Create(context.Background(), "", "", nil, nil); err != nil {
		t.Fatalf("create token: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/api/ocr/image", "wrong-token-value-12345", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestOCRRouteRateLimits(t *testing.T) {
	ts := newTestServer(t)
	minuteLimit := int64(2)
	tok, err := ts.tokens.Create(context.Background(), "", "limited", &minuteLimit, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	// The first two attempts pass the gate (the bad body fails later with 400).
	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/ocr/image", tok.Value, map[string]string{"img_base64": ""})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d status = %d, want 400", i+1, rec.Code)
		}
	}

	rec := ts.do(t, http.MethodPost, "/api/ocr/image", tok.Value, map[string]string{"img_base64": ""})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var resp model.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Error.Message, "minute") {
		t.Errorf("429 should name the window: %q", resp.Error.Message)
	}
}

func TestAdminAPIRequiresSession(t *testing.T) {
	ts := newTestServer(t)

	guarded := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/admin/token"},
		{http.MethodPut, "/api/admin/token"},
		{http.MethodDelete, "/api/admin/token/1"},
		{http.MethodPost, "/api/admin/token/1/reset_usage"},
		{http.MethodGet, "/api/admin/tokens"},
		{http.MethodGet, "/api/admin/token/1"},
	}
	for _, g := range guarded {
		rec := ts.do(t, g.method, g.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", g.method, g.path, rec.Code)
		}
	}
}

func TestAdminStatusIsPublic(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/token/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status endpoint = %d, want 200", rec.Code)
	}
}

func TestAdminSessionFlow(t *testing.T) {
	ts := newTestServer(t)

	login := ts.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{
		"username": "admin", "password": "correct-horse-battery",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", login.Code, login.Body.String())
	}

	var session *http.Cookie
	for _, c := range login.Result().Cookies() {
		if c.Name == "admin_session" {
			session = c
		}
	}
	if session == nil {
		t.Fatal("expected admin_session cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/tokens", nil)
	req.AddCookie(session)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("guarded route with session = %d, want 200", rec.Code)
	}
}

func TestAdminPageRedirectsWithoutSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin", "", nil)
	if rec.Code != http.StatusSeeOther && rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want redirect", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/admin/login" {
		t.Errorf("location = %q, want /admin/login", loc)
	}
}

func TestAdminLoginPageServed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin/login", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
}

func TestUsageRecordedOnlyForAdmitted(t *testing.T) {
	ts := newTestServer(t)
	minuteLimit := int64(1)
	tok, err := ts.tokens.Create(context.Background(), "", "svc", &minuteLimit, nil)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	ts.do(t, http.MethodPost, "/api/ocr/image", tok.Value, map[string]string{"img_base64": ""})
	ts.do(t, http.MethodPost, "/api/ocr/image", tok.Value, map[string]string{"img_base64": ""})

	list := ts.tokens.List()
	if len(list) != 1 {
		t.Fatalf("tokens = %d, want 1", len(list))
	}
	// One admitted, one rejected by the limiter.
	if list[0].UsageCount != 1 {
		t.Errorf("usage = %d, want 1", list[0].UsageCount)
	}
}
