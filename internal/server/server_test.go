package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reelhouse/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			CORSOrigins: []string{"http://localhost:3000"},
			RedirectURL: "/",
		},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "data", "test.db")},
		Auth: config.AuthConfig{
			JWTSecret: "server-test-secret-0123456789abcdef",
			TokenTTL:  time.Hour,
		},
		Logging:   config.LoggingConfig{Level: "info", Format: "text"},
		Activity:  config.ActivityConfig{Timezone: "UTC"},
		RateLimit: config.RateLimitConfig{Requests: 100, Window: time.Minute},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.db.Close() })
	return s
}

func serve(h http.Handler, method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	api := s.Handler()

	rec := serve(api, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(api, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reelhouse_http_requests_total")

	rec = serve(api, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(api, http.MethodPost, "/auth/signup", `{"email":"ada@example.com","password":"correct horse"}`,
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusCreated, rec.Code)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"ada"`)

	rec = serve(api, http.MethodGet, "/auth/github/login", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "GitHub routes are off without credentials")
}

func TestRoutes_DeletedAccountLosesBothListeners(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := serve(s.Handler(), http.MethodPost, "/auth/signup", `{"email":"leaver@example.com","password":"correct horse"}`,
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusCreated, rec.Code)
	cookie := rec.Result().Cookies()[0]

	send := func(h http.Handler, method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, send(s.Handler(), http.MethodDelete, "/api/me"))
	assert.Equal(t, http.StatusUnauthorized, send(s.Handler(), http.MethodGet, "/api/chat/conversations"))
	assert.Equal(t, http.StatusUnauthorized, send(s.TransportHandler(), http.MethodGet, "/ws"))
}

func TestRoutes_TransportListener(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := serve(s.TransportHandler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s.TransportHandler(), http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(s.Handler(), http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "the socket lives on its own listener")
}

func TestRoutes_GitHubEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.GitHubClientID = "client-id"
	cfg.Auth.GitHubClientSecret = "client-secret"
	cfg.Auth.GitHubCallbackURL = "http://localhost:8080/auth/github/callback"
	s := newTestServer(t, cfg)

	rec := serve(s.Handler(), http.MethodGet, "/auth/github/login", "", nil)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://github.com/login/oauth/authorize"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := serve(s.Handler(), http.MethodOptions, "/api/chat/conversations", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = serve(s.Handler(), http.MethodOptions, "/api/chat/conversations", "", map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = config.RateLimitConfig{Requests: 2, Window: time.Minute}
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := serve(s.Handler(), http.MethodPost, "/auth/login", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := serve(s.Handler(), http.MethodPost, "/auth/login", `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = serve(s.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not rate limited")
}

func TestStart_StopsOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
