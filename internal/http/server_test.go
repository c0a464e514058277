package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"spotiknob/internal/auth"
	"spotiknob/internal/core"
	"spotiknob/internal/session"
	"spotiknob/internal/spotify"
	"spotiknob/internal/view"
)

const playingJSON = `{
  "progress_ms": 1000,
  "is_playing": true,
  "item": {"id": "t1", "name": "First Song", "duration_ms": 200000, "artists": [{"name": "Band"}], "album": {"name": "Record"}}
}`

type clock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *clock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *clock) Set(unix int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = time.Unix(unix, 0)
}

// upstream fakes the token endpoint and the Web API.
type upstream struct {
	mutex       sync.Mutex
	refreshes   []string
	apiAuth     []string
	skips       int
	apiStatus   int
	apiResponse string
}

func (u *upstream) tokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	u.mutex.Lock()
	access := "A1"
	if r.PostForm.Get("grant_type") == "refresh_token" {
		u.refreshes = append(u.refreshes, r.PostForm.Get("refresh_token"))
		access = "A2"
	}
	u.mutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access_token":"` + access + `","token_type":"Bearer","refresh_token":"R1","expires_in":3600}`))
}

func (u *upstream) apiHandler(w http.ResponseWriter, r *http.Request) {
	u.mutex.Lock()
	u.apiAuth = append(u.apiAuth, r.Header.Get("Authorization"))
	if r.URL.Path == "/v1/me/player/next" {
		u.skips++
	}
	status, body := u.apiStatus, u.apiResponse
	u.mutex.Unlock()

	if status == 0 {
		status = http.StatusOK
		body = playingJSON
		if r.URL.Path == "/v1/me/player/next" {
			status, body = http.StatusNoContent, ""
		}
	}
	if body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (u *upstream) setAPI(status int, body string) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.apiStatus, u.apiResponse = status, body
}

func (u *upstream) refreshTokens() []string {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return append([]string(nil), u.refreshes...)
}

func (u *upstream) calls() (skips, total int) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.skips, len(u.apiAuth)
}

func (u *upstream) lastAuth() string {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if len(u.apiAuth) == 0 {
		return ""
	}
	return u.apiAuth[len(u.apiAuth)-1]
}

type harness struct {
	server   *Server
	store    *session.TokenStore
	upstream *upstream
	clock    *clock
	registry *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	up := &upstream{}
	tokenServer := httptest.NewServer(http.HandlerFunc(up.tokenHandler))
	t.Cleanup(tokenServer.Close)
	apiServer := httptest.NewServer(http.HandlerFunc(up.apiHandler))
	t.Cleanup(apiServer.Close)

	clk := &clock{}
	clk.Set(1000)

	config := core.DefaultConfig()
	config.Spotify.ClientID = "client-id"
	config.Spotify.ClientSecret = "client-secret"
	config.Spotify.RedirectURL = "http://127.0.0.1:8080/callback"
	config.Spotify.TokenURL = tokenServer.URL
	config.Spotify.APIBaseURL = apiServer.URL + "/v1"
	config.Spotify.Timeout = 2 * time.Second

	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	logger := zap.NewNop()
	store := session.NewTokenStore()
	flow := auth.NewFlow(&config.Spotify, logger, auth.WithClock(clk.Now))
	guard := session.NewGuard(store, flow, logger, session.WithClock(clk.Now), session.WithObserver(metrics))
	client := spotify.NewClient(&config.Spotify, logger, spotify.WithObserver(metrics))

	server, err := NewServer(&config.Server, Dependencies{
		Session:  guard,
		Player:   client,
		Renderer: view.NewRenderer(),
		Metrics:  metrics,
		Gatherer: registry,
	}, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	return &harness{server: server, store: store, upstream: up, clock: clk, registry: registry}
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, http.NoBody))
	return rec
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	rec := h.get("/callback?code=abc")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != RouteMain {
		t.Fatalf("Callback = %d %q, expected redirect to %s", rec.Code, rec.Header().Get("Location"), RouteMain)
	}
}

func TestServer_ExpiryDrivesRefresh(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	creds, ok := h.store.Get()
	if !ok || creds.ExpiresAt.Unix() != 4600 {
		t.Fatalf("Expected expires_at 4600 after exchange at 1000, got %v (present=%v)", creds.ExpiresAt.Unix(), ok)
	}

	h.clock.Set(4599)
	rec := h.get(RouteMain)
	if rec.Code != http.StatusOK {
		t.Fatalf("/main at 4599 = %d, expected 200", rec.Code)
	}
	if refreshes := h.upstream.refreshTokens(); len(refreshes) != 0 {
		t.Errorf("Expected no refresh at 4599, got %v", refreshes)
	}
	if got := h.upstream.lastAuth(); got != "Bearer A1" {
		t.Errorf("Authorization = %q, expected Bearer A1", got)
	}
	if !strings.Contains(rec.Body.String(), "First Song") {
		t.Error("Main page should show the current track")
	}

	h.clock.Set(4601)
	rec = h.get(RouteMain)
	if rec.Code != http.StatusOK {
		t.Fatalf("/main at 4601 = %d, expected 200", rec.Code)
	}
	if refreshes := h.upstream.refreshTokens(); len(refreshes) != 1 || refreshes[0] != "R1" {
		t.Errorf("Expected one refresh with R1, got %v", refreshes)
	}
	if got := h.upstream.lastAuth(); got != "Bearer A2" {
		t.Errorf("Authorization = %q, expected Bearer A2 after refresh", got)
	}
}

func TestServer_SkipWithoutSession(t *testing.T) {
	h := newHarness(t)

	rec := h.get(RouteSkip)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != RouteLogin {
		t.Errorf("/skip = %d %q, expected redirect to %s", rec.Code, rec.Header().Get("Location"), RouteLogin)
	}
	if skips, total := h.upstream.calls(); skips != 0 || total != 0 {
		t.Error("No API call expected without a session")
	}
}

func TestServer_Skip(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	rec := h.get(RouteSkip)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != RouteMain {
		t.Errorf("/skip = %d %q, expected redirect to %s", rec.Code, rec.Header().Get("Location"), RouteMain)
	}
	if skips, _ := h.upstream.calls(); skips != 1 {
		t.Errorf("Expected one skip, got %d", skips)
	}
}

func TestServer_APIFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
		state  core.SessionState
	}{
		{"token rejected", http.StatusUnauthorized, `{"error":{"status":401,"message":"Invalid access token"}}`, http.StatusUnauthorized, core.StateExpired},
		{"server error", http.StatusServiceUnavailable, `{"error":{"status":503,"message":"Service unavailable"}}`, http.StatusBadGateway, core.StateAuthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.login(t)
			h.upstream.setAPI(tt.status, tt.body)

			rec := h.get(RouteMain)

			if rec.Code != tt.code {
				t.Errorf("/main = %d, expected %d", rec.Code, tt.code)
			}
			if state := h.store.State(h.clock.Now()); state != tt.state {
				t.Errorf("Session state = %v, expected %v", state, tt.state)
			}
			if strings.Contains(rec.Body.String(), "A1") {
				t.Error("Response leaks the access token")
			}
		})
	}
}

func TestServer_RejectedTokenRefreshesOnNextRequest(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.upstream.setAPI(http.StatusUnauthorized, `{"error":{"status":401,"message":"Invalid access token"}}`)
	h.get(RouteMain)

	h.upstream.setAPI(0, "")
	rec := h.get(RouteMain)

	if rec.Code != http.StatusOK {
		t.Errorf("/main = %d, expected 200", rec.Code)
	}
	if refreshes := h.upstream.refreshTokens(); len(refreshes) != 1 {
		t.Errorf("Expected a refresh after the rejected token, got %v", refreshes)
	}
}

func TestServer_OpenRoutes(t *testing.T) {
	h := newHarness(t)

	rec := h.get(RouteLogin)
	if rec.Code != http.StatusFound || !strings.Contains(rec.Header().Get("Location"), "show_dialog=true") {
		t.Errorf("/login = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = h.get(RouteRoot)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != RouteMain {
		t.Errorf("/ = %d %q, expected redirect to %s", rec.Code, rec.Header().Get("Location"), RouteMain)
	}

	rec = h.get("/callback?error=access_denied")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/callback with error = %d, expected 401", rec.Code)
	}

	rec = h.get(RouteHealth)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("/healthz = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = h.get("/unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("/unknown = %d, expected 404", rec.Code)
	}
}

func TestServer_ReadyReportsSession(t *testing.T) {
	h := newHarness(t)

	readState := func() string {
		rec := h.get(RouteReady)
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("Invalid /readyz body: %v", err)
		}
		return body["session"]
	}

	if state := readState(); state != "unauthenticated" {
		t.Errorf("session = %q, expected unauthenticated", state)
	}
	h.login(t)
	if state := readState(); state != "authenticated" {
		t.Errorf("session = %q, expected authenticated", state)
	}
	h.get(RouteLogout)
	if state := readState(); state != "unauthenticated" {
		t.Errorf("session = %q after logout, expected unauthenticated", state)
	}
}

func TestServer_Metrics(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.get(RouteMain)

	rec := h.get(RouteMetrics)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`spotiknob_auth_total{op="exchange",result="ok"} 1`,
		`spotiknob_api_calls_total{call="currently_playing",result="ok"} 1`,
		`spotiknob_requests_total{route="/main",status="200"} 1`,
		`spotiknob_requests_total{route="/callback",status="302"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Metrics missing %s", want)
		}
	}
}

func TestServer_RequestID(t *testing.T) {
	h := newHarness(t)

	rec := h.get(RouteHealth)
	if _, err := uuid.Parse(rec.Header().Get(requestIDHeader)); err != nil {
		t.Errorf("Expected a generated request ID, got %q", rec.Header().Get(requestIDHeader))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, RouteHealth, http.NoBody)
	req.Header.Set(requestIDHeader, id)
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != id {
		t.Errorf("Request ID = %q, expected %q", rec.Header().Get(requestIDHeader), id)
	}
}

func TestServer_RouteConflict(t *testing.T) {
	h := newHarness(t)

	err := h.server.Router().HandleFunc(http.MethodGet, RouteMain, false, okHandler("shadow"))
	if !errors.Is(err, core.ErrDuplicateRoute) {
		t.Errorf("Expected ErrDuplicateRoute, got %v", err)
	}
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := NewMetrics(registry); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMetrics(registry); err == nil {
		t.Error("Expected error registering metrics twice")
	}
}

func TestCreateHTTPServer(t *testing.T) {
	config := &core.ServerConfig{
		Host:         "0.0.0.0",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	handler := http.NewServeMux()
	server := createHTTPServer(config, handler)

	expectedAddr := "0.0.0.0:9090"
	if server.Addr != expectedAddr {
		t.Errorf("createHTTPServer() Addr = %q, expected %q", server.Addr, expectedAddr)
	}

	if server.Handler != handler {
		t.Errorf("createHTTPServer() Handler mismatch")
	}

	if server.ReadTimeout != config.ReadTimeout {
		t.Errorf("createHTTPServer() ReadTimeout = %v, expected %v", server.ReadTimeout, config.ReadTimeout)
	}

	if server.WriteTimeout != config.WriteTimeout {
		t.Errorf("createHTTPServer() WriteTimeout = %v, expected %v", server.WriteTimeout, config.WriteTimeout)
	}
}
