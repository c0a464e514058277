// Package http serves the login, callback and playback routes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"spotiknob/internal/core"
	"spotiknob/internal/session"
)

const (
	RouteRoot     = "/"
	RouteLogin    = "/login"
	RouteCallback = "/callback"
	RouteLogout   = "/logout"
	RouteMain     = "/main"
	RouteSkip     = "/skip"
	RouteHealth   = "/healthz"
	RouteReady    = "/readyz"
	RouteMetrics  = "/metrics"

	shutdownTimeout = 10 * time.Second
)

// Session is the session guard as seen by the routes.
type Session interface {
	Gate
	Login(w http.ResponseWriter, r *http.Request)
	HandleCallback(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	State() core.SessionState
	Invalidate()
}

// Player is the subset of the Web API client the routes use.
type Player interface {
	CurrentlyPlaying(ctx context.Context, token string) (core.PlaybackInfo, error)
	SkipNext(ctx context.Context, token string) error
}

type Renderer interface {
	Render(w io.Writer, info core.PlaybackInfo) error
}

type Dependencies struct {
	Session  Session
	Player   Player
	Renderer Renderer
	Metrics  *Metrics
	// Gatherer backs /metrics; the route is left out when nil.
	Gatherer prometheus.Gatherer
}

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	router  *Router
	deps    Dependencies
	metrics *Metrics
}

// NewServer builds the route table. A conflicting registration is returned
// as an error so startup fails before serving.
func NewServer(config *core.ServerConfig, deps Dependencies, logger *zap.Logger) (*Server, error) {
	s := &Server{
		config:  config,
		logger:  logger,
		router:  NewRouter(deps.Session, logger),
		deps:    deps,
		metrics: deps.Metrics,
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setup routes: %w", err)
	}

	s.server = createHTTPServer(config, withRequestLogging(s.router, s.router, s.metrics, logger))
	return s, nil
}

type routeSpec struct {
	method  string
	path    string
	gated   bool
	handler http.Handler
}

// setupRoutes registers open routes before gated ones.
func (s *Server) setupRoutes() error {
	routes := []routeSpec{
		{http.MethodGet, RouteLogin, false, http.HandlerFunc(s.deps.Session.Login)},
		{http.MethodGet, RouteCallback, false, http.HandlerFunc(s.deps.Session.HandleCallback)},
		{http.MethodGet, RouteLogout, false, http.HandlerFunc(s.deps.Session.Logout)},
		{http.MethodGet, RouteRoot, false, http.RedirectHandler(RouteMain, http.StatusFound)},
		{http.MethodGet, RouteHealth, false, http.HandlerFunc(s.handleHealth)},
		{http.MethodGet, RouteReady, false, http.HandlerFunc(s.handleReady)},
		{http.MethodGet, RouteMain, true, http.HandlerFunc(s.handleMain)},
		{http.MethodGet, RouteSkip, true, http.HandlerFunc(s.handleSkip)},
	}
	if s.deps.Gatherer != nil {
		routes = append(routes, routeSpec{http.MethodGet, RouteMetrics, false, promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})})
	}

	for _, route := range routes {
		if err := s.router.Register(route.method, route.path, route.gated, route.handler); err != nil {
			return err
		}
	}
	return nil
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

// Handler returns the root handler including request logging.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Router() *Router {
	return s.router
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) handleMain(w http.ResponseWriter, r *http.Request) {
	token, _ := session.AccessTokenFromContext(r.Context())

	info, err := s.deps.Player.CurrentlyPlaying(r.Context(), token)
	if err != nil {
		s.apiFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.deps.Renderer.Render(w, info); err != nil {
		s.logger.Error("Failed to render main page", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	token, _ := session.AccessTokenFromContext(r.Context())

	if err := s.deps.Player.SkipNext(r.Context(), token); err != nil {
		s.apiFailure(w, err)
		return
	}
	http.Redirect(w, r, RouteMain, http.StatusFound)
}

// apiFailure answers a failed API call. A rejected token expires the
// session so the next gated request refreshes; it is not redirected to
// avoid a loop when the token endpoint keeps issuing rejected tokens.
func (s *Server) apiFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrTokenRejected) {
		s.deps.Session.Invalidate()
		http.Error(w, "Spotify rejected the access token, reload to retry", http.StatusUnauthorized)
		return
	}
	http.Error(w, "Spotify request failed", http.StatusBadGateway)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "spotiknob"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"service": "spotiknob",
		"session": s.deps.Session.State().String(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}
