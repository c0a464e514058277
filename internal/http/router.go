package http

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"spotiknob/internal/core"
)

// Gate runs a gated handler only when a usable session exists.
type Gate interface {
	Protect(next http.Handler) http.Handler
}

type Route struct {
	Method  string
	Path    string
	Gated   bool
	Handler http.Handler
}

// Router dispatches on exact method and path in registration order.
// The table is built before serving and only read afterwards.
type Router struct {
	routes []Route
	gate   Gate
	logger *zap.Logger
}

func NewRouter(gate Gate, logger *zap.Logger) *Router {
	return &Router{gate: gate, logger: logger}
}

// Register adds a route. A repeated method and path is an error, as is a
// gated route without a gate.
func (r *Router) Register(method, path string, gated bool, handler http.Handler) error {
	if _, ok := r.Match(method, path); ok {
		return fmt.Errorf("%w: %s %s", core.ErrDuplicateRoute, method, path)
	}
	if gated {
		if r.gate == nil {
			return errors.New("gated route " + path + " registered without a gate")
		}
		handler = r.gate.Protect(handler)
	}

	r.routes = append(r.routes, Route{Method: method, Path: path, Gated: gated, Handler: handler})
	r.logger.Debug("Route registered",
		zap.String("method", method),
		zap.String("path", path),
		zap.Bool("gated", gated))
	return nil
}

func (r *Router) HandleFunc(method, path string, gated bool, handler http.HandlerFunc) error {
	return r.Register(method, path, gated, handler)
}

// Match returns the first route for method and path.
func (r *Router) Match(method, path string) (Route, bool) {
	for _, route := range r.routes {
		if route.Method == method && route.Path == path {
			return route, true
		}
	}
	return Route{}, false
}

func (r *Router) Routes() []Route {
	return append([]Route(nil), r.routes...)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	route, ok := r.Match(req.Method, req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}
	route.Handler.ServeHTTP(w, req)
}
