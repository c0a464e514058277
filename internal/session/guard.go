package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"spotiknob/internal/core"
)

const (
	// DefaultLoginPath is where unauthenticated gated requests are sent
	DefaultLoginPath = "/login"
	// DefaultMainPath is where a successful callback lands
	DefaultMainPath = "/main"
)

// Authorizer performs the authorization code flow against the token endpoint.
type Authorizer interface {
	LoginURL() string
	ExchangeCode(ctx context.Context, code string) (core.Credentials, error)
	Refresh(ctx context.Context, refreshToken string) (core.Credentials, error)
}

// Observer receives session lifecycle outcomes, e.g. for metrics.
type Observer interface {
	ObserveAuth(op, result string)
}

type nopObserver struct{}

func (nopObserver) ObserveAuth(string, string) {}

// Guard decides, per gated request, whether to run the handler, refresh the
// access token first, or send the user to the login route.
type Guard struct {
	store     *TokenStore
	auth      Authorizer
	logger    *zap.Logger
	observer  Observer
	now       func() time.Time
	loginPath string
	mainPath  string

	refreshGroup singleflight.Group
}

type Option func(*Guard)

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

func WithObserver(observer Observer) Option {
	return func(g *Guard) {
		g.observer = observer
	}
}

// WithRoutes overrides the login and main route paths used for redirects.
func WithRoutes(loginPath, mainPath string) Option {
	return func(g *Guard) {
		g.loginPath = loginPath
		g.mainPath = mainPath
	}
}

func NewGuard(store *TokenStore, auth Authorizer, logger *zap.Logger, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		auth:      auth,
		logger:    logger,
		observer:  nopObserver{},
		now:       time.Now,
		loginPath: DefaultLoginPath,
		mainPath:  DefaultMainPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current session state.
func (g *Guard) State() core.SessionState {
	return g.store.State(g.now())
}

// AccessToken returns a usable access token, refreshing it first when stale.
// It returns core.ErrNoCredentials when unauthenticated. A failed refresh
// clears the store so later calls do not retry with the dead refresh token.
// The refresh call is not cancelled with ctx; the authorizer's own timeout
// bounds it.
func (g *Guard) AccessToken(ctx context.Context) (string, error) {
	creds, ok := g.store.Get()
	if !ok {
		return "", core.ErrNoCredentials
	}
	if !creds.StaleAt(g.now()) {
		return creds.AccessToken, nil
	}

	v, err, _ := g.refreshGroup.Do("refresh", func() (any, error) {
		return g.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(core.Credentials).AccessToken, nil
}

func (g *Guard) refresh(ctx context.Context) (core.Credentials, error) {
	current, ok := g.store.Get()
	if !ok {
		return core.Credentials{}, core.ErrNoCredentials
	}
	if !current.StaleAt(g.now()) {
		return current, nil
	}

	g.logger.Info("Access token expired, refreshing",
		zap.Time("expiresAt", current.ExpiresAt))

	creds, err := g.auth.Refresh(ctx, current.RefreshToken)
	if err != nil {
		cleared := g.store.ClearIf(current.RefreshToken)
		g.observer.ObserveAuth("refresh", "failure")
		g.logger.Warn("Token refresh failed",
			zap.Bool("sessionCleared", cleared),
			zap.Error(err))
		return core.Credentials{}, fmt.Errorf("refresh session: %w", err)
	}

	g.store.Set(creds)
	g.observer.ObserveAuth("refresh", "ok")
	g.logger.Info("Access token refreshed", zap.Time("expiresAt", creds.ExpiresAt))
	return creds, nil
}

// Invalidate forces the next AccessToken call to refresh, e.g. after the
// remote API rejected a token that local bookkeeping still considered valid.
func (g *Guard) Invalidate() {
	g.store.Expire(g.now())
	g.logger.Info("Access token invalidated")
}

// Protect wraps a gated handler. The handler runs at most once per request,
// with the access token available via AccessTokenFromContext.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := g.AccessToken(r.Context())
		if err != nil {
			g.logger.Debug("Gated request without usable credentials, redirecting to login",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			http.Redirect(w, r, g.loginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccessToken(r.Context(), token)))
	})
}

// Login redirects to the authorization server's consent page.
func (g *Guard) Login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, g.auth.LoginURL(), http.StatusFound)
}

// HandleCallback completes the authorization code flow.
func (g *Guard) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	errParam, err := queryValue(query, "error")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code, err := queryValue(query, "code")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if errParam != "" {
		g.observer.ObserveAuth("exchange", "denied")
		g.logger.Warn("Authorization denied", zap.String("error", errParam))
		http.Error(w, "Authorization failed: "+errParam, http.StatusUnauthorized)
		return
	}
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	creds, err := g.auth.ExchangeCode(context.WithoutCancel(r.Context()), code)
	if err != nil {
		g.observer.ObserveAuth("exchange", "failure")
		g.logger.Error("Authorization code exchange failed", zap.Error(err))
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	g.store.Set(creds)
	g.observer.ObserveAuth("exchange", "ok")
	g.logger.Info("Authorized", zap.Time("expiresAt", creds.ExpiresAt))
	http.Redirect(w, r, g.mainPath, http.StatusFound)
}

// Logout discards the held credentials.
func (g *Guard) Logout(w http.ResponseWriter, r *http.Request) {
	g.store.Clear()
	g.observer.ObserveAuth("logout", "ok")
	g.logger.Info("Logged out")
	http.Redirect(w, r, g.loginPath, http.StatusFound)
}

// queryValue returns the single value of key. Repeated keys are rejected
// instead of picking one.
func queryValue(query url.Values, key string) (string, error) {
	values := query[key]
	switch len(values) {
	case 0:
		return "", nil
	case 1:
		return values[0], nil
	default:
		return "", fmt.Errorf("query parameter %q given %d times", key, len(values))
	}
}

type accessTokenKey struct{}

// WithAccessToken returns a context carrying the access token for a gated handler.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFromContext returns the access token set by Protect.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey{}).(string)
	return token, ok && token != ""
}
