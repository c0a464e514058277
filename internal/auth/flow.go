// Package auth implements the Spotify OAuth2 authorization code flow.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"spotiknob/internal/core"
)

const (
	opExchange = "exchange"
	opRefresh  = "refresh"
)

var (
	errMissingRefreshToken = errors.New("token response missing refresh_token")
	errMissingExpiresIn    = errors.New("token response missing or invalid expires_in")
)

// Flow builds the consent redirect and trades codes and refresh tokens for credentials.
// It has no state of its own; callers store the returned credentials.
type Flow struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Flow)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Flow) {
		f.httpClient = client
	}
}

// WithClock overrides the time source used to compute expiry instants.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}

func NewFlow(config *core.SpotifyConfig, logger *zap.Logger, opts ...Option) *Flow {
	authURL := config.AuthURL
	if authURL == "" {
		authURL = spotifyauth.AuthURL
	}
	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = core.DefaultAPITimeout
	}

	f := &Flow{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LoginURL returns the authorization server URL carrying client_id,
// response_type=code, redirect_uri, scope and show_dialog=true.
func (f *Flow) LoginURL() string {
	return f.oauth.AuthCodeURL("", spotifyauth.ShowDialog)
}

// ExchangeCode trades an authorization code for credentials. Any failure is
// an *core.AuthError and no partial credentials are returned.
func (f *Flow) ExchangeCode(ctx context.Context, code string) (core.Credentials, error) {
	token, err := f.oauth.Exchange(f.clientContext(ctx), code)
	if err != nil {
		return core.Credentials{}, f.tokenError(opExchange, err)
	}
	return f.credentials(opExchange, token, "")
}

// Refresh trades a refresh token for new credentials. When the endpoint does
// not rotate the refresh token the given one is kept.
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (core.Credentials, error) {
	source := f.oauth.TokenSource(f.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return core.Credentials{}, f.tokenError(opRefresh, err)
	}
	return f.credentials(opRefresh, token, refreshToken)
}

func (f *Flow) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

func (f *Flow) credentials(op string, token *oauth2.Token, priorRefreshToken string) (core.Credentials, error) {
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = priorRefreshToken
	}
	if refreshToken == "" {
		return core.Credentials{}, core.NewAuthError(op, 0, nil, errMissingRefreshToken)
	}

	expiresIn, ok := expiresInSeconds(token)
	if !ok {
		return core.Credentials{}, core.NewAuthError(op, 0, nil, errMissingExpiresIn)
	}

	creds := core.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    f.now().Add(time.Duration(expiresIn) * time.Second),
	}
	if !creds.Complete() {
		return core.Credentials{}, core.NewAuthError(op, 0, nil, errors.New("incomplete token response"))
	}

	f.logger.Debug("Token endpoint call succeeded",
		zap.String("op", op),
		zap.Bool("refreshTokenRotated", token.RefreshToken != "" && token.RefreshToken != priorRefreshToken),
		zap.Time("expiresAt", creds.ExpiresAt))
	return creds, nil
}

// tokenError keeps the upstream status and body only for non-2xx answers;
// a 2xx body may contain tokens.
func (f *Flow) tokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status < 200 || status > 299 {
			f.logger.Warn("Token endpoint rejected request",
				zap.String("op", op),
				zap.Int("status", status),
				zap.String("error", retrieveErr.ErrorCode))
			cause := fmt.Errorf("token endpoint returned %d", status)
			if retrieveErr.ErrorCode != "" {
				cause = errors.New(retrieveErr.ErrorCode)
			}
			return core.NewAuthError(op, status, retrieveErr.Body, cause)
		}
		return core.NewAuthError(op, status, nil, errors.New("malformed token response"))
	}

	f.logger.Warn("Token endpoint call failed", zap.String("op", op), zap.Error(err))
	return core.NewAuthError(op, 0, nil, err)
}

// expiresInSeconds reads the raw expires_in field, which oauth2 only exposes
// as an absolute expiry computed from the wall clock.
func expiresInSeconds(token *oauth2.Token) (int64, bool) {
	var seconds int64
	switch v := token.Extra("expires_in").(type) {
	case float64:
		seconds = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		seconds = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		seconds = n
	default:
		return 0, false
	}
	return seconds, seconds > 0
}
