// Package spotify provides the Spotify Web API calls behind playback control.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"spotiknob/internal/core"
)

const (
	// MinVolume is the lowest volume percent accepted by the API
	MinVolume = 0
	// MaxVolume is the highest volume percent accepted by the API
	MaxVolume = 100

	CallCurrentlyPlaying = "currently_playing"
	CallPlayerState      = "player_state"
	CallSkipNext         = "skip_next"
	CallPrevious         = "previous"
	CallPlay             = "play"
	CallPause            = "pause"
	CallVolume           = "volume"
	CallSaveTrack        = "save_track"
	CallRemoveTrack      = "remove_track"
	CallIsSaved          = "is_saved"
)

// Client issues authenticated Web API calls with a caller-supplied access token.
// Tokens are attached per call and never logged or kept.
type Client struct {
	logger    *zap.Logger
	observer  Observer
	baseURL   string
	transport http.RoundTripper
	timeout   time.Duration
}

// Observer receives the outcome of every API call, e.g. for metrics.
type Observer interface {
	ObserveAPICall(call, result string)
}

type nopObserver struct{}

func (nopObserver) ObserveAPICall(string, string) {}

type Option func(*Client)

func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithTransport sets the base round tripper, e.g. for tests.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

func NewClient(config *core.SpotifyConfig, logger *zap.Logger, opts ...Option) *Client {
	baseURL := config.APIBaseURL
	if baseURL == "" {
		baseURL = core.DefaultAPIBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = core.DefaultAPITimeout
	}

	c := &Client{
		logger:    logger,
		observer:  nopObserver{},
		baseURL:   baseURL,
		transport: http.DefaultTransport,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusRecorder remembers the status code of the last response it carried,
// so failures can be told apart from transport errors without parsing them.
type statusRecorder struct {
	base   http.RoundTripper
	status int
}

func (s *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.base.RoundTrip(req)
	if resp != nil {
		s.status = resp.StatusCode
	}
	return resp, err
}

func (c *Client) newCall(token string) (*spotify.Client, *statusRecorder, error) {
	if token == "" {
		return nil, nil, core.ErrNoCredentials
	}

	recorder := &statusRecorder{base: c.transport}
	httpClient := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   recorder,
		},
	}
	return spotify.New(httpClient, spotify.WithBaseURL(c.baseURL)), recorder, nil
}

// classify records the call outcome and maps a failure to *core.APIError.
func (c *Client) classify(call string, recorder *statusRecorder, err error) error {
	if err == nil {
		c.observer.ObserveAPICall(call, "ok")
		return nil
	}

	kind := core.RequestFailed
	switch recorder.status {
	case 0:
		kind = core.TransportFailure
	case http.StatusUnauthorized:
		kind = core.TokenRejected
	}

	c.observer.ObserveAPICall(call, kind.String())
	c.logger.Warn("Spotify API call failed",
		zap.String("call", call),
		zap.Stringer("kind", kind),
		zap.Int("status", recorder.status),
		zap.Error(err))

	return &core.APIError{Kind: kind, Call: call, Status: recorder.status, Err: err}
}

// CurrentlyPlaying returns the track loaded on the user's active device.
// A zero PlaybackInfo without track means nothing is playing.
func (c *Client) CurrentlyPlaying(ctx context.Context, token string) (core.PlaybackInfo, error) {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return core.PlaybackInfo{}, err
	}

	current, err := api.PlayerCurrentlyPlaying(ctx)
	if err = c.classify(CallCurrentlyPlaying, recorder, err); err != nil {
		return core.PlaybackInfo{}, err
	}
	if current == nil {
		return core.PlaybackInfo{}, nil
	}
	return convertCurrentlyPlaying(current), nil
}

// PlayerState is CurrentlyPlaying plus device name and volume.
func (c *Client) PlayerState(ctx context.Context, token string) (core.PlaybackInfo, error) {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return core.PlaybackInfo{}, err
	}

	state, err := api.PlayerState(ctx)
	if err = c.classify(CallPlayerState, recorder, err); err != nil {
		return core.PlaybackInfo{}, err
	}
	if state == nil {
		return core.PlaybackInfo{}, nil
	}

	info := convertCurrentlyPlaying(&state.CurrentlyPlaying)
	info.Device = state.Device.Name
	info.Volume = int(state.Device.Volume)
	return info, nil
}

func (c *Client) SkipNext(ctx context.Context, token string) error {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return err
	}
	return c.classify(CallSkipNext, recorder, api.Next(ctx))
}

func (c *Client) Previous(ctx context.Context, token string) error {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return err
	}
	return c.classify(CallPrevious, recorder, api.Previous(ctx))
}

func (c *Client) Play(ctx context.Context, token string) error {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return err
	}
	return c.classify(CallPlay, recorder, api.Play(ctx))
}

func (c *Client) Pause(ctx context.Context, token string) error {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return err
	}
	return c.classify(CallPause, recorder, api.Pause(ctx))
}

// SetVolume sets the active device volume, clamped to 0-100.
func (c *Client) SetVolume(ctx context.Context, token string, percent int) error {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return err
	}
	return c.classify(CallVolume, recorder, api.Volume(ctx, ClampVolume(percent)))
}

// SaveTrack adds a track to the user's library.
func (c *Client) SaveTrack(ctx context.Context, token, trackID string) error {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return err
	}
	return c.classify(CallSaveTrack, recorder, api.AddTracksToLibrary(ctx, spotify.ID(trackID)))
}

// RemoveTrack removes a track from the user's library.
func (c *Client) RemoveTrack(ctx context.Context, token, trackID string) error {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return err
	}
	return c.classify(CallRemoveTrack, recorder, api.RemoveTracksFromLibrary(ctx, spotify.ID(trackID)))
}

// IsSaved reports whether a track is in the user's library.
func (c *Client) IsSaved(ctx context.Context, token, trackID string) (bool, error) {
	api, recorder, err := c.newCall(token)
	if err != nil {
		return false, err
	}

	saved, err := api.UserHasTracks(ctx, spotify.ID(trackID))
	if err = c.classify(CallIsSaved, recorder, err); err != nil {
		return false, err
	}
	return len(saved) > 0 && saved[0], nil
}

func ClampVolume(percent int) int {
	if percent < MinVolume {
		return MinVolume
	}
	if percent > MaxVolume {
		return MaxVolume
	}
	return percent
}

func convertCurrentlyPlaying(current *spotify.CurrentlyPlaying) core.PlaybackInfo {
	info := core.PlaybackInfo{
		Playing:  current.Playing,
		Progress: time.Duration(current.Progress) * time.Millisecond,
	}
	if current.Item == nil {
		return info
	}

	track := current.Item
	var artists []string
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}

	info.TrackID = string(track.ID)
	info.Title = track.Name
	info.Artist = strings.Join(artists, ", ")
	info.Album = track.Album.Name
	info.URL = track.ExternalURLs["spotify"]
	info.Duration = time.Duration(track.Duration) * time.Millisecond
	if len(track.Album.Images) > 0 {
		info.ImageURL = track.Album.Images[0].URL
	}
	return info
}
