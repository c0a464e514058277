// Package control maps named input actions to playback calls on the shared session.
package control

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"spotiknob/internal/core"
	"spotiknob/internal/store"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrNothingPlaying = errors.New("nothing playing")
	ErrNoActiveDevice = errors.New("no active device")
)

// Player is the subset of the Web API client the actions use.
type Player interface {
	CurrentlyPlaying(ctx context.Context, token string) (core.PlaybackInfo, error)
	PlayerState(ctx context.Context, token string) (core.PlaybackInfo, error)
	SkipNext(ctx context.Context, token string) error
	Previous(ctx context.Context, token string) error
	Play(ctx context.Context, token string) error
	Pause(ctx context.Context, token string) error
	SetVolume(ctx context.Context, token string, percent int) error
	SaveTrack(ctx context.Context, token, trackID string) error
	RemoveTrack(ctx context.Context, token, trackID string) error
	IsSaved(ctx context.Context, token, trackID string) (bool, error)
}

// Session hands out access tokens under the same rules as gated routes.
type Session interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

type Observer interface {
	ObserveAction(action, result string)
}

type nopObserver struct{}

func (nopObserver) ObserveAction(string, string) {}

type actionFunc func(ctx context.Context, token string) error

// Actions exposes one entry point per action name. Failures are returned to
// the caller; nothing is retried.
type Actions struct {
	player     Player
	session    Session
	logger     *zap.Logger
	observer   Observer
	volumeStep int
	likes      *store.LikeCache
	byName     map[string]actionFunc
}

type Option func(*Actions)

func WithObserver(observer Observer) Option {
	return func(a *Actions) {
		a.observer = observer
	}
}

// WithVolumeStep sets the volume change in percent per encoder detent.
func WithVolumeStep(step int) Option {
	return func(a *Actions) {
		if step > 0 {
			a.volumeStep = step
		}
	}
}

func NewActions(player Player, session Session, logger *zap.Logger, opts ...Option) *Actions {
	a := &Actions{
		player:     player,
		session:    session,
		logger:     logger,
		observer:   nopObserver{},
		volumeStep: core.DefaultVolumeStep,
		likes:      store.NewLikeCache(store.DefaultLikeCacheSize),
	}
	a.byName = map[string]actionFunc{
		core.ActionToggle: a.toggle,
		core.ActionLike:   a.like,
		core.ActionPrev:   a.player.Previous,
		core.ActionPlay:   a.player.Play,
		core.ActionSkip:   a.player.SkipNext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle runs the action bound to an input event.
func (a *Actions) Handle(ctx context.Context, event core.InputEvent) error {
	switch event.Kind {
	case core.EventEncoderDelta:
		return a.Volume(ctx, event.Delta)
	case core.EventButtonPressed:
		return a.Do(ctx, event.Button.Action())
	default:
		return fmt.Errorf("%w: %v", ErrUnknownAction, event)
	}
}

// Do runs a button action by name.
func (a *Actions) Do(ctx context.Context, name string) error {
	fn, ok := a.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return a.run(ctx, name, fn)
}

func (a *Actions) Toggle(ctx context.Context) error { return a.Do(ctx, core.ActionToggle) }
func (a *Actions) Like(ctx context.Context) error   { return a.Do(ctx, core.ActionLike) }
func (a *Actions) Prev(ctx context.Context) error   { return a.Do(ctx, core.ActionPrev) }
func (a *Actions) Play(ctx context.Context) error   { return a.Do(ctx, core.ActionPlay) }
func (a *Actions) Skip(ctx context.Context) error   { return a.Do(ctx, core.ActionSkip) }

// Volume moves the active device volume by delta encoder detents.
func (a *Actions) Volume(ctx context.Context, delta int32) error {
	return a.run(ctx, core.ActionVolume, func(ctx context.Context, token string) error {
		return a.adjustVolume(ctx, token, delta)
	})
}

func (a *Actions) run(ctx context.Context, name string, fn actionFunc) error {
	token, err := a.session.AccessToken(ctx)
	if err != nil {
		// library state belongs to the previous login
		a.likes.Purge()
		a.observer.ObserveAction(name, "unauthenticated")
		return fmt.Errorf("%s: %w", name, err)
	}

	err = fn(ctx, token)
	if errors.Is(err, core.ErrTokenRejected) {
		a.session.Invalidate()
	}
	a.observer.ObserveAction(name, core.APIErrorResult(err))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	a.logger.Debug("Action completed", zap.String("action", name))
	return nil
}

func (a *Actions) toggle(ctx context.Context, token string) error {
	state, err := a.player.PlayerState(ctx, token)
	if err != nil {
		return err
	}
	if state.Playing {
		return a.player.Pause(ctx, token)
	}
	return a.player.Play(ctx, token)
}

// like flips the library state of the current track.
func (a *Actions) like(ctx context.Context, token string) error {
	current, err := a.player.CurrentlyPlaying(ctx, token)
	if err != nil {
		return err
	}
	if !current.HasTrack() {
		return ErrNothingPlaying
	}

	saved, known := a.likes.Get(current.TrackID)
	if !known {
		saved, err = a.player.IsSaved(ctx, token, current.TrackID)
		if err != nil {
			return err
		}
	}

	if saved {
		err = a.player.RemoveTrack(ctx, token, current.TrackID)
	} else {
		err = a.player.SaveTrack(ctx, token, current.TrackID)
	}
	if err != nil {
		a.likes.Forget(current.TrackID)
		return err
	}

	a.likes.Set(current.TrackID, !saved)
	a.logger.Info("Track library state changed",
		zap.String("trackID", current.TrackID),
		zap.Bool("saved", !saved))
	return nil
}

func (a *Actions) adjustVolume(ctx context.Context, token string, delta int32) error {
	if delta == 0 {
		return nil
	}

	state, err := a.player.PlayerState(ctx, token)
	if err != nil {
		return err
	}
	if state.Device == "" {
		return ErrNoActiveDevice
	}

	return a.player.SetVolume(ctx, token, state.Volume+int(delta)*a.volumeStep)
}
