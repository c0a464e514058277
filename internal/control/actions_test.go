package control

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"spotiknob/internal/core"
)

type fakePlayer struct {
	state      core.PlaybackInfo
	saved      map[string]bool
	err        error
	calls      []string
	volumes    []int
	savedCalls int
}

func (f *fakePlayer) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakePlayer) CurrentlyPlaying(context.Context, string) (core.PlaybackInfo, error) {
	return f.state, f.record("currently_playing")
}

func (f *fakePlayer) PlayerState(context.Context, string) (core.PlaybackInfo, error) {
	return f.state, f.record("player_state")
}

func (f *fakePlayer) SkipNext(context.Context, string) error { return f.record("skip_next") }
func (f *fakePlayer) Previous(context.Context, string) error { return f.record("previous") }
func (f *fakePlayer) Play(context.Context, string) error     { return f.record("play") }
func (f *fakePlayer) Pause(context.Context, string) error    { return f.record("pause") }

func (f *fakePlayer) SetVolume(_ context.Context, _ string, percent int) error {
	f.volumes = append(f.volumes, percent)
	return f.record("volume")
}

func (f *fakePlayer) SaveTrack(_ context.Context, _, trackID string) error {
	if f.saved == nil {
		f.saved = map[string]bool{}
	}
	f.saved[trackID] = true
	return f.record("save_track")
}

func (f *fakePlayer) RemoveTrack(_ context.Context, _, trackID string) error {
	delete(f.saved, trackID)
	return f.record("remove_track")
}

func (f *fakePlayer) IsSaved(_ context.Context, _, trackID string) (bool, error) {
	f.savedCalls++
	return f.saved[trackID], f.record("is_saved")
}

type fakeSession struct {
	token       string
	err         error
	invalidated int
}

func (s *fakeSession) AccessToken(context.Context) (string, error) {
	return s.token, s.err
}

func (s *fakeSession) Invalidate() {
	s.invalidated++
}

type recordingObserver struct {
	results []string
}

func (o *recordingObserver) ObserveAction(action, result string) {
	o.results = append(o.results, action+":"+result)
}

func newTestActions(player *fakePlayer, session *fakeSession) (*Actions, *recordingObserver) {
	observer := &recordingObserver{}
	return NewActions(player, session, zap.NewNop(), WithObserver(observer), WithVolumeStep(5)), observer
}

func TestActions_ButtonsMapToCalls(t *testing.T) {
	tests := []struct {
		button   core.ButtonID
		playing  bool
		expected []string
	}{
		{core.ButtonSkip, false, []string{"skip_next"}},
		{core.ButtonPrev, false, []string{"previous"}},
		{core.ButtonPlay, false, []string{"play"}},
		{core.ButtonEncoder, true, []string{"player_state", "pause"}},
		{core.ButtonEncoder, false, []string{"player_state", "play"}},
	}

	for _, tt := range tests {
		t.Run(tt.button.String(), func(t *testing.T) {
			player := &fakePlayer{state: core.PlaybackInfo{TrackID: "t1", Playing: tt.playing}}
			actions, observer := newTestActions(player, &fakeSession{token: "A1"})

			if err := actions.Handle(context.Background(), core.ButtonPressed(tt.button)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if len(player.calls) != len(tt.expected) {
				t.Fatalf("Calls = %v, expected %v", player.calls, tt.expected)
			}
			for i := range tt.expected {
				if player.calls[i] != tt.expected[i] {
					t.Errorf("Calls = %v, expected %v", player.calls, tt.expected)
				}
			}
			if len(observer.results) != 1 || observer.results[0] != tt.button.Action()+":ok" {
				t.Errorf("Unexpected observed results %v", observer.results)
			}
		})
	}
}

func TestActions_UnauthenticatedMakesNoCalls(t *testing.T) {
	player := &fakePlayer{}
	actions, observer := newTestActions(player, &fakeSession{err: core.ErrNoCredentials})

	err := actions.Skip(context.Background())
	if !errors.Is(err, core.ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials, got %v", err)
	}
	if len(player.calls) != 0 {
		t.Errorf("Expected no API calls, got %v", player.calls)
	}
	if observer.results[0] != "skip:unauthenticated" {
		t.Errorf("Unexpected observed result %v", observer.results)
	}
}

func TestActions_TokenRejectedInvalidatesSession(t *testing.T) {
	player := &fakePlayer{err: &core.APIError{Kind: core.TokenRejected, Call: "skip_next", Status: 401}}
	session := &fakeSession{token: "A1"}
	actions, observer := newTestActions(player, session)

	err := actions.Skip(context.Background())
	if !errors.Is(err, core.ErrTokenRejected) {
		t.Errorf("Expected ErrTokenRejected, got %v", err)
	}
	if session.invalidated != 1 {
		t.Errorf("Expected session invalidated once, got %d", session.invalidated)
	}
	if observer.results[0] != "skip:token_rejected" {
		t.Errorf("Unexpected observed result %v", observer.results)
	}
}

func TestActions_TransportFailureKeepsSession(t *testing.T) {
	player := &fakePlayer{err: &core.APIError{Kind: core.TransportFailure, Call: "previous"}}
	session := &fakeSession{token: "A1"}
	actions, _ := newTestActions(player, session)

	if err := actions.Prev(context.Background()); !errors.Is(err, core.ErrTransportFailure) {
		t.Errorf("Expected transport failure, got %v", err)
	}
	if session.invalidated != 0 {
		t.Error("Transport failures must not invalidate the session")
	}
}

func TestActions_LikeToggles(t *testing.T) {
	player := &fakePlayer{state: core.PlaybackInfo{TrackID: "t1"}}
	actions, _ := newTestActions(player, &fakeSession{token: "A1"})

	if err := actions.Like(context.Background()); err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	if !player.saved["t1"] {
		t.Error("First like should save the track")
	}

	if err := actions.Like(context.Background()); err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	if player.saved["t1"] {
		t.Error("Second like should remove the track")
	}

	if player.savedCalls != 1 {
		t.Errorf("Library state should be looked up once and then remembered, got %d lookups", player.savedCalls)
	}
}

func TestActions_LikeNothingPlaying(t *testing.T) {
	player := &fakePlayer{}
	actions, _ := newTestActions(player, &fakeSession{token: "A1"})

	if err := actions.Like(context.Background()); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Expected ErrNothingPlaying, got %v", err)
	}
}

func TestActions_Volume(t *testing.T) {
	player := &fakePlayer{state: core.PlaybackInfo{Device: "Kitchen", Volume: 40}}
	actions, _ := newTestActions(player, &fakeSession{token: "A1"})

	if err := actions.Handle(context.Background(), core.EncoderDelta(2)); err != nil {
		t.Fatalf("Handle(EncoderDelta(2)) error = %v", err)
	}
	if err := actions.Handle(context.Background(), core.EncoderDelta(-3)); err != nil {
		t.Fatalf("Handle(EncoderDelta(-3)) error = %v", err)
	}

	if len(player.volumes) != 2 || player.volumes[0] != 50 || player.volumes[1] != 25 {
		t.Errorf("Volumes = %v, expected [50 25]", player.volumes)
	}
}

func TestActions_VolumeWithoutDevice(t *testing.T) {
	player := &fakePlayer{}
	actions, _ := newTestActions(player, &fakeSession{token: "A1"})

	if err := actions.Volume(context.Background(), 1); !errors.Is(err, ErrNoActiveDevice) {
		t.Errorf("Expected ErrNoActiveDevice, got %v", err)
	}
	if len(player.volumes) != 0 {
		t.Error("No volume change expected without a device")
	}
}

func TestActions_UnknownAction(t *testing.T) {
	actions, _ := newTestActions(&fakePlayer{}, &fakeSession{token: "A1"})

	if err := actions.Do(context.Background(), "dance"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Expected ErrUnknownAction, got %v", err)
	}
	if err := actions.Handle(context.Background(), core.ButtonPressed(core.ButtonID(9))); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Expected ErrUnknownAction for unbound button, got %v", err)
	}
}

func TestActions_LogoutForgetsLibraryState(t *testing.T) {
	player := &fakePlayer{state: core.PlaybackInfo{TrackID: "t1"}}
	session := &fakeSession{token: "A1"}
	actions, _ := newTestActions(player, session)

	if err := actions.Like(context.Background()); err != nil {
		t.Fatal(err)
	}

	session.err = core.ErrNoCredentials
	_ = actions.Like(context.Background())

	session.err = nil
	if err := actions.Like(context.Background()); err != nil {
		t.Fatal(err)
	}
	if player.savedCalls != 2 {
		t.Errorf("Expected library state looked up again after the session ended, got %d lookups", player.savedCalls)
	}
}
