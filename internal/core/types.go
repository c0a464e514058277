package core

import (
	"fmt"
	"time"
)

// Credentials is the access/refresh token pair issued by the authorization server.
// A value is either complete (all three fields set) or treated as absent.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Complete reports whether every field of the credential set is present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != "" && !c.ExpiresAt.IsZero()
}

// StaleAt reports whether the access token is unusable at now.
// Reaching the expiry instant exactly counts as stale.
func (c Credentials) StaleAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type PlaybackInfo struct {
	TrackID  string
	Title    string
	Artist   string
	Album    string
	ImageURL string
	URL      string
	Playing  bool
	Progress time.Duration
	Duration time.Duration
	Device   string
	Volume   int
}

// HasTrack returns true if a track is loaded on the active device
func (p PlaybackInfo) HasTrack() bool {
	return p.TrackID != ""
}

type SessionState int

const (
	// StateUnauthenticated means no credentials are held
	StateUnauthenticated SessionState = iota
	// StateAuthenticated means credentials are held and not yet expired
	StateAuthenticated
	// StateExpired means credentials are held but the access token is stale
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// ButtonID identifies a physical button, in polling priority order.
type ButtonID int

const (
	ButtonEncoder ButtonID = iota
	ButtonLike
	ButtonPrev
	ButtonPlay
	ButtonSkip

	// NumButtons is the number of physical buttons
	NumButtons = 5
)

// Action names invoked by the input poller.
const (
	ActionToggle = "toggle"
	ActionLike   = "like"
	ActionPrev   = "prev"
	ActionPlay   = "play"
	ActionSkip   = "skip"
	ActionVolume = "volume"
)

func (b ButtonID) String() string {
	switch b {
	case ButtonEncoder:
		return "encoder"
	case ButtonLike:
		return "like"
	case ButtonPrev:
		return "prev"
	case ButtonPlay:
		return "play"
	case ButtonSkip:
		return "skip"
	default:
		return fmt.Sprintf("button(%d)", int(b))
	}
}

// Action returns the action name bound to the button, or "" if unbound.
func (b ButtonID) Action() string {
	switch b {
	case ButtonEncoder:
		return ActionToggle
	case ButtonLike:
		return ActionLike
	case ButtonPrev:
		return ActionPrev
	case ButtonPlay:
		return ActionPlay
	case ButtonSkip:
		return ActionSkip
	default:
		return ""
	}
}

type InputEventKind int

const (
	// EventEncoderDelta is a change in the rotary encoder position
	EventEncoderDelta InputEventKind = iota
	// EventButtonPressed is a released-to-pressed button transition
	EventButtonPressed
)

type InputEvent struct {
	Kind   InputEventKind
	Delta  int32
	Button ButtonID
}

func EncoderDelta(delta int32) InputEvent {
	return InputEvent{Kind: EventEncoderDelta, Delta: delta}
}

func ButtonPressed(id ButtonID) InputEvent {
	return InputEvent{Kind: EventButtonPressed, Button: id}
}

func (e InputEvent) String() string {
	if e.Kind == EventEncoderDelta {
		return fmt.Sprintf("EncoderDelta(%d)", e.Delta)
	}
	return fmt.Sprintf("ButtonPressed(%s)", e.Button)
}
