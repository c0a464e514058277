package core

import (
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
)

const (
	// DefaultServerPort is the default HTTP server port
	DefaultServerPort = 8080
	// DefaultPollInterval matches the sampling period of the input hardware loop
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultAPITimeout bounds every outbound call to the authorization and API servers
	DefaultAPITimeout = 10 * time.Second
	// DefaultVolumeStep is the volume change in percent per encoder detent
	DefaultVolumeStep = 5
	// DefaultVolumeUpdatesPerSecond limits how often encoder turns reach the API
	DefaultVolumeUpdatesPerSecond = 2.0
	// DefaultGPIOBase is the sysfs GPIO class directory
	DefaultGPIOBase = "/sys/class/gpio"
	// DefaultAPIBaseURL is the Spotify Web API root, with trailing slash
	DefaultAPIBaseURL = "https://api.spotify.com/v1/"
)

// DefaultButtonPins are the GPIO lines for encoder switch, like, prev, play and skip.
var DefaultButtonPins = []int{13, 21, 20, 19, 18}

type Config struct {
	Spotify SpotifyConfig
	Server  ServerConfig
	Log     LogConfig
	Input   InputConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Timeout      time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level string
}

type InputConfig struct {
	Enabled      bool
	PollInterval time.Duration
	GPIOBase     string
	ButtonPins   []int
	EncoderPath  string
	VolumeStep   int
	VolumePerSec float64
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			Scopes: []string{
				spotifyauth.ScopeUserReadCurrentlyPlaying,
				spotifyauth.ScopeUserReadPlaybackState,
				spotifyauth.ScopeUserModifyPlaybackState,
				spotifyauth.ScopeUserLibraryRead,
				spotifyauth.ScopeUserLibraryModify,
			},
			AuthURL:    spotifyauth.AuthURL,
			TokenURL:   spotifyauth.TokenURL,
			APIBaseURL: DefaultAPIBaseURL,
			Timeout:    DefaultAPITimeout,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Input: InputConfig{
			Enabled:      false,
			PollInterval: DefaultPollInterval,
			GPIOBase:     DefaultGPIOBase,
			ButtonPins:   append([]int(nil), DefaultButtonPins...),
			VolumeStep:   DefaultVolumeStep,
			VolumePerSec: DefaultVolumeUpdatesPerSecond,
		},
	}
}
