// Package main provides the spotiknob CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"spotiknob/internal/auth"
	"spotiknob/internal/control"
	"spotiknob/internal/core"
	httpserver "spotiknob/internal/http"
	"spotiknob/internal/input"
	"spotiknob/internal/session"
	"spotiknob/internal/spotify"
	"spotiknob/internal/view"
)

const (
	defaultServerHost = "0.0.0.0"
	envPrefix         = "SPOTIKNOB"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "spotiknob",
	Short: "spotiknob - Spotify remote with a web page and hardware buttons",
	Long: `spotiknob holds a Spotify login obtained through the browser and uses it to show
the current track and to skip, pause, like and change volume from a web page or
from GPIO buttons and a rotary encoder.`,
	RunE: runSpotiknob,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", core.DefaultServerPort, "HTTP server port")
	flags.Duration("server-read-timeout", defaults.Server.ReadTimeout, "HTTP server read timeout")
	flags.Duration("server-write-timeout", defaults.Server.WriteTimeout, "HTTP server write timeout")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", "", "OAuth redirect URL (default derived from server host and port)")
	flags.Duration("spotify-timeout", core.DefaultAPITimeout, "Timeout for token endpoint and Web API calls")
	flags.Bool("input-enabled", false, "Enable GPIO button and encoder polling")
	flags.Duration("input-poll-interval", core.DefaultPollInterval, "Input sampling interval")
	flags.String("input-gpio-base", core.DefaultGPIOBase, "sysfs GPIO directory")
	flags.String("input-button-pins", joinPins(core.DefaultButtonPins), "GPIO pins for encoder switch, like, prev, play, skip")
	flags.String("input-encoder-path", "", "File holding the rotary encoder position (empty disables volume)")
	flags.Int("input-volume-step", core.DefaultVolumeStep, "Volume percent per encoder detent")
	flags.Float64("input-volume-rate", core.DefaultVolumeUpdatesPerSecond, "Maximum volume updates per second")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureSpotify(cfg)
	configureInput(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.ReadTimeout = viper.GetDuration("server-read-timeout")
	cfg.Server.WriteTimeout = viper.GetDuration("server-write-timeout")
	cfg.Log.Level = viper.GetString("log-level")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	cfg.Spotify.Timeout = viper.GetDuration("spotify-timeout")

	if cfg.Spotify.RedirectURL == "" {
		serverHost := cfg.Server.Host
		if serverHost == defaultServerHost {
			serverHost = "127.0.0.1" // Use localhost for OAuth callback
		}
		cfg.Spotify.RedirectURL = fmt.Sprintf("http://%s:%d%s", serverHost, cfg.Server.Port, httpserver.RouteCallback)
	}
}

func configureInput(cfg *core.Config) {
	cfg.Input.Enabled = viper.GetBool("input-enabled")
	cfg.Input.PollInterval = viper.GetDuration("input-poll-interval")
	cfg.Input.GPIOBase = viper.GetString("input-gpio-base")
	cfg.Input.EncoderPath = viper.GetString("input-encoder-path")
	cfg.Input.VolumeStep = viper.GetInt("input-volume-step")
	cfg.Input.VolumePerSec = viper.GetFloat64("input-volume-rate")

	pins, err := parsePins(viper.GetString("input-button-pins"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using default pins %s\n", err, joinPins(core.DefaultButtonPins))
		return
	}
	cfg.Input.ButtonPins = pins
}

func parsePins(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	if len(parts) != core.NumButtons {
		return nil, fmt.Errorf("invalid button pins %q: expected %d comma-separated pins", value, core.NumButtons)
	}
	pins := make([]int, 0, len(parts))
	for _, part := range parts {
		pin, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || pin < 0 {
			return nil, fmt.Errorf("invalid button pin %q", part)
		}
		pins = append(pins, pin)
	}
	return pins, nil
}

func joinPins(pins []int) string {
	parts := make([]string, len(pins))
	for i, pin := range pins {
		parts[i] = strconv.Itoa(pin)
	}
	return strings.Join(parts, ",")
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runSpotiknob(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting spotiknob",
		zap.String("redirect_url", config.Spotify.RedirectURL),
		zap.Bool("input_enabled", config.Input.Enabled))

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices()
	if err != nil {
		return err
	}

	return runServices(ctx, svcs)
}

type services struct {
	httpServer *httpserver.Server
	poller     *input.Poller
}

func initializeServices() (*services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := httpserver.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	store := session.NewTokenStore()
	flow := auth.NewFlow(&config.Spotify, logger.Named("auth"))
	guard := session.NewGuard(store, flow, logger.Named("session"),
		session.WithObserver(metrics),
		session.WithRoutes(httpserver.RouteLogin, httpserver.RouteMain))
	client := spotify.NewClient(&config.Spotify, logger.Named("spotify"), spotify.WithObserver(metrics))

	httpServer, err := httpserver.NewServer(&config.Server, httpserver.Dependencies{
		Session:  guard,
		Player:   client,
		Renderer: view.NewRenderer(),
		Metrics:  metrics,
		Gatherer: registry,
	}, logger.Named("http"))
	if err != nil {
		return nil, err
	}

	svcs := &services{httpServer: httpServer}
	if !config.Input.Enabled {
		return svcs, nil
	}

	sampler, err := input.NewSysfsSampler(&config.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to set up input: %w", err)
	}
	if err := sampler.Export(); err != nil {
		logger.Warn("Failed to export GPIO pins, assuming they are already configured", zap.Error(err))
	}

	actions := control.NewActions(client, guard, logger.Named("control"),
		control.WithObserver(metrics),
		control.WithVolumeStep(config.Input.VolumeStep))
	svcs.poller = input.NewPoller(sampler, actions, logger.Named("input"),
		input.WithInterval(config.Input.PollInterval),
		input.WithVolumeRate(config.Input.VolumePerSec),
		input.WithObserver(metrics))

	return svcs, nil
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	if svcs.poller != nil {
		g.Go(func() error {
			return svcs.poller.Start(gCtx)
		})
	}

	logger.Info("spotiknob started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("spotiknob stopped with error", zap.Error(err))
		return err
	}

	logger.Info("spotiknob stopped gracefully")
	return nil
}

func validateConfig(cfg *core.Config) error {
	if cfg.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}

	if cfg.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}

	if cfg.Spotify.Timeout <= 0 {
		return fmt.Errorf("spotify timeout must be positive, got %s", cfg.Spotify.Timeout)
	}

	if cfg.Input.Enabled && cfg.Input.PollInterval <= 0 {
		return fmt.Errorf("input poll interval must be positive, got %s", cfg.Input.PollInterval)
	}

	return nil
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

// envSections groups flags for the generated example file.
var envSections = []struct {
	title string
	flags []string
}{
	{"Spotify Application (required)", []string{"spotify-client-id", "spotify-client-secret", "spotify-redirect-url", "spotify-timeout"}},
	{"HTTP Server", []string{"server-host", "server-port", "server-read-timeout", "server-write-timeout"}},
	{"Hardware Input", []string{"input-enabled", "input-poll-interval", "input-gpio-base", "input-button-pins",
		"input-encoder-path", "input-volume-step", "input-volume-rate"}},
	{"Logging", []string{"log-level"}},
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# spotiknob Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SECTION>_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n\n")

	for _, section := range envSections {
		content.WriteString("# -----------------------------------------------------------------------------\n")
		fmt.Fprintf(&content, "# %s\n", section.title)
		content.WriteString("# -----------------------------------------------------------------------------\n")
		for _, name := range section.flags {
			flag := cmd.PersistentFlags().Lookup(name)
			if flag == nil {
				continue
			}
			writeEnvLine(&content, flag)
		}
		content.WriteString("\n")
	}

	content.WriteString("# Register the redirect URL above in the Spotify developer dashboard,\n")
	content.WriteString("# then open http://<host>:<port>/login in a browser to authorize.\n")

	return content.String()
}

func writeEnvLine(content *strings.Builder, flag *pflag.Flag) {
	fmt.Fprintf(content, "# %s\n", flag.Usage)
	fmt.Fprintf(content, "%s=%s\n", flagToEnvVar(flag.Name), flag.DefValue)
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
