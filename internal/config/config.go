package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar speech service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	VTSURL             string
	VTSPluginName      string
	VTSPluginDeveloper string
	VTSTokenStore      string
	VTSTokenFile       string
	VTSPingInterval    time.Duration
	VTSPingTimeout     time.Duration
	VTSRequestTimeout  time.Duration
	VTSReconnectBase   time.Duration
	VTSReconnectMax    time.Duration

	AvatarProfile string

	VoiceProvider string
	VoiceGender   string

	ListnrAPIKey      string
	ListnrBaseURL     string
	ListnrAudioFormat string

	GeminiAPIKey   string
	GeminiTTSModel string
	GeminiTTSVoice string

	AudioOutput         string
	AudioDir            string
	PlaybackWorkers     int
	MouthParameter      string
	MouthSampleInterval time.Duration
	MouthReferenceRMS   float64

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "vtutor"),
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("APP_LOG_FORMAT", "console"),
		VTSURL:             envOrDefault("VTS_URL", "ws://localhost:8001"),
		VTSPluginName:      envOrDefault("VTS_PLUGIN_NAME", "Assistant"),
		VTSPluginDeveloper: envOrDefault("VTS_PLUGIN_DEVELOPER", "AlekGreen"),
		VTSTokenStore:      strings.ToLower(envOrDefault("VTS_TOKEN_STORE", "file")),
		VTSTokenFile:       envOrDefault("VTS_TOKEN_FILE", "vts_auth_token.txt"),
		AvatarProfile:      envTrimmed("AVATAR_PROFILE"),
		VoiceProvider:      strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),
		VoiceGender:        strings.ToLower(envOrDefault("VOICE_GENDER", "female")),
		ListnrAPIKey:       envTrimmed("LISTNR_API_KEY"),
		ListnrBaseURL:      envOrDefault("LISTNR_BASE_URL", "https://bff.listnr.tech/api/tts/v1"),
		ListnrAudioFormat:  strings.ToLower(envOrDefault("LISTNR_AUDIO_FORMAT", "wav")),
		GeminiAPIKey:       envTrimmed("GEMINI_API_KEY"),
		GeminiTTSModel:     envOrDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		GeminiTTSVoice:     envOrDefault("GEMINI_TTS_VOICE", "Kore"),
		AudioOutput:        strings.ToLower(envOrDefault("AUDIO_OUTPUT", "portaudio")),
		AudioDir:           envOrDefault("AUDIO_DIR", os.TempDir()),
		MouthParameter:     envOrDefault("MOUTH_PARAMETER", "CustomSoundTracker"),
		DatabaseURL:        envTrimmed("DATABASE_URL"),

		ShutdownTimeout:     15 * time.Second,
		VTSPingInterval:     10 * time.Second,
		VTSPingTimeout:      10 * time.Second,
		VTSRequestTimeout:   10 * time.Second,
		VTSReconnectBase:    time.Second,
		VTSReconnectMax:     60 * time.Second,
		PlaybackWorkers:     1,
		MouthSampleInterval: 20 * time.Millisecond,
		MouthReferenceRMS:   32768,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"VTS_PING_INTERVAL", &cfg.VTSPingInterval},
		{"VTS_PING_TIMEOUT", &cfg.VTSPingTimeout},
		{"VTS_REQUEST_TIMEOUT", &cfg.VTSRequestTimeout},
		{"VTS_RECONNECT_BASE", &cfg.VTSReconnectBase},
		{"VTS_RECONNECT_MAX", &cfg.VTSReconnectMax},
		{"MOUTH_SAMPLE_INTERVAL", &cfg.MouthSampleInterval},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.PlaybackWorkers, err = intFromEnv("PLAYBACK_WORKERS", cfg.PlaybackWorkers)
	if err != nil {
		return Config{}, err
	}
	cfg.MouthReferenceRMS, err = floatFromEnv("MOUTH_REFERENCE_RMS", cfg.MouthReferenceRMS)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.VTSPingInterval < time.Second {
		return fmt.Errorf("VTS_PING_INTERVAL must be at least 1s")
	}
	if c.VTSPingTimeout <= 0 || c.VTSRequestTimeout <= 0 {
		return fmt.Errorf("VTS_PING_TIMEOUT and VTS_REQUEST_TIMEOUT must be positive")
	}
	if c.VTSReconnectBase <= 0 {
		return fmt.Errorf("VTS_RECONNECT_BASE must be positive")
	}
	if c.VTSReconnectMax < c.VTSReconnectBase {
		return fmt.Errorf("VTS_RECONNECT_MAX must be >= VTS_RECONNECT_BASE")
	}
	if c.PlaybackWorkers < 1 || c.PlaybackWorkers > 2 {
		return fmt.Errorf("PLAYBACK_WORKERS must be 1 or 2")
	}
	if c.MouthSampleInterval < time.Millisecond {
		return fmt.Errorf("MOUTH_SAMPLE_INTERVAL must be at least 1ms")
	}
	if c.MouthReferenceRMS <= 0 {
		return fmt.Errorf("MOUTH_REFERENCE_RMS must be positive")
	}
	switch c.VTSTokenStore {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("VTS_TOKEN_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("VTS_TOKEN_STORE must be file or postgres")
	}
	switch c.VoiceProvider {
	case "auto", "listnr", "gemini", "mock":
	default:
		return fmt.Errorf("VOICE_PROVIDER must be one of auto, listnr, gemini, mock")
	}
	if c.ListnrAudioFormat != "wav" {
		return fmt.Errorf("LISTNR_AUDIO_FORMAT must be wav, the only format the player decodes")
	}
	switch c.AudioOutput {
	case "portaudio", "silent":
	default:
		return fmt.Errorf("AUDIO_OUTPUT must be portaudio or silent")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := envTrimmed(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
