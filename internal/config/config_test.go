package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VTSURL != "ws://localhost:8001" {
		t.Fatalf("VTSURL = %q, want ws://localhost:8001", cfg.VTSURL)
	}
	if cfg.VTSPluginName != "Assistant" || cfg.VTSPluginDeveloper != "AlekGreen" {
		t.Fatalf("plugin identity = %q/%q", cfg.VTSPluginName, cfg.VTSPluginDeveloper)
	}
	if cfg.VTSPingInterval != 10*time.Second || cfg.VTSPingTimeout != 10*time.Second {
		t.Fatalf("ping = %v/%v, want 10s/10s", cfg.VTSPingInterval, cfg.VTSPingTimeout)
	}
	if cfg.VTSReconnectBase != time.Second || cfg.VTSReconnectMax != time.Minute {
		t.Fatalf("reconnect = %v..%v, want 1s..1m", cfg.VTSReconnectBase, cfg.VTSReconnectMax)
	}
	if cfg.MouthSampleInterval != 20*time.Millisecond {
		t.Fatalf("MouthSampleInterval = %v, want 20ms", cfg.MouthSampleInterval)
	}
	if cfg.MouthParameter != "CustomSoundTracker" {
		t.Fatalf("MouthParameter = %q", cfg.MouthParameter)
	}
	if cfg.PlaybackWorkers != 1 {
		t.Fatalf("PlaybackWorkers = %d, want 1", cfg.PlaybackWorkers)
	}
	if cfg.VTSTokenStore != "file" || cfg.VoiceProvider != "auto" {
		t.Fatalf("store/provider = %q/%q", cfg.VTSTokenStore, cfg.VoiceProvider)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VTS_URL", "ws://127.0.0.1:9001")
	t.Setenv("VTS_RECONNECT_MAX", "30s")
	t.Setenv("PLAYBACK_WORKERS", "2")
	t.Setenv("MOUTH_REFERENCE_RMS", "16384")
	t.Setenv("VOICE_PROVIDER", "Listnr")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VTSURL != "ws://127.0.0.1:9001" {
		t.Fatalf("VTSURL = %q", cfg.VTSURL)
	}
	if cfg.VTSReconnectMax != 30*time.Second {
		t.Fatalf("VTSReconnectMax = %v, want 30s", cfg.VTSReconnectMax)
	}
	if cfg.PlaybackWorkers != 2 {
		t.Fatalf("PlaybackWorkers = %d, want 2", cfg.PlaybackWorkers)
	}
	if cfg.MouthReferenceRMS != 16384 {
		t.Fatalf("MouthReferenceRMS = %v, want 16384", cfg.MouthReferenceRMS)
	}
	if cfg.VoiceProvider != "listnr" {
		t.Fatalf("VoiceProvider = %q, want lowercased listnr", cfg.VoiceProvider)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, wantSubstr string
	}{
		{"PLAYBACK_WORKERS", "3", "PLAYBACK_WORKERS"},
		{"PLAYBACK_WORKERS", "x", "parse error"},
		{"VTS_RECONNECT_MAX", "500ms", "VTS_RECONNECT_MAX"},
		{"VTS_PING_INTERVAL", "soon", "parse error"},
		{"MOUTH_REFERENCE_RMS", "0", "MOUTH_REFERENCE_RMS"},
		{"VTS_TOKEN_STORE", "postgres", "DATABASE_URL"},
		{"VTS_TOKEN_STORE", "redis", "VTS_TOKEN_STORE"},
		{"VOICE_PROVIDER", "azure", "VOICE_PROVIDER"},
		{"AUDIO_OUTPUT", "alsa", "AUDIO_OUTPUT"},
		{"LISTNR_AUDIO_FORMAT", "mp3", "LISTNR_AUDIO_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSubstr) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tc.wantSubstr)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"VTS_URL",
		"VTS_PLUGIN_NAME",
		"VTS_PLUGIN_DEVELOPER",
		"VTS_TOKEN_STORE",
		"VTS_TOKEN_FILE",
		"VTS_PING_INTERVAL",
		"VTS_PING_TIMEOUT",
		"VTS_REQUEST_TIMEOUT",
		"VTS_RECONNECT_BASE",
		"VTS_RECONNECT_MAX",
		"AVATAR_PROFILE",
		"VOICE_PROVIDER",
		"VOICE_GENDER",
		"LISTNR_API_KEY",
		"LISTNR_BASE_URL",
		"LISTNR_AUDIO_FORMAT",
		"GEMINI_API_KEY",
		"GEMINI_TTS_MODEL",
		"GEMINI_TTS_VOICE",
		"AUDIO_OUTPUT",
		"AUDIO_DIR",
		"PLAYBACK_WORKERS",
		"MOUTH_PARAMETER",
		"MOUTH_SAMPLE_INTERVAL",
		"MOUTH_REFERENCE_RMS",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
