package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/config"
	"github.com/ent0n29/vtutor/internal/speech"
)

type voiceSetup struct {
	synth            speech.Synthesizer
	resolvedProvider string
	detail           string
}

// resolveSynthesizer picks the speech provider once at startup. In auto
// mode the first provider with credentials wins and mock is the last resort.
// An explicitly named provider that cannot be built is an error.
func resolveSynthesizer(ctx context.Context, cfg config.Config, log zerolog.Logger) (voiceSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	tryListnr := func() (voiceSetup, error) {
		p, err := speech.NewListnr(speech.ListnrConfig{
			APIKey:      cfg.ListnrAPIKey,
			BaseURL:     cfg.ListnrBaseURL,
			Gender:      cfg.VoiceGender,
			AudioFormat: cfg.ListnrAudioFormat,
			OutDir:      cfg.AudioDir,
		})
		if err != nil {
			return voiceSetup{}, fmt.Errorf("listnr provider init failed: %w", err)
		}
		voice, _ := speech.VoiceForGender(cfg.VoiceGender)
		return voiceSetup{synth: p, resolvedProvider: p.Name(), detail: "listnr rest (" + voice + ")"}, nil
	}

	tryGemini := func() (voiceSetup, error) {
		p, err := speech.NewGemini(ctx, speech.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiTTSModel,
			Voice:  cfg.GeminiTTSVoice,
			OutDir: cfg.AudioDir,
		})
		if err != nil {
			return voiceSetup{}, fmt.Errorf("gemini provider init failed: %w", err)
		}
		return voiceSetup{synth: p, resolvedProvider: p.Name(), detail: "gemini sdk (" + cfg.GeminiTTSModel + ", " + cfg.GeminiTTSVoice + ")"}, nil
	}

	mock := func(detail string) voiceSetup {
		return voiceSetup{synth: speech.NewMock(cfg.AudioDir), resolvedProvider: "mock", detail: detail}
	}

	switch mode {
	case "listnr":
		return tryListnr()
	case "gemini":
		return tryGemini()
	case "mock":
		return mock("mock tone generator"), nil
	case "auto":
		if cfg.ListnrAPIKey != "" {
			return tryListnr()
		}
		if cfg.GeminiAPIKey != "" {
			return tryGemini()
		}
		log.Warn().Msg("no speech provider credentials set, using mock voice")
		return mock("mock (no listnr or gemini key)"), nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|listnr|gemini|mock)", cfg.VoiceProvider)
	}
}
