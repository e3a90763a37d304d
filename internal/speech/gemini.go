package speech

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ent0n29/vtutor/internal/audio"
)

const (
	geminiName       = "gemini"
	geminiGain       = 1.6
	geminiSampleRate = 24000
)

// contentGenerator is the slice of the genai client the provider needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey string
	Model  string
	Voice  string
	OutDir string
}

// Gemini synthesizes through the genai SDK and writes the returned PCM as WAV.
type Gemini struct {
	models contentGenerator
	model  string
	voice  string
	outDir string
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingCredentials)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiWith(client.Models, cfg)
}

func newGeminiWith(models contentGenerator, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.Voice) == "" {
		return nil, fmt.Errorf("%w: GEMINI_TTS_VOICE is empty", ErrUnsupportedVoice)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-preview-tts"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = os.TempDir()
	}
	return &Gemini{models: models, model: cfg.Model, voice: cfg.Voice, outDir: cfg.OutDir}, nil
}

func (g *Gemini) Name() string { return geminiName }

func (g *Gemini) Synthesize(ctx context.Context, text string) (Asset, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Asset{}, ErrEmptyText
	}
	start := time.Now()

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voice},
			},
		},
	})
	if err != nil {
		return Asset{}, providerErr(geminiName, "generate", err)
	}

	pcm, rate := inlineAudio(resp)
	if len(pcm) == 0 {
		return Asset{}, providerErr(geminiName, "empty_audio", ErrEmptyResponse)
	}
	data, err := audio.EncodeWAV(audio.ClipFromPCM16LE(pcm, rate, 1))
	if err != nil {
		return Asset{}, err
	}
	path := assetPath(g.outDir, ".wav")
	if err := audio.WriteFileAtomic(path, data); err != nil {
		return Asset{}, fmt.Errorf("write gemini audio: %w", err)
	}
	return Asset{Path: path, Provider: geminiName, Gain: geminiGain, SynthesisMS: elapsedMS(start)}, nil
}

// inlineAudio concatenates every inline audio part of the first candidate.
func inlineAudio(resp *genai.GenerateContentResponse) ([]byte, int) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, 0
	}
	rate := geminiSampleRate
	var pcm []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		if r := mimeRate(part.InlineData.MIMEType); r > 0 {
			rate = r
		}
		pcm = append(pcm, part.InlineData.Data...)
	}
	return pcm, rate
}

// mimeRate extracts rate from e.g. "audio/L16;codec=pcm;rate=24000".
func mimeRate(mime string) int {
	for _, field := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
