package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/vtutor/internal/audio"
	"github.com/ent0n29/vtutor/internal/reliability"
)

const (
	listnrName        = "listnr"
	listnrGain        = 1.2
	listnrMaxAudioLen = 64 << 20
)

var listnrVoices = map[string]string{
	"female": "kk-KZ-AigulNeural",
	"male":   "kk-KZ-DauletNeural",
}

// VoiceForGender maps a gender selector to a Listnr voice name.
func VoiceForGender(gender string) (string, error) {
	v, ok := listnrVoices[strings.ToLower(strings.TrimSpace(gender))]
	if !ok {
		return "", fmt.Errorf("%w: gender %q", ErrUnsupportedVoice, gender)
	}
	return v, nil
}

type ListnrConfig struct {
	APIKey      string
	BaseURL     string
	Gender      string
	AudioFormat string
	OutDir      string
	HTTPClient  *http.Client
}

// Listnr is the cloud REST provider: one POST that returns an audio URL,
// then a GET of that URL.
type Listnr struct {
	apiKey   string
	baseURL  string
	voice    string
	format   string
	outDir   string
	http     *http.Client
	maxAudio int64
}

func NewListnr(cfg ListnrConfig) (*Listnr, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: LISTNR_API_KEY is not set", ErrMissingCredentials)
	}
	voice, err := VoiceForGender(cfg.Gender)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://bff.listnr.tech/api/tts/v1"
	}
	switch cfg.AudioFormat = strings.ToLower(strings.TrimSpace(cfg.AudioFormat)); cfg.AudioFormat {
	case "":
		cfg.AudioFormat = "wav"
	case "wav":
	default:
		return nil, fmt.Errorf("%w: %q (only wav can be played)", ErrUnsupportedFormat, cfg.AudioFormat)
	}
	if cfg.OutDir == "" {
		cfg.OutDir = os.TempDir()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Listnr{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		voice:    voice,
		format:   cfg.AudioFormat,
		outDir:   cfg.OutDir,
		http:     cfg.HTTPClient,
		maxAudio: listnrMaxAudioLen,
	}, nil
}

func (l *Listnr) Name() string { return listnrName }

type listnrConvertRequest struct {
	Voice       string `json:"voice"`
	SSML        string `json:"ssml"`
	AudioFormat string `json:"audioFormat"`
}

type listnrConvertResponse struct {
	URL string `json:"url"`
}

func (l *Listnr) Synthesize(ctx context.Context, text string) (Asset, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Asset{}, ErrEmptyText
	}
	start := time.Now()

	audioURL, err := l.convert(ctx, text)
	if err != nil {
		return Asset{}, err
	}
	data, err := l.fetch(ctx, audioURL)
	if err != nil {
		return Asset{}, err
	}
	if _, err := audio.DecodeWAV(data); err != nil {
		return Asset{}, providerErr(listnrName, "bad_audio", err)
	}

	path := assetPath(l.outDir, "."+l.format)
	if err := audio.WriteFileAtomic(path, data); err != nil {
		return Asset{}, fmt.Errorf("write listnr audio: %w", err)
	}
	return Asset{Path: path, Provider: listnrName, Gain: listnrGain, SynthesisMS: elapsedMS(start)}, nil
}

func (l *Listnr) convert(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(listnrConvertRequest{
		Voice:       l.voice,
		SSML:        wrapSSML(text),
		AudioFormat: l.format,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/convert-text", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-listnr-token", l.apiKey)

	resp, err := l.http.Do(req)
	if err != nil {
		return "", providerErr(listnrName, "transport", err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return "", err
	}

	var out listnrConvertResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", providerErr(listnrName, "decode", err)
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", providerErr(listnrName, "empty_url", ErrEmptyResponse)
	}
	return out.URL, nil
}

func (l *Listnr) fetch(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, providerErr(listnrName, "bad_url", err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, providerErr(listnrName, "transport", err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxAudio+1))
	if err != nil {
		return nil, providerErr(listnrName, "read", err)
	}
	if int64(len(data)) > l.maxAudio {
		return nil, providerErr(listnrName, "audio_too_large", fmt.Errorf("audio exceeds %d bytes", l.maxAudio))
	}
	if len(data) == 0 {
		return nil, providerErr(listnrName, "empty_audio", ErrEmptyResponse)
	}
	return data, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	code := fmt.Sprintf("http_%d", resp.StatusCode)
	err := fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
		err = errors.Join(err, errProviderUnavailable)
	}
	return providerErr(listnrName, code, err)
}

// errProviderUnavailable tags upstream failures worth retrying at a higher level.
var errProviderUnavailable = errors.New("provider temporarily unavailable")

// IsTemporary reports whether err came from an upstream outage or throttling.
func IsTemporary(err error) bool {
	return errors.Is(err, errProviderUnavailable)
}

func wrapSSML(text string) string {
	var b strings.Builder
	b.WriteString("<speak><p>")
	_ = xml.EscapeText(&b, []byte(text))
	b.WriteString("</p></speak>")
	return b.String()
}
