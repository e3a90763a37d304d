package speech

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingCredentials = errors.New("speech provider credentials missing")
	ErrUnsupportedVoice   = errors.New("unsupported voice")
	ErrUnsupportedFormat  = errors.New("unsupported audio format")
	ErrEmptyResponse      = errors.New("speech provider returned no audio")
	ErrEmptyText          = errors.New("text is empty")
)

// Asset is a fully written audio file ready for playback.
type Asset struct {
	Path     string
	Provider string
	// Gain scales loudness-derived mouth values for this provider's output level.
	Gain        float64
	SynthesisMS int64
}

// Synthesizer turns text into a playable audio file. Failures are returned,
// never replaced by another provider's output.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Asset, error)
}

// ProviderError carries a short code for metrics next to the cause.
type ProviderError struct {
	Provider string
	Code     string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Provider + " " + e.Code + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(provider, code string, err error) error {
	return &ProviderError{Provider: provider, Code: code, Err: err}
}

// assetPath returns a collision-free file name under dir.
func assetPath(dir, ext string) string {
	return filepath.Join(dir, "utt-"+uuid.NewString()+ext)
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
