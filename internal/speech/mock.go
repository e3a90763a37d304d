package speech

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/vtutor/internal/audio"
)

const mockSampleRate = 16000

// Mock renders a tone whose length follows the text, one syllable-ish pulse
// per word, so mouth animation has something to follow without a provider.
type Mock struct {
	OutDir string
	// PerRune is the audio length per character of input.
	PerRune time.Duration
}

func NewMock(outDir string) *Mock {
	if outDir == "" {
		outDir = os.TempDir()
	}
	return &Mock{OutDir: outDir, PerRune: 60 * time.Millisecond}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Synthesize(ctx context.Context, text string) (Asset, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Asset{}, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	start := time.Now()

	frames := int(time.Duration(utf8.RuneCountInString(text)) * m.PerRune * mockSampleRate / time.Second)
	frames = max(frames, audio.ChunkFrames)
	words := max(len(strings.Fields(text)), 1)

	samples := make([]int16, frames)
	for i := range samples {
		pos := float64(i) / float64(frames)
		envelope := math.Abs(math.Sin(math.Pi * pos * float64(words)))
		tone := math.Sin(2 * math.Pi * 220 * float64(i) / mockSampleRate)
		samples[i] = int16(12000 * envelope * tone)
	}

	data, err := audio.EncodeWAV(audio.Clip{SampleRate: mockSampleRate, Channels: 1, Samples: samples})
	if err != nil {
		return Asset{}, err
	}
	path := assetPath(m.OutDir, ".wav")
	if err := audio.WriteFileAtomic(path, data); err != nil {
		return Asset{}, fmt.Errorf("write mock audio: %w", err)
	}
	return Asset{Path: path, Provider: m.Name(), Gain: 1, SynthesisMS: elapsedMS(start)}, nil
}
