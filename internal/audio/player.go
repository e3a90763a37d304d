package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// LevelFunc receives the RMS of each chunk just before it is played.
type LevelFunc func(rms float64)

// Player renders a clip to an output, blocking until it finished.
type Player interface {
	Play(ctx context.Context, clip Clip, level LevelFunc) error
}

// PortAudioPlayer writes to the default output device.
type PortAudioPlayer struct {
	once    sync.Once
	initErr error
	started atomic.Bool
}

func NewPortAudioPlayer() *PortAudioPlayer {
	return &PortAudioPlayer{}
}

func (p *PortAudioPlayer) init() error {
	p.once.Do(func() {
		if err := portaudio.Initialize(); err != nil {
			p.initErr = fmt.Errorf("initialize portaudio: %w", err)
			return
		}
		p.started.Store(true)
	})
	return p.initErr
}

func (p *PortAudioPlayer) Play(ctx context.Context, clip Clip, level LevelFunc) error {
	if err := p.init(); err != nil {
		return err
	}
	channels := max(clip.Channels, 1)
	buffer := make([]float32, ChunkFrames*channels)

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(clip.SampleRate), ChunkFrames, &buffer)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	for _, chunk := range clip.Chunks() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range buffer {
			if i < len(chunk) {
				buffer[i] = float32(chunk[i]) / 32768.0
			} else {
				buffer[i] = 0
			}
		}
		if level != nil {
			level(RMS(chunk))
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

// Close releases PortAudio if it was initialised.
func (p *PortAudioPlayer) Close() error {
	if !p.started.Load() {
		return nil
	}
	return portaudio.Terminate()
}

// SilentPlayer discards audio but keeps the level callbacks paced like a
// real device. Pace scales wall time; 0 runs as fast as possible.
type SilentPlayer struct {
	Pace float64
}

func (p SilentPlayer) Play(ctx context.Context, clip Clip, level LevelFunc) error {
	chunkDur := time.Duration(0)
	if clip.SampleRate > 0 && p.Pace > 0 {
		chunkDur = time.Duration(float64(ChunkFrames) / float64(clip.SampleRate) * p.Pace * float64(time.Second))
	}
	for _, chunk := range clip.Chunks() {
		if level != nil {
			level(RMS(chunk))
		}
		if chunkDur <= 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		t := time.NewTimer(chunkDur)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
