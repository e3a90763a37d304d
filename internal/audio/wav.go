package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

var ErrUnsupportedWAV = errors.New("unsupported wav")

// Clip is decoded 16-bit PCM audio. Samples are interleaved by channel.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames is the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// ClipFromPCM16LE wraps raw little-endian PCM16 bytes.
func ClipFromPCM16LE(pcm []byte, sampleRate, channels int) Clip {
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return Clip{SampleRate: sampleRate, Channels: channels, Samples: samples}
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedWAV)
	}

	var (
		clip     Clip
		haveFmt  bool
		pcm      []byte
		havePCM  bool
		format   uint16
		bitDepth uint16
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			clip.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bitDepth = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			pcm = data[body:end]
			havePCM = true
		}

		pos = body + size
		if size%2 != 0 {
			pos++
		}
	}

	if !haveFmt || !havePCM {
		return Clip{}, fmt.Errorf("%w: missing fmt or data chunk", ErrUnsupportedWAV)
	}
	// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; providers use it for plain PCM as well.
	if format != 1 && format != 0xFFFE {
		return Clip{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, format)
	}
	if bitDepth != 16 {
		return Clip{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, bitDepth)
	}
	if clip.Channels <= 0 || clip.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedWAV, clip.Channels, clip.SampleRate)
	}

	decoded := ClipFromPCM16LE(pcm, clip.SampleRate, clip.Channels)
	return decoded, nil
}

func ReadWAVFile(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, err
	}
	return DecodeWAV(data)
}

// EncodeWAV serialises clip as a canonical 44-byte-header WAV.
func EncodeWAV(clip Clip) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, clip); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteWAVTo(out io.Writer, clip Clip) error {
	const bitsPerSample = 16
	channels := clip.Channels
	if channels <= 0 {
		channels = 1
	}
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(clip.Samples) * 2)
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36) + dataSize,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * channels * bitsPerSample / 8),
		uint16(channels * bitsPerSample / 8),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}

	w := bufio.NewWriter(out)
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, clip.Samples); err != nil {
		return err
	}
	return w.Flush()
}

// WriteFileAtomic writes data next to path and renames it into place, so
// the file is only visible once complete.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
