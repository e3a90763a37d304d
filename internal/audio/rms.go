package audio

import "math"

// ChunkFrames is the playback and loudness analysis granularity.
const ChunkFrames = 1024

// RMS is the root-mean-square of the samples, in PCM16 units.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Chunks splits the interleaved samples into ChunkFrames-sized windows.
func (c Clip) Chunks() [][]int16 {
	step := ChunkFrames * max(c.Channels, 1)
	out := make([][]int16, 0, len(c.Samples)/step+1)
	for off := 0; off < len(c.Samples); off += step {
		out = append(out, c.Samples[off:min(off+step, len(c.Samples))])
	}
	return out
}
