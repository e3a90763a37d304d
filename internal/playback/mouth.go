package playback

import "math"

const mouthScale = 100

// MouthLevel maps a raw RMS sample linearly onto 0..100 against ceiling.
func MouthLevel(rms, ceiling float64) float64 {
	if ceiling <= 0 || math.IsNaN(rms) || rms <= 0 {
		return 0
	}
	return math.Min(rms/ceiling*mouthScale, mouthScale)
}

// MouthValue applies the provider gain to MouthLevel. The result is not
// capped; the parameter registry rejects values outside the declared range.
func MouthValue(rms, ceiling, gain float64) float64 {
	if gain <= 0 {
		gain = 1
	}
	return MouthLevel(rms, ceiling) * gain
}
