package audio

import (
	"encoding/binary"
	"math"
)

// MaxLevel is the top of the loudness reporting range shared with the
// silence detector's threshold units.
const MaxLevel = 255

// RMS computes the root-mean-square amplitude of samples normalized to [-1, 1].
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		sumSquares += s * s
	}

	return math.Sqrt(sumSquares / float64(len(samples)))
}

// RMSPCM16 computes the root-mean-square amplitude of little-endian signed
// 16-bit PCM, normalized to [-1, 1].
func RMSPCM16(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	numSamples := len(pcm) / 2
	var sumSquares float64

	for i := 0; i < numSamples; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768.0
		sumSquares += sample * sample
	}

	return math.Sqrt(sumSquares / float64(numSamples))
}

// Level scales a normalized RMS amplitude to the 0-255 reporting range,
// clamped at MaxLevel.
func Level(rms float64) int {
	level := int(rms * MaxLevel)
	if level > MaxLevel {
		return MaxLevel
	}
	if level < 0 {
		return 0
	}
	return level
}
