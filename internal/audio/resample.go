package audio

import (
	"encoding/binary"
)

// Resample converts little-endian signed 16-bit mono PCM between sample rates
// using linear interpolation. The input is returned unchanged when the rates
// already match.
func Resample(in []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return in
	}

	inSamples := len(in) / 2
	if inSamples < 2 || fromRate <= 0 || toRate <= 0 {
		return nil
	}

	ratio := float64(fromRate) / float64(toRate)
	outSamples := int(float64(inSamples) * float64(toRate) / float64(fromRate))
	out := make([]byte, outSamples*2)

	for i := 0; i < outSamples; i++ {
		// Source position in the input stream (fractional).
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := readSample(in, srcIdx)
		s1 := readSample(in, srcIdx+1)

		// Linear interpolation.
		sample := int16(float64(s0) + frac*(float64(s1)-float64(s0)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}

	return out
}

func readSample(buf []byte, idx int) int16 {
	off := idx * 2
	if off+1 >= len(buf) {
		// Clamp to last sample.
		off = len(buf) - 2
	}
	if off < 0 {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(buf[off:]))
}
