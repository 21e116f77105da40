package codec

import "fmt"

// PCMDecoder passes raw S16LE mono PCM through unchanged at a declared rate.
// Non-16kHz rates exercise the resample step downstream.
type PCMDecoder struct {
	rate int
}

// NewPCMDecoder creates a pass-through decoder for raw S16LE PCM.
func NewPCMDecoder(rate int) *PCMDecoder {
	return &PCMDecoder{rate: rate}
}

// Rate reports the declared sample rate.
func (d *PCMDecoder) Rate() int { return d.rate }

// Decode validates sample alignment and returns the buffer unchanged.
func (d *PCMDecoder) Decode(encoded []byte) ([]byte, error) {
	if len(encoded)%2 != 0 {
		return nil, fmt.Errorf("pcm: truncated sample")
	}
	return encoded, nil
}
