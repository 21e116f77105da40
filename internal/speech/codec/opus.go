package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/opus"
)

// OpusDecoder decodes length-prefixed Opus packets (2-byte big-endian packet
// size followed by the packet) into 16kHz mono S16LE PCM. Capture devices
// frame packets this way so chunk buffers survive concatenation.
type OpusDecoder struct {
	decoder  *opus.Decoder
	pcmBuf48 []byte // 48kHz decoded samples
	pcmBuf16 []byte // 16kHz downsampled output
}

// NewOpusDecoder creates a decoder for length-prefixed Opus chunks.
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{
		decoder:  &opus.Decoder{},
		pcmBuf48: make([]byte, 960*2*2), // 20ms at 48kHz stereo = 1920 samples * 2 bytes
		pcmBuf16: make([]byte, 320*2),   // 20ms at 16kHz mono = 320 samples * 2 bytes
	}
}

// Rate reports the decoded sample rate.
func (d *OpusDecoder) Rate() int { return 16000 }

// Decode walks the framed packets in the buffer and returns their decoded,
// downsampled PCM. A packet cut short by a mid-frame capture stop yields an
// error; decoded audio up to that point is discarded by the caller.
func (d *OpusDecoder) Decode(encoded []byte) ([]byte, error) {
	var out []byte

	for len(encoded) > 0 {
		if len(encoded) < 2 {
			return nil, fmt.Errorf("opus: truncated packet header")
		}
		size := int(binary.BigEndian.Uint16(encoded))
		encoded = encoded[2:]
		if size == 0 {
			continue
		}
		if len(encoded) < size {
			return nil, fmt.Errorf("opus: truncated packet (%d of %d bytes)", len(encoded), size)
		}

		pcm, err := d.decodePacket(encoded[:size])
		if err != nil {
			return nil, fmt.Errorf("opus: %w", err)
		}
		out = append(out, pcm...)
		encoded = encoded[size:]
	}

	return out, nil
}

// decodePacket decodes one Opus packet and downsamples 48kHz to 16kHz
// (ratio 3:1), averaging channels when the packet is stereo.
func (d *OpusDecoder) decodePacket(packet []byte) ([]byte, error) {
	_, isStereo, err := d.decoder.Decode(packet, d.pcmBuf48)
	if err != nil {
		return nil, err
	}

	channels := 1
	if isStereo {
		channels = 2
	}
	samplesPerChannel := 960 // 20ms at 48kHz
	outSamples := samplesPerChannel / 3

	if len(d.pcmBuf16) < outSamples*2 {
		d.pcmBuf16 = make([]byte, outSamples*2)
	}

	for i := 0; i < outSamples; i++ {
		srcIdx := i * 3 * channels * 2 // source sample offset (S16LE, 2 bytes per sample)
		if srcIdx+1 >= len(d.pcmBuf48) {
			break
		}
		sample := int16(binary.LittleEndian.Uint16(d.pcmBuf48[srcIdx:]))
		if isStereo && srcIdx+3 < len(d.pcmBuf48) {
			// Average left and right channels for mono output.
			right := int16(binary.LittleEndian.Uint16(d.pcmBuf48[srcIdx+2:]))
			sample = int16((int32(sample) + int32(right)) / 2)
		}
		binary.LittleEndian.PutUint16(d.pcmBuf16[i*2:], uint16(sample))
	}

	return d.pcmBuf16[:outSamples*2], nil
}

// FrameOpusPacket appends one packet in the decoder's framing: a 2-byte
// big-endian size prefix followed by the packet bytes.
func FrameOpusPacket(dst, packet []byte) []byte {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(packet)))
	dst = append(dst, hdr[:]...)
	return append(dst, packet...)
}
