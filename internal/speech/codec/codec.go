package codec

import (
	"fmt"
	"mime"
	"strconv"
)

// Decoder converts encoded capture chunks into S16LE mono PCM. A decoder
// instance carries codec state across sequential Decode calls within one
// capture sub-session; create a fresh instance per utterance or stream.
type Decoder interface {
	// Decode appends the decoded PCM for one encoded buffer. Truncated or
	// corrupt input returns an error; callers decide whether that is fatal.
	Decode(encoded []byte) ([]byte, error)
	// Rate reports the sample rate of the decoded PCM.
	Rate() int
}

// ForMIME creates a decoder for a capture codec MIME type. Supported types
// are "audio/opus" (length-prefixed packets, decoded to 16kHz mono) and
// "audio/pcm" with an optional rate parameter (raw S16LE pass-through).
func ForMIME(mimeType string) (Decoder, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil, fmt.Errorf("codec %q: %w", mimeType, err)
	}

	switch mediaType {
	case "audio/opus":
		return NewOpusDecoder(), nil
	case "audio/pcm":
		rate := 16000
		if v, ok := params["rate"]; ok {
			rate, err = strconv.Atoi(v)
			if err != nil || rate <= 0 {
				return nil, fmt.Errorf("codec %q: bad rate parameter", mimeType)
			}
		}
		return NewPCMDecoder(rate), nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", mimeType)
	}
}
