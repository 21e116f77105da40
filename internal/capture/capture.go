package capture

import (
	"context"
	"time"
)

// Chunk is one interval's worth of encoded audio from a capture device. The
// sequence index is monotonic for the life of the device.
type Chunk struct {
	Seq  uint64
	Data []byte
}

// Constraints describe the capture stream a session asks for.
type Constraints struct {
	Channels         int
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints matches the transcription pipeline's input contract:
// mono 16kHz with the browser-style processing toggles on.
func DefaultConstraints() Constraints {
	return Constraints{
		Channels:         1,
		SampleRate:       16000,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Analyser exposes a pollable window of recent time-domain samples
// normalized to [-1, 1]. Reads never block.
type Analyser interface {
	// Samples copies the most recent samples into dst, newest last, and
	// returns how many were copied.
	Samples(dst []float64) int
}

// Device is a live capture stream. Start and Stop delimit capture
// sub-sessions on a single underlying stream: Stop flushes the current
// partial chunk through the data callback before returning, and a later
// Start resumes chunk delivery without reacquiring the stream.
type Device interface {
	// OnData registers the chunk callback. Register before the first Start.
	OnData(fn func(Chunk))
	// Start begins a capture sub-session delivering one chunk per interval.
	Start(interval time.Duration) error
	// Stop ends the current sub-session after flushing the partial chunk.
	Stop() error
	// IsActive reports whether the underlying stream is still live. It goes
	// false when the transport drops, independent of Start/Stop cycles.
	IsActive() bool
	// Codec reports the MIME type of chunk payloads.
	Codec() string
	// Analyser returns the level analysis tap on the stream.
	Analyser() Analyser
	// Close releases the device. Safe to call more than once.
	Close() error
}

// Provider acquires a capture device for a session.
type Provider interface {
	RequestCapture(ctx context.Context, c Constraints) (Device, error)
}

// errors
var (
	ErrDeviceClosed    = &CaptureError{"capture device closed"}
	ErrNoDevice        = &CaptureError{"no capture device attached"}
	ErrAlreadyAttached = &CaptureError{"capture device already attached"}
)

// CaptureError is a simple error type for capture operations.
type CaptureError struct {
	msg string
}

func (e *CaptureError) Error() string { return e.msg }
