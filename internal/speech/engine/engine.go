package engine

import (
	"context"
)

// Options carries per-utterance transcription options.
type Options struct {
	Model     string
	Language  string
	Translate bool
}

// Result is the finalized transcription of one utterance.
type Result struct {
	Text       string
	Confidence float32
	Language   string
}

// ModelInfo describes an available model for a backend.
type ModelInfo struct {
	ID          string
	DisplayName string
	IsDefault   bool
}

// Transcriber converts one utterance of 16kHz mono 16-bit PCM into text.
// Implementations are safe for sequential reuse across utterances; the
// caller guarantees at most one Transcribe call is in flight per instance.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, opts Options) (Result, error)
	Models() []ModelInfo
	Close() error
}
