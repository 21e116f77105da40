package listen

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/itttm127/speech-to-text/internal/audio"
	"github.com/itttm127/speech-to-text/internal/capture"
	"github.com/itttm127/speech-to-text/internal/speech/codec"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
)

// blankAudioToken is the placeholder some engines return for non-speech.
const blankAudioToken = "[BLANK_AUDIO]"

// CoordinatorConfig wires a coordinator's collaborators.
type CoordinatorConfig struct {
	Engine      engine.Transcriber
	Options     engine.Options
	Codec       string // chunk MIME type, decoded fresh per utterance
	TargetRate  int
	MinDuration time.Duration
	FloorRMS    float64
	Pool        workerpool.WorkerPool
	OnSegment   func(ctx context.Context, seg Segment)
	OnError     func(ctx context.Context, err error)
}

// Coordinator is the single-flight gate between boundary hand-offs and the
// transcription engine. A hand-off accepted by Submit owns the busy flag
// until its entire decode-validate-transcribe-append path finishes, so
// segments append in boundary order and at most one utterance is ever in
// flight.
type Coordinator struct {
	cfg  CoordinatorConfig
	busy atomic.Bool
	seq  int // serialized by the busy flag
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Busy reports whether a hand-off is being processed.
func (c *Coordinator) Busy() bool {
	return c.busy.Load()
}

// Submit accepts one utterance's chunk sequence for transcription, taking
// ownership of it. It returns ErrProcessingInFlight while an earlier
// hand-off is still processing. The work runs asynchronously; ctx should
// outlive the session stop so an in-flight transcription can finish.
func (c *Coordinator) Submit(ctx context.Context, chunks []capture.Chunk) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrProcessingInFlight
	}

	fn := func() { c.process(ctx, chunks) }
	if c.cfg.Pool != nil {
		if err := c.cfg.Pool.Submit(ctx, fn); err != nil {
			// The flag must clear no matter what, so run it anyway.
			go fn()
		}
	} else {
		go fn()
	}
	return nil
}

// process runs the utterance pipeline. Every exit clears the busy flag;
// short, silent, or undecodable segments drop without surfacing an error.
func (c *Coordinator) process(ctx context.Context, chunks []capture.Chunk) {
	defer c.busy.Store(false)

	var encoded []byte
	for _, ch := range chunks {
		encoded = append(encoded, ch.Data...)
	}
	if len(encoded) == 0 {
		return
	}

	dec, err := codec.ForMIME(c.cfg.Codec)
	if err != nil {
		slog.DebugContext(ctx, "coordinator: no decoder", slog.String("error", err.Error()))
		return
	}
	pcm, err := dec.Decode(encoded)
	if err != nil {
		// Expected when capture stops mid-frame at a segment boundary.
		slog.DebugContext(ctx, "coordinator: decode failed", slog.String("error", err.Error()))
		return
	}

	samples := len(pcm) / 2
	duration := time.Duration(samples) * time.Second / time.Duration(dec.Rate())
	if duration < c.cfg.MinDuration {
		slog.DebugContext(ctx, "coordinator: segment too short",
			slog.Duration("duration", duration))
		return
	}

	if rms := audio.RMSPCM16(pcm); rms < c.cfg.FloorRMS {
		slog.DebugContext(ctx, "coordinator: segment below silence floor")
		return
	}

	pcm = audio.Resample(pcm, dec.Rate(), c.cfg.TargetRate)

	res, err := c.cfg.Engine.Transcribe(ctx, pcm, c.cfg.Options)
	if err != nil {
		slog.ErrorContext(ctx, "coordinator: engine failed", slog.String("error", err.Error()))
		if c.cfg.OnError != nil {
			c.cfg.OnError(ctx, err)
		}
		return
	}

	text := scrubText(res.Text)
	if text == "" {
		return
	}

	seg := Segment{
		Seq:        c.seq,
		Text:       text,
		Confidence: res.Confidence,
		Language:   res.Language,
		Samples:    len(pcm) / 2,
		Duration:   duration,
	}
	c.seq++

	if c.cfg.OnSegment != nil {
		c.cfg.OnSegment(ctx, seg)
	}
}

// scrubText strips the blank-audio placeholder and rejects results that are
// only whitespace or bracket noise.
func scrubText(text string) string {
	text = strings.ReplaceAll(text, blankAudioToken, "")
	text = strings.TrimSpace(text)
	if strings.Trim(text, "[] \t\r\n") == "" {
		return ""
	}
	return text
}
