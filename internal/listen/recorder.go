package listen

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/itttm127/speech-to-text/internal/capture"
)

// Recorder owns the capture device for a session. It buffers delivered
// chunks into the current utterance and, on each boundary, stops the
// capture sub-session, hands the buffer off, and resumes capture. The next
// sub-session starts only after the hand-off decision, so chunks from two
// utterances never interleave.
type Recorder struct {
	device   capture.Device
	interval time.Duration
	submit   func(ctx context.Context, chunks []capture.Chunk) error

	mu     sync.Mutex
	chunks []capture.Chunk
}

// NewRecorder wires a recorder to its device and hand-off target.
func NewRecorder(device capture.Device, interval time.Duration, submit func(ctx context.Context, chunks []capture.Chunk) error) *Recorder {
	r := &Recorder{
		device:   device,
		interval: interval,
		submit:   submit,
	}
	device.OnData(r.append)
	return r
}

func (r *Recorder) append(c capture.Chunk) {
	r.mu.Lock()
	r.chunks = append(r.chunks, c)
	r.mu.Unlock()
}

// Start begins the first capture sub-session.
func (r *Recorder) Start() error {
	return r.device.Start(r.interval)
}

// Buffered reports how many chunks the current utterance holds.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// take transfers ownership of the buffered chunk sequence.
func (r *Recorder) take() []capture.Chunk {
	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()
	return chunks
}

// Boundary ends the current utterance: the device stop flushes its partial
// chunk through the data callback, the accumulated sequence is handed off,
// and capture resumes when the device is still live.
func (r *Recorder) Boundary(ctx context.Context) {
	if err := r.device.Stop(); err != nil {
		slog.DebugContext(ctx, "recorder: stop before hand-off", slog.String("error", err.Error()))
	}

	if err := r.submit(ctx, r.take()); err != nil {
		// The busy gate upstream keeps this path cold; the chunks are lost
		// but capture goes on.
		slog.WarnContext(ctx, "recorder: hand-off rejected", slog.String("error", err.Error()))
	}

	if !r.device.IsActive() {
		return
	}
	if err := r.device.Start(r.interval); err != nil {
		slog.WarnContext(ctx, "recorder: restart capture", slog.String("error", err.Error()))
	}
}

// Flush ends capture for good and performs the one final hand-off when the
// current utterance holds audio. A transcription still in flight wins; the
// final buffer is dropped.
func (r *Recorder) Flush(ctx context.Context) {
	if err := r.device.Stop(); err != nil {
		slog.DebugContext(ctx, "recorder: final stop", slog.String("error", err.Error()))
	}

	chunks := r.take()
	if len(chunks) == 0 {
		return
	}
	if err := r.submit(ctx, chunks); err != nil {
		slog.DebugContext(ctx, "recorder: final flush dropped", slog.String("error", err.Error()))
	}
}
