package listen

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itttm127/speech-to-text/internal/capture"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls [][]byte
	reply func(pcm []byte) (engine.Result, error)
	block chan struct{}
}

func (e *fakeEngine) Transcribe(_ context.Context, pcm []byte, _ engine.Options) (engine.Result, error) {
	e.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	e.calls = append(e.calls, cp)
	reply := e.reply
	block := e.block
	e.mu.Unlock()

	if block != nil {
		<-block
	}
	if reply != nil {
		return reply(cp)
	}
	return engine.Result{Text: "ok", Confidence: 0.9}, nil
}

func (e *fakeEngine) Models() []engine.ModelInfo { return nil }

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) setReply(fn func(pcm []byte) (engine.Result, error)) {
	e.mu.Lock()
	e.reply = fn
	e.mu.Unlock()
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) call(i int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[i]
}

// pcmChunk builds a capture chunk of constant-amplitude 16-bit samples.
func pcmChunk(samples int, amplitude int16) capture.Chunk {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude))
	}
	return capture.Chunk{Seq: 1, Data: data}
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("coordinator still busy")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForCalls(t *testing.T, e *fakeEngine, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.callCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("engine calls = %d, want %d", e.callCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func testCoordinator(eng *fakeEngine, codecType string, segs chan Segment, errs chan error) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		Engine:      eng,
		Codec:       codecType,
		TargetRate:  16000,
		MinDuration: 500 * time.Millisecond,
		FloorRMS:    0.005,
		OnSegment: func(_ context.Context, seg Segment) {
			if segs != nil {
				segs <- seg
			}
		},
		OnError: func(_ context.Context, err error) {
			if errs != nil {
				errs <- err
			}
		},
	})
}

func TestCoordinatorSingleFlight(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{})}
	segs := make(chan Segment, 4)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, nil)

	ctx := context.Background()
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCalls(t, eng, 1)

	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); !errors.Is(err, ErrProcessingInFlight) {
		t.Fatalf("second Submit error = %v, want ErrProcessingInFlight", err)
	}

	close(eng.block)
	select {
	case <-segs:
	case <-time.After(2 * time.Second):
		t.Fatal("no segment after unblocking engine")
	}
	waitIdle(t, c)

	eng.mu.Lock()
	eng.block = nil
	eng.mu.Unlock()
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); err != nil {
		t.Fatalf("Submit after completion: %v", err)
	}
	waitIdle(t, c)
	if got := eng.callCount(); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}
}

func TestCoordinatorDropsEmptySubmission(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 1)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, nil)

	if err := c.Submit(context.Background(), nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitIdle(t, c)

	if got := eng.callCount(); got != 0 {
		t.Errorf("engine calls = %d, want 0", got)
	}
	if len(segs) != 0 {
		t.Error("segment emitted for empty submission")
	}
}

func TestCoordinatorDropsShortUtterance(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 2)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, nil)
	ctx := context.Background()

	// One sample under half a second at 16kHz.
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(7999, 1000)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitIdle(t, c)
	if got := eng.callCount(); got != 0 {
		t.Fatalf("engine calls after short utterance = %d, want 0", got)
	}

	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(8000, 1000)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitIdle(t, c)
	if got := eng.callCount(); got != 1 {
		t.Errorf("engine calls at exactly half a second = %d, want 1", got)
	}
}

func TestCoordinatorDropsQuietUtterance(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 2)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, nil)
	ctx := context.Background()

	// Amplitude 100 of 32768 is an RMS near 0.003, under the floor.
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 100)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitIdle(t, c)
	if got := eng.callCount(); got != 0 {
		t.Fatalf("engine calls for near-silence = %d, want 0", got)
	}

	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 400)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitIdle(t, c)
	if got := eng.callCount(); got != 1 {
		t.Errorf("engine calls above the floor = %d, want 1", got)
	}
}

func TestCoordinatorScrubsBlankAudio(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 2)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, nil)
	ctx := context.Background()

	eng.setReply(func([]byte) (engine.Result, error) {
		return engine.Result{Text: " [BLANK_AUDIO] "}, nil
	})
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitIdle(t, c)
	if len(segs) != 0 {
		t.Fatal("segment emitted for blank-audio result")
	}

	eng.setReply(func([]byte) (engine.Result, error) {
		return engine.Result{Text: "[BLANK_AUDIO] hello", Confidence: 0.8}, nil
	})
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case seg := <-segs:
		if seg.Text != "hello" {
			t.Errorf("Text = %q, want %q", seg.Text, "hello")
		}
		if seg.Seq != 0 {
			t.Errorf("Seq = %d, want 0 (blank results do not advance the sequence)", seg.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no segment for non-blank result")
	}
}

func TestCoordinatorReportsEngineFailure(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 2)
	errs := make(chan error, 2)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, errs)
	ctx := context.Background()

	eng.setReply(func([]byte) (engine.Result, error) {
		return engine.Result{}, errors.New("model not loaded")
	})
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("nil error reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine failure not reported")
	}
	waitIdle(t, c)
	if len(segs) != 0 {
		t.Fatal("segment emitted for failed transcription")
	}

	// The session keeps accepting utterances after a failure.
	eng.setReply(nil)
	if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); err != nil {
		t.Fatalf("Submit after failure: %v", err)
	}
	select {
	case seg := <-segs:
		if seg.Seq != 0 {
			t.Errorf("Seq = %d, want 0 (failures do not advance the sequence)", seg.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no segment after recovery")
	}
}

func TestCoordinatorPreservesAppendOrder(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 2)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, nil)
	ctx := context.Background()

	texts := []string{"first", "second"}
	var n int
	eng.setReply(func([]byte) (engine.Result, error) {
		text := texts[n]
		n++
		return engine.Result{Text: text}, nil
	})

	for i := 0; i < 2; i++ {
		if err := c.Submit(ctx, []capture.Chunk{pcmChunk(16000, 1000)}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		waitIdle(t, c)
	}

	for i, want := range texts {
		select {
		case seg := <-segs:
			if seg.Text != want {
				t.Errorf("segment %d Text = %q, want %q", i, seg.Text, want)
			}
			if seg.Seq != i {
				t.Errorf("segment %d Seq = %d, want %d", i, seg.Seq, i)
			}
		default:
			t.Fatalf("missing segment %d", i)
		}
	}
}

func TestCoordinatorResamplesToTargetRate(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 1)
	c := testCoordinator(eng, "audio/pcm;rate=44100", segs, nil)

	// One second of microphone-rate audio.
	if err := c.Submit(context.Background(), []capture.Chunk{pcmChunk(44100, 1000)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCalls(t, eng, 1)
	waitIdle(t, c)

	if got := len(eng.call(0)); got != 32000 {
		t.Errorf("engine received %d bytes, want 32000 (one second at 16kHz)", got)
	}
	select {
	case seg := <-segs:
		if seg.Samples != 16000 {
			t.Errorf("Samples = %d, want 16000", seg.Samples)
		}
		if seg.Duration != time.Second {
			t.Errorf("Duration = %v, want 1s", seg.Duration)
		}
	default:
		t.Fatal("no segment emitted")
	}
}

func TestCoordinatorSplicesChunks(t *testing.T) {
	eng := &fakeEngine{}
	segs := make(chan Segment, 1)
	c := testCoordinator(eng, "audio/pcm;rate=16000", segs, nil)

	chunks := []capture.Chunk{pcmChunk(6000, 1000), pcmChunk(6000, 1000), pcmChunk(4000, 1000)}
	if err := c.Submit(context.Background(), chunks); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCalls(t, eng, 1)
	waitIdle(t, c)

	if got := len(eng.call(0)); got != 32000 {
		t.Errorf("engine received %d bytes, want 32000 from three spliced chunks", got)
	}
}
