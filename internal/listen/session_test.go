package listen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itttm127/speech-to-text/internal/capture"
)

type fakeProvider struct {
	dev capture.Device
	err error
}

func (p *fakeProvider) RequestCapture(context.Context, capture.Constraints) (capture.Device, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.dev, nil
}

func testListenConfig() Config {
	cfg := DefaultConfig()
	cfg.SilenceDuration = 30 * time.Millisecond
	cfg.Grace = 5 * time.Millisecond
	cfg.DataInterval = 10 * time.Millisecond
	cfg.MeterInterval = 2 * time.Millisecond
	return cfg
}

func waitLevel(t *testing.T, ctrl *Controller, min int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Level() < min {
		if time.Now().After(deadline) {
			t.Fatalf("level = %d, want >= %d", ctrl.Level(), min)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestControllerTranscribesUtteranceAcrossStop(t *testing.T) {
	dev := newFakeDevice()
	dev.tap.set(0.5)
	eng := &fakeEngine{block: make(chan struct{})}
	segs := make(chan Segment, 4)
	boundaries := make(chan struct{}, 4)

	ctrl := NewController(ControllerConfig{
		ID:          "s1",
		Listen:      testListenConfig(),
		Constraints: capture.DefaultConstraints(),
		Provider:    &fakeProvider{dev: dev},
		Engine:      eng,
		OnSegment:   func(_ context.Context, seg Segment) { segs <- seg },
		OnBoundary:  func(context.Context) { boundaries <- struct{}{} },
	})

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := ctrl.State(); got != StateListening {
		t.Fatalf("State = %q, want %q", got, StateListening)
	}
	waitLevel(t, ctrl, 20)

	// One second of speech lands, then the room goes quiet.
	dev.emit(pcmChunk(16000, 1000).Data)
	dev.tap.set(0)

	select {
	case <-boundaries:
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance boundary")
	}
	waitForCalls(t, eng, 1)
	if !ctrl.Busy() {
		t.Error("Busy = false while transcription in flight")
	}

	// Stopping releases capture but lets the in-flight transcription finish.
	if err := ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ctrl.State(); got != StateStopped {
		t.Errorf("State = %q, want %q", got, StateStopped)
	}
	if dev.IsActive() {
		t.Error("device still active after Stop")
	}

	close(eng.block)
	select {
	case seg := <-segs:
		if seg.Text != "ok" {
			t.Errorf("Text = %q, want %q", seg.Text, "ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight transcription did not complete after Stop")
	}

	if got := ctrl.Transcript(); got != "ok" {
		t.Errorf("Transcript = %q, want %q", got, "ok")
	}
	if got := len(ctrl.Segments()); got != 1 {
		t.Errorf("Segments = %d, want 1", got)
	}
	if got := eng.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
}

func TestControllerStopFlushesPartialUtterance(t *testing.T) {
	dev := newFakeDevice()
	eng := &fakeEngine{}
	segs := make(chan Segment, 1)

	ctrl := NewController(ControllerConfig{
		ID:          "s2",
		Listen:      testListenConfig(),
		Constraints: capture.DefaultConstraints(),
		Provider:    &fakeProvider{dev: dev},
		Engine:      eng,
		OnSegment:   func(_ context.Context, seg Segment) { segs <- seg },
	})

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Audio is buffered but no boundary has fired when the caller stops.
	dev.emit(pcmChunk(16000, 1000).Data)
	if err := ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case seg := <-segs:
		if seg.Text != "ok" {
			t.Errorf("Text = %q, want %q", seg.Text, "ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("partial utterance not flushed on Stop")
	}
	if got := eng.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want exactly 1 final hand-off", got)
	}
}

func TestControllerStartFailsWithoutDevice(t *testing.T) {
	ctrl := NewController(ControllerConfig{
		ID:       "s3",
		Listen:   testListenConfig(),
		Provider: &fakeProvider{err: capture.ErrNoDevice},
		Engine:   &fakeEngine{},
	})

	err := ctrl.Start(context.Background())
	if !errors.Is(err, capture.ErrNoDevice) {
		t.Fatalf("Start error = %v, want ErrNoDevice", err)
	}
	if got := ctrl.State(); got != StateFailed {
		t.Errorf("State = %q, want %q", got, StateFailed)
	}
}

func TestControllerStartReleasesDeviceOnCaptureFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.startErr = errors.New("stream torn down")

	ctrl := NewController(ControllerConfig{
		ID:       "s4",
		Listen:   testListenConfig(),
		Provider: &fakeProvider{dev: dev},
		Engine:   &fakeEngine{},
	})

	err := ctrl.Start(context.Background())
	if !errors.Is(err, dev.startErr) {
		t.Fatalf("Start error = %v, want %v", err, dev.startErr)
	}
	if got := ctrl.State(); got != StateFailed {
		t.Errorf("State = %q, want %q", got, StateFailed)
	}
	if dev.IsActive() {
		t.Error("device not released after failed start")
	}
}

func TestControllerStartTwice(t *testing.T) {
	dev := newFakeDevice()
	ctrl := NewController(ControllerConfig{
		ID:       "s5",
		Listen:   testListenConfig(),
		Provider: &fakeProvider{dev: dev},
		Engine:   &fakeEngine{},
	})

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Cleanup(ctx)

	if err := ctrl.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestControllerStopIdempotent(t *testing.T) {
	dev := newFakeDevice()
	ctrl := NewController(ControllerConfig{
		ID:       "s6",
		Listen:   testListenConfig(),
		Provider: &fakeProvider{dev: dev},
		Engine:   &fakeEngine{},
	})

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := ctrl.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := ctrl.State(); got != StateStopped {
		t.Errorf("State = %q, want %q", got, StateStopped)
	}
}

func TestControllerCleanupNeverStarted(t *testing.T) {
	ctrl := NewController(ControllerConfig{
		ID:       "s7",
		Listen:   testListenConfig(),
		Provider: &fakeProvider{err: capture.ErrNoDevice},
		Engine:   &fakeEngine{},
	})

	ctx := context.Background()
	ctrl.Cleanup(ctx)
	ctrl.Cleanup(ctx)

	if got := ctrl.State(); got != StateStopped {
		t.Errorf("State = %q, want %q", got, StateStopped)
	}
}
