package listen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/frame/workerpool"

	"github.com/itttm127/speech-to-text/internal/capture"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
)

// Session lifecycle states.
const (
	StatePending   = "pending"
	StateListening = "listening"
	StateStopped   = "stopped"
	StateFailed    = "failed"
)

// ControllerConfig assembles one listening session.
type ControllerConfig struct {
	ID          string
	Listen      Config
	Constraints capture.Constraints
	Provider    capture.Provider
	Engine      engine.Transcriber
	Options     engine.Options
	Pool        workerpool.WorkerPool
	OnSegment   func(ctx context.Context, seg Segment)
	OnBoundary  func(ctx context.Context)
	OnError     func(ctx context.Context, err error)
}

// Controller owns a session's resources end to end: the capture device, the
// meter loop, detector timers, and the transcript. Stop and Cleanup release
// everything on every path. An in-flight transcription keeps running on the
// start context after Stop, and its text still lands in the transcript.
type Controller struct {
	cfg ControllerConfig

	mu          sync.Mutex
	state       string
	baseCtx     context.Context
	device      capture.Device
	detector    *Detector
	recorder    *Recorder
	coordinator *Coordinator
	meterCancel context.CancelFunc
	segments    []Segment

	level       atomic.Int64
	cleanupOnce sync.Once
}

// NewController creates a session in the pending state.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:   cfg,
		state: StatePending,
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.cfg.ID }

// Start acquires the capture device, wires meter, detector, recorder, and
// coordinator together, and begins the detection loop. Device acquisition
// failure is fatal; anything already acquired is released before returning.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePending {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.mu.Unlock()

	device, err := c.cfg.Provider.RequestCapture(ctx, c.cfg.Constraints)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("acquire capture device: %w", err)
	}

	coordinator := NewCoordinator(CoordinatorConfig{
		Engine:      c.cfg.Engine,
		Options:     c.cfg.Options,
		Codec:       device.Codec(),
		TargetRate:  c.cfg.Listen.TargetRate,
		MinDuration: c.cfg.Listen.MinUtterance,
		FloorRMS:    c.cfg.Listen.FloorRMS,
		Pool:        c.cfg.Pool,
		OnSegment:   c.appendSegment,
		OnError:     c.cfg.OnError,
	})

	recorder := NewRecorder(device, c.cfg.Listen.DataInterval, coordinator.Submit)
	detector := NewDetector(c.cfg.Listen, coordinator.Busy, device.IsActive, c.onBoundary)
	meter := NewMeter(device.Analyser(), device.IsActive, c.cfg.Listen.MeterInterval)

	meterCtx, meterCancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.state = StateListening
	c.baseCtx = ctx
	c.device = device
	c.detector = detector
	c.recorder = recorder
	c.coordinator = coordinator
	c.meterCancel = meterCancel
	c.mu.Unlock()

	if err := recorder.Start(); err != nil {
		c.Cleanup(ctx)
		c.setState(StateFailed)
		return fmt.Errorf("start capture: %w", err)
	}

	run := func() {
		meter.Run(meterCtx, func(s Sample) {
			c.level.Store(int64(s.Level))
			detector.Observe(s)
		})
	}
	if c.cfg.Pool != nil {
		if err := c.cfg.Pool.Submit(meterCtx, run); err != nil {
			go run()
		}
	} else {
		go run()
	}

	slog.InfoContext(ctx, "session: listening",
		slog.String("session", c.cfg.ID),
		slog.String("codec", device.Codec()))
	return nil
}

// onBoundary runs on the detector's grace timer when an utterance ends.
func (c *Controller) onBoundary() {
	c.mu.Lock()
	ctx := c.baseCtx
	recorder := c.recorder
	running := c.state == StateListening
	c.mu.Unlock()

	if !running || recorder == nil {
		return
	}

	slog.DebugContext(ctx, "session: utterance boundary", slog.String("session", c.cfg.ID))
	if c.cfg.OnBoundary != nil {
		c.cfg.OnBoundary(ctx)
	}
	recorder.Boundary(ctx)
}

// appendSegment is the coordinator's completion continuation; the busy flag
// guarantees it never runs twice concurrently.
func (c *Controller) appendSegment(ctx context.Context, seg Segment) {
	c.mu.Lock()
	c.segments = append(c.segments, seg)
	c.mu.Unlock()

	slog.DebugContext(ctx, "session: transcript segment",
		slog.String("session", c.cfg.ID),
		slog.Int("seq", seg.Seq))

	if c.cfg.OnSegment != nil {
		c.cfg.OnSegment(ctx, seg)
	}
}

// Stop ends capture. A non-empty partial utterance gets exactly one final
// hand-off before resources are released; a transcription already in flight
// finishes on its own and still appends.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopped
	base := c.baseCtx
	detector := c.detector
	recorder := c.recorder
	meterCancel := c.meterCancel
	device := c.device
	c.mu.Unlock()

	if detector != nil {
		detector.Stop()
	}
	if meterCancel != nil {
		meterCancel()
	}
	if recorder != nil {
		// The final flush submits on the start context so the resulting
		// transcription outlives this call.
		recorder.Flush(base)
	}
	if device != nil {
		if err := device.Close(); err != nil {
			slog.WarnContext(ctx, "session: release device",
				slog.String("session", c.cfg.ID),
				slog.String("error", err.Error()))
		}
	}

	slog.InfoContext(ctx, "session: stopped", slog.String("session", c.cfg.ID))
	return nil
}

// Cleanup is an idempotent superset of Stop, safe on a session that never
// fully started. Release failures are logged, never returned.
func (c *Controller) Cleanup(ctx context.Context) {
	c.cleanupOnce.Do(func() {
		if err := c.Stop(ctx); err != nil {
			slog.WarnContext(ctx, "session: stop during cleanup",
				slog.String("session", c.cfg.ID),
				slog.String("error", err.Error()))
		}

		c.mu.Lock()
		if c.state == StatePending {
			c.state = StateStopped
		}
		device := c.device
		detector := c.detector
		meterCancel := c.meterCancel
		c.mu.Unlock()

		if detector != nil {
			detector.Stop()
		}
		if meterCancel != nil {
			meterCancel()
		}
		if device != nil {
			if err := device.Close(); err != nil {
				slog.WarnContext(ctx, "session: release device during cleanup",
					slog.String("session", c.cfg.ID),
					slog.String("error", err.Error()))
			}
		}
	})
}

// State reports the session lifecycle state.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Level reports the most recent loudness sample in the 0-255 range.
func (c *Controller) Level() int {
	return int(c.level.Load())
}

// Busy reports whether a transcription is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	coordinator := c.coordinator
	c.mu.Unlock()
	return coordinator != nil && coordinator.Busy()
}

// Segments returns a copy of the finalized transcript segments.
func (c *Controller) Segments() []Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Segment, len(c.segments))
	copy(out, c.segments)
	return out
}

// Transcript returns the space-joined transcript text.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := make([]string, len(c.segments))
	for i, s := range c.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

func (c *Controller) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
