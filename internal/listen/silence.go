package listen

import (
	"sync"
	"time"
)

// Detector classifies the loudness stream into speech and silence and emits
// an utterance boundary after sustained silence follows detected speech.
// Boundaries are suppressed until speech has occurred, while a hand-off is
// being processed, and once the capture device goes inactive.
type Detector struct {
	threshold int
	silence   time.Duration
	grace     time.Duration
	busy      func() bool
	active    func() bool
	boundary  func()

	mu         sync.Mutex
	lastSpeech time.Time
	hasSpeech  bool
	pending    *time.Timer
	gen        int
}

// NewDetector creates a detector. busy reports whether boundary processing
// is in flight, active whether the capture device is live; boundary runs on
// the grace timer's goroutine.
func NewDetector(cfg Config, busy, active func() bool, boundary func()) *Detector {
	return &Detector{
		threshold: cfg.Threshold,
		silence:   cfg.SilenceDuration,
		grace:     cfg.Grace,
		busy:      busy,
		active:    active,
		boundary:  boundary,
	}
}

// Observe runs the detection step for one loudness sample.
func (d *Detector) Observe(s Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.Level >= d.threshold {
		d.lastSpeech = s.At
		d.hasSpeech = true
		d.cancelPendingLocked()
		return
	}

	if !d.hasSpeech || d.pending != nil {
		return
	}
	if d.lastSpeech.IsZero() || s.At.Sub(d.lastSpeech) < d.silence {
		return
	}
	if d.busy != nil && d.busy() {
		return
	}
	if d.active != nil && !d.active() {
		return
	}

	// One more device buffering tick before the hand-off so the final
	// chunk reaches the recorder.
	d.gen++
	gen := d.gen
	d.pending = time.AfterFunc(d.grace, func() { d.fire(gen) })
}

// fire emits the boundary unless the debounce was cancelled or the device
// died while the grace window ran.
func (d *Detector) fire(gen int) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	if d.active != nil && !d.active() {
		d.mu.Unlock()
		return
	}
	d.hasSpeech = false
	d.mu.Unlock()

	if d.boundary != nil {
		d.boundary()
	}
}

// Stop cancels any pending boundary timer.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.cancelPendingLocked()
	d.mu.Unlock()
}

func (d *Detector) cancelPendingLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
		d.gen++
	}
}
