package listen

import (
	"context"
	"time"

	"github.com/itttm127/speech-to-text/internal/audio"
	"github.com/itttm127/speech-to-text/internal/capture"
)

// meterWindow is how many recent tap samples feed one loudness reading.
const meterWindow = 2048

// Meter polls a capture analyser on a fixed cadence and reports loudness
// samples scaled to the 0-255 range. A meter drives exactly one Run; the
// sequence ends, without error, when the device goes inactive or ctx ends.
type Meter struct {
	analyser capture.Analyser
	active   func() bool
	interval time.Duration
	buf      []float64
}

// NewMeter creates a meter over a device's analysis tap.
func NewMeter(analyser capture.Analyser, active func() bool, interval time.Duration) *Meter {
	return &Meter{
		analyser: analyser,
		active:   active,
		interval: interval,
		buf:      make([]float64, meterWindow),
	}
}

// Run delivers one loudness sample per tick to fn. It only reads the tap,
// never blocks on it, and returns when the stream stops.
func (m *Meter) Run(ctx context.Context, fn func(Sample)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if m.active != nil && !m.active() {
				return
			}
			n := m.analyser.Samples(m.buf)
			fn(Sample{Level: audio.Level(audio.RMS(m.buf[:n])), At: now})
		}
	}
}
