package capture

import (
	"encoding/binary"
	"sync"
)

// tapWindow is the number of recent samples the tap retains, roughly 128ms
// of audio at 16kHz.
const tapWindow = 2048

// LevelTap is a fixed ring of recent normalized time-domain samples. The
// device decode path writes into it as chunks arrive; the level meter polls
// it. Writes continue between capture sub-sessions so the meter tracks live
// input across boundary restarts.
type LevelTap struct {
	mu    sync.Mutex
	ring  [tapWindow]float64
	pos   int
	count int
}

// NewLevelTap creates an empty tap.
func NewLevelTap() *LevelTap {
	return &LevelTap{}
}

// WritePCM16 feeds little-endian signed 16-bit samples into the window.
func (t *LevelTap) WritePCM16(pcm []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i+1 < len(pcm); i += 2 {
		t.ring[t.pos] = float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		t.pos = (t.pos + 1) % tapWindow
		if t.count < tapWindow {
			t.count++
		}
	}
}

// Samples copies the most recent samples into dst, newest last, and returns
// how many were copied.
func (t *LevelTap) Samples(dst []float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(dst)
	if n > t.count {
		n = t.count
	}

	start := t.pos - n
	if start < 0 {
		start += tapWindow
	}
	for i := 0; i < n; i++ {
		dst[i] = t.ring[(start+i)%tapWindow]
	}
	return n
}
