package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name string
		rms  float64
		want int
	}{
		{name: "silence", rms: 0, want: 0},
		{name: "half scale", rms: 0.5, want: 127},
		{name: "full scale", rms: 1.0, want: 255},
		{name: "over range clamps", rms: 1.8, want: 255},
		{name: "negative clamps", rms: -0.2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Level(tt.rms); got != tt.want {
				t.Errorf("Level(%v) = %d, want %d", tt.rms, got, tt.want)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}

	samples := []float64{0.5, -0.5, 0.5, -0.5}
	if got := RMS(samples); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestRMSPCM16(t *testing.T) {
	if got := RMSPCM16(nil); got != 0 {
		t.Errorf("RMSPCM16(nil) = %v, want 0", got)
	}

	silence := make([]byte, 640)
	if got := RMSPCM16(silence); got != 0 {
		t.Errorf("RMSPCM16(silence) = %v, want 0", got)
	}

	// Constant half-scale signal has RMS 0.5.
	tone := make([]byte, 640)
	for i := 0; i < len(tone); i += 2 {
		binary.LittleEndian.PutUint16(tone[i:], uint16(int16(16384)))
	}
	if got := RMSPCM16(tone); math.Abs(got-0.5) > 0.01 {
		t.Errorf("RMSPCM16(half scale) = %v, want ~0.5", got)
	}
}
