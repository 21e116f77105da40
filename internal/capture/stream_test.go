package capture

import (
	"testing"
	"time"
)

func TestStreamDeviceDropsChunksWhenStopped(t *testing.T) {
	dev, err := NewStreamDevice("audio/pcm", nil)
	if err != nil {
		t.Fatalf("NewStreamDevice: %v", err)
	}

	var got []Chunk
	dev.OnData(func(c Chunk) { got = append(got, c) })

	dev.Push(pcm16(1000, 2000))
	if len(got) != 0 {
		t.Errorf("chunks before Start = %d, want 0", len(got))
	}

	// The tap still sees audio while stopped.
	dst := make([]float64, 2)
	if n := dev.Analyser().Samples(dst); n != 2 {
		t.Errorf("tap samples = %d, want 2", n)
	}
}

func TestStreamDeviceDeliversChunks(t *testing.T) {
	var controls []string
	control := func(kind string, _ time.Duration) error {
		controls = append(controls, kind)
		return nil
	}

	dev, err := NewStreamDevice("audio/pcm", control)
	if err != nil {
		t.Fatalf("NewStreamDevice: %v", err)
	}

	var got []Chunk
	dev.OnData(func(c Chunk) { got = append(got, c) })

	if err := dev.Start(100 * time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(controls) != 1 || controls[0] != "start" {
		t.Fatalf("controls = %v, want [start]", controls)
	}

	dev.Push(pcm16(1, 2))
	dev.Push(pcm16(3, 4))

	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Errorf("seqs = %d,%d, want 0,1", got[0].Seq, got[1].Seq)
	}
}

func TestStreamDeviceStopWaitsForFlush(t *testing.T) {
	var dev *StreamDevice

	// The stop control triggers the client-side flush: one final chunk
	// followed by the flushed acknowledgement.
	control := func(kind string, _ time.Duration) error {
		if kind == "stop" {
			dev.Push(pcm16(9, 9))
			dev.FlushDone()
		}
		return nil
	}

	var err error
	dev, err = NewStreamDevice("audio/pcm", control)
	if err != nil {
		t.Fatalf("NewStreamDevice: %v", err)
	}

	var got []Chunk
	dev.OnData(func(c Chunk) { got = append(got, c) })

	if err := dev.Start(100 * time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dev.Push(pcm16(1, 2))

	start := time.Now()
	if err := dev.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= flushWait {
		t.Errorf("Stop blocked %v, want under %v after FlushDone", elapsed, flushWait)
	}

	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (final flush included)", len(got))
	}

	// Pushes after the flush window closed are dropped.
	dev.Push(pcm16(5, 5))
	if len(got) != 2 {
		t.Errorf("chunks after Stop = %d, want 2", len(got))
	}
}

func TestStreamDeviceClose(t *testing.T) {
	dev, err := NewStreamDevice("audio/pcm", nil)
	if err != nil {
		t.Fatalf("NewStreamDevice: %v", err)
	}

	if !dev.IsActive() {
		t.Error("new device should be active")
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if dev.IsActive() {
		t.Error("closed device should be inactive")
	}
	if err := dev.Start(100 * time.Millisecond); err != ErrDeviceClosed {
		t.Errorf("Start after Close = %v, want ErrDeviceClosed", err)
	}
}
