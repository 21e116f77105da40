package listen

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAnalyser struct {
	mu    sync.Mutex
	value float64
}

func (a *fakeAnalyser) set(v float64) {
	a.mu.Lock()
	a.value = v
	a.mu.Unlock()
}

func (a *fakeAnalyser) Samples(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range dst {
		dst[i] = a.value
	}
	return len(dst)
}

func TestMeterEmitsLevels(t *testing.T) {
	analyser := &fakeAnalyser{value: 0.5}
	meter := NewMeter(analyser, func() bool { return true }, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samples := make(chan Sample, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		meter.Run(ctx, func(s Sample) {
			select {
			case samples <- s:
			default:
			}
		})
	}()

	select {
	case s := <-samples:
		if s.Level != 127 {
			t.Errorf("Level = %d, want 127", s.Level)
		}
		if s.At.IsZero() {
			t.Error("At is zero")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sample emitted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMeterStopsWhenInactive(t *testing.T) {
	analyser := &fakeAnalyser{value: 0.1}
	var mu sync.Mutex
	active := true
	meter := NewMeter(analyser, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return active
	}, time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		meter.Run(context.Background(), func(Sample) {})
	}()

	mu.Lock()
	active = false
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after device went inactive")
	}
}

func TestMeterClampsLoudSignal(t *testing.T) {
	analyser := &fakeAnalyser{value: 1.0}
	meter := NewMeter(analyser, func() bool { return true }, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int, 1)
	go meter.Run(ctx, func(s Sample) {
		select {
		case got <- s.Level:
		default:
		}
	})

	select {
	case level := <-got:
		if level != 255 {
			t.Errorf("Level = %d, want 255", level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sample emitted")
	}
}
