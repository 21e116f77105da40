package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPendingProviderFulfill(t *testing.T) {
	p := NewPendingProvider(time.Second)

	dev, err := NewStreamDevice("audio/pcm", nil)
	if err != nil {
		t.Fatalf("NewStreamDevice: %v", err)
	}

	if err := p.Fulfill(dev); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}

	got, err := p.RequestCapture(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("RequestCapture: %v", err)
	}
	if got != Device(dev) {
		t.Error("RequestCapture returned a different device")
	}
}

func TestPendingProviderSecondAttachRejected(t *testing.T) {
	p := NewPendingProvider(time.Second)

	dev, _ := NewStreamDevice("audio/pcm", nil)
	if err := p.Fulfill(dev); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}

	other, _ := NewStreamDevice("audio/pcm", nil)
	if err := p.Fulfill(other); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second Fulfill = %v, want ErrAlreadyAttached", err)
	}
}

func TestPendingProviderTimeout(t *testing.T) {
	p := NewPendingProvider(10 * time.Millisecond)

	_, err := p.RequestCapture(context.Background(), DefaultConstraints())
	if !errors.Is(err, ErrNoDevice) {
		t.Errorf("RequestCapture = %v, want ErrNoDevice", err)
	}
}

func TestPendingProviderContextCancel(t *testing.T) {
	p := NewPendingProvider(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.RequestCapture(ctx, DefaultConstraints()); !errors.Is(err, context.Canceled) {
		t.Errorf("RequestCapture = %v, want context.Canceled", err)
	}
}
