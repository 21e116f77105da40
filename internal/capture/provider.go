package capture

import (
	"context"
	"sync/atomic"
	"time"
)

// PendingProvider hands a session its capture device once a transport
// attaches one. The session controller blocks in RequestCapture; the ingest
// transport (WebSocket upload or WebRTC track) calls Fulfill when the client
// connects. An unfulfilled request fails after the acquire timeout, which
// the controller treats as a fatal device-acquisition error.
type PendingProvider struct {
	timeout   time.Duration
	ch        chan Device
	fulfilled atomic.Bool
}

// NewPendingProvider creates a provider that waits up to timeout for a
// transport to attach.
func NewPendingProvider(timeout time.Duration) *PendingProvider {
	return &PendingProvider{
		timeout: timeout,
		ch:      make(chan Device, 1),
	}
}

// Fulfill attaches the device. Only the first attach wins; later calls
// report ErrAlreadyAttached so the transport can reject a second client.
func (p *PendingProvider) Fulfill(d Device) error {
	if !p.fulfilled.CompareAndSwap(false, true) {
		return ErrAlreadyAttached
	}
	p.ch <- d
	return nil
}

// RequestCapture blocks until a device is attached, the acquire timeout
// lapses, or ctx ends.
func (p *PendingProvider) RequestCapture(ctx context.Context, _ Constraints) (Device, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case d := <-p.ch:
		return d, nil
	case <-timer.C:
		return nil, ErrNoDevice
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
