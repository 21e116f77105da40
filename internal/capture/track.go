package capture

import (
	"sync"
	"time"

	"github.com/itttm127/speech-to-text/internal/speech/codec"
)

// TrackDevice assembles chunks from a WebRTC opus track. The peer's RTP read
// loop pushes packet payloads; a ticker cuts the accumulated framed packets
// into chunks on the data interval. Stop flushes the partial chunk
// synchronously, so boundary hand-offs never wait on the remote client.
type TrackDevice struct {
	tap    *LevelTap
	tapDec *codec.OpusDecoder

	mu      sync.Mutex
	onData  func(Chunk)
	started bool
	buf     []byte
	seq     uint64
	subStop chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTrackDevice creates a device fed by an RTP read loop.
func NewTrackDevice() *TrackDevice {
	return &TrackDevice{
		tap:    NewLevelTap(),
		tapDec: codec.NewOpusDecoder(),
		closed: make(chan struct{}),
	}
}

// PushPacket adds one opus packet payload from the RTP read loop. Packets
// always feed the level tap; they accumulate into chunks only while a
// sub-session is running.
func (d *TrackDevice) PushPacket(payload []byte) {
	framed := codec.FrameOpusPacket(nil, payload)
	if pcm, err := d.tapDec.Decode(framed); err == nil {
		d.tap.WritePCM16(pcm)
	}

	d.mu.Lock()
	if d.started {
		d.buf = append(d.buf, framed...)
	}
	d.mu.Unlock()
}

// OnData registers the chunk callback.
func (d *TrackDevice) OnData(fn func(Chunk)) {
	d.mu.Lock()
	d.onData = fn
	d.mu.Unlock()
}

// Start begins a capture sub-session cutting chunks on the interval.
func (d *TrackDevice) Start(interval time.Duration) error {
	select {
	case <-d.closed:
		return ErrDeviceClosed
	default:
	}

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	stop := make(chan struct{})
	d.subStop = stop
	d.mu.Unlock()

	go d.tick(interval, stop)
	return nil
}

func (d *TrackDevice) tick(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-d.closed:
			return
		case <-ticker.C:
			d.cut()
		}
	}
}

// cut emits the buffered packets as one chunk.
func (d *TrackDevice) cut() {
	d.mu.Lock()
	if len(d.buf) == 0 {
		d.mu.Unlock()
		return
	}
	data := d.buf
	d.buf = nil
	seq := d.seq
	d.seq++
	fn := d.onData
	d.mu.Unlock()

	if fn != nil {
		fn(Chunk{Seq: seq, Data: data})
	}
}

// Stop ends the sub-session and flushes the partial chunk before returning.
func (d *TrackDevice) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	stop := d.subStop
	d.subStop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	d.cut()
	return nil
}

// IsActive reports whether the remote track is still live.
func (d *TrackDevice) IsActive() bool {
	select {
	case <-d.closed:
		return false
	default:
		return true
	}
}

// Codec reports the MIME type of chunk payloads.
func (d *TrackDevice) Codec() string { return "audio/opus" }

// Analyser returns the level tap.
func (d *TrackDevice) Analyser() Analyser { return d.tap }

// Close marks the track dead and ends any running sub-session. The peer
// calls it when the connection drops; session cleanup calls it again.
func (d *TrackDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	return nil
}
