package capture

import (
	"sync"
	"time"

	"github.com/itttm127/speech-to-text/internal/speech/codec"
)

// flushWait bounds how long Stop waits for the client to deliver its final
// partial chunk after the stop control frame.
const flushWait = 250 * time.Millisecond

// StreamDevice adapts a push transport, the WebSocket chunk upload, to the
// Device contract. The transport pushes encoded chunks as the client
// recorder emits them; Start and Stop cut capture sub-sessions by
// round-tripping control frames to the client.
type StreamDevice struct {
	codecType string
	tap       *LevelTap
	tapDec    codec.Decoder
	control   func(kind string, interval time.Duration) error

	mu       sync.Mutex
	onData   func(Chunk)
	started  bool
	flushing bool
	flushed  chan struct{}
	seq      uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamDevice creates a device fed by transport pushes. control sends a
// control frame to the client; kind is "start" or "stop".
func NewStreamDevice(codecType string, control func(kind string, interval time.Duration) error) (*StreamDevice, error) {
	dec, err := codec.ForMIME(codecType)
	if err != nil {
		return nil, err
	}
	return &StreamDevice{
		codecType: codecType,
		tap:       NewLevelTap(),
		tapDec:    dec,
		control:   control,
		closed:    make(chan struct{}),
	}, nil
}

// Push delivers one encoded chunk from the transport read loop. Chunks
// always feed the level tap; they reach the data callback only while a
// sub-session is running or a stop flush is pending.
func (d *StreamDevice) Push(data []byte) {
	if pcm, err := d.tapDec.Decode(data); err == nil {
		d.tap.WritePCM16(pcm)
	}

	d.mu.Lock()
	if !d.started && !d.flushing {
		d.mu.Unlock()
		return
	}
	seq := d.seq
	d.seq++
	fn := d.onData
	d.mu.Unlock()

	if fn != nil {
		fn(Chunk{Seq: seq, Data: data})
	}
}

// FlushDone signals that the client finished flushing after a stop control.
func (d *StreamDevice) FlushDone() {
	d.mu.Lock()
	ch := d.flushed
	d.flushed = nil
	d.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

// OnData registers the chunk callback.
func (d *StreamDevice) OnData(fn func(Chunk)) {
	d.mu.Lock()
	d.onData = fn
	d.mu.Unlock()
}

// Start begins a capture sub-session.
func (d *StreamDevice) Start(interval time.Duration) error {
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
	d.mu.Unlock()

	if d.control != nil {
		if err := d.control("start", interval); err != nil {
			d.mu.Lock()
			d.started = false
			d.mu.Unlock()
			return err
		}
	}
	return nil
}

// Stop asks the client to stop its recorder and waits briefly for the final
// partial chunk to land before returning.
func (d *StreamDevice) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.flushing = true
	flushed := make(chan struct{})
	d.flushed = flushed
	d.mu.Unlock()

	if d.control != nil {
		_ = d.control("stop", 0)
	}

	timer := time.NewTimer(flushWait)
	defer timer.Stop()
	select {
	case <-flushed:
	case <-timer.C:
	case <-d.closed:
	}

	d.mu.Lock()
	d.flushing = false
	d.flushed = nil
	d.mu.Unlock()
	return nil
}

// IsActive reports whether the transport is still connected.
func (d *StreamDevice) IsActive() bool {
	select {
	case <-d.closed:
		return false
	default:
		return true
	}
}

// Codec reports the MIME type of chunk payloads.
func (d *StreamDevice) Codec() string { return d.codecType }

// Done is closed when the device closes, whichever side goes first.
func (d *StreamDevice) Done() <-chan struct{} { return d.closed }

// Analyser returns the level tap.
func (d *StreamDevice) Analyser() Analyser { return d.tap }

// Close marks the stream dead. The transport calls it when the connection
// drops; session cleanup calls it again.
func (d *StreamDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	return nil
}
