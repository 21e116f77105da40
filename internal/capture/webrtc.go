package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pitabwire/frame/workerpool"
	"github.com/rs/xid"
)

// NewWebRTCAPI builds a webrtc API with the audio capture profile: opus at
// 48kHz plus the ssrc-audio-level header extension.
func NewWebRTCAPI() *webrtc.API {
	me := &webrtc.MediaEngine{}

	_ = me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    "audio/opus",
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)

	_ = me.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level"},
		webrtc.RTPCodecTypeAudio,
	)

	return webrtc.NewAPI(webrtc.WithMediaEngine(me))
}

// Peer wraps a receive-only PeerConnection feeding one TrackDevice.
type Peer struct {
	id        string
	pc        *webrtc.PeerConnection
	device    *TrackDevice
	ctx       context.Context
	cancel    context.CancelFunc
	pool      workerpool.WorkerPool
	onTrack   func(*TrackDevice)
	closeOnce sync.Once
}

// NewPeer creates a peer that accepts a single remote audio track. onTrack
// runs once when the first audio track arrives, before any packets are read.
func NewPeer(parentCtx context.Context, id string, api *webrtc.API, config webrtc.Configuration, pool workerpool.WorkerPool, onTrack func(*TrackDevice)) (*Peer, error) {
	if id == "" {
		id = xid.New().String()
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)

	p := &Peer{
		id:      id,
		pc:      pc,
		device:  NewTrackDevice(),
		ctx:     ctx,
		cancel:  cancel,
		pool:    pool,
		onTrack: onTrack,
	}

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		pc.Close()
		cancel()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	var trackOnce sync.Once
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		trackOnce.Do(func() {
			slog.Debug("capture: audio track attached",
				slog.String("peer", p.id),
				slog.String("codec", track.Codec().MimeType))

			if p.onTrack != nil {
				p.onTrack(p.device)
			}

			fn := func() { p.readLoop(track) }
			if p.pool != nil {
				_ = p.pool.Submit(p.ctx, fn)
			} else {
				go fn()
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			slog.Debug("capture: peer disconnected", slog.String("peer", p.id))
			p.Close()
		}
	})

	return p, nil
}

// ID returns the peer identifier.
func (p *Peer) ID() string { return p.id }

// Device returns the track device fed by this peer.
func (p *Peer) Device() *TrackDevice { return p.device }

// HandleOffer sets the remote SDP offer and returns a complete answer.
func (p *Peer) HandleOffer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	// Wait for ICE gathering to complete.
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	<-gatherComplete

	return p.pc.LocalDescription().SDP, nil
}

// readLoop pulls RTP packets off the remote track and feeds their payloads
// to the device until the track or peer ends.
func (p *Peer) readLoop(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			p.Close()
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		p.device.PushPacket(pkt.Payload)
	}
}

// Close closes the connection and marks the device inactive. Safe to call
// multiple times.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		_ = p.device.Close()
		if p.pc != nil {
			_ = p.pc.Close()
		}
		if p.cancel != nil {
			p.cancel()
		}
	})
}
