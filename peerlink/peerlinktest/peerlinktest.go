// Package peerlinktest provides an in-memory Transport for tests of code
// that drives peer links.
package peerlinktest

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"duocall/peerlink"
)

// ErrInvalidState is returned for a description applied in the wrong state.
var ErrInvalidState = errors.New("invalid signaling state")

// Transport follows the offer/answer state machine without any network.
// Every local description yields one local candidate.
type Transport struct {
	name string

	mu         sync.Mutex
	signaling  webrtc.SignalingState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	offers     int
	restarts   int
	gathered   int
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	recvOnly   []webrtc.RTPCodecType
	closed     bool

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(peerlink.RemoteTrack)
}

// NewTransport creates a Transport. The name prefixes generated SDP.
func NewTransport(name string) *Transport {
	return &Transport{
		name:      name,
		signaling: webrtc.SignalingStateStable,
	}
}

// CreateOffer implements peerlink.Transport.
func (t *Transport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	sdp := fmt.Sprintf("%s-offer-%d", t.name, t.offers)
	if iceRestart {
		t.restarts++
		sdp += "-restart"
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}, nil
}

// CreateAnswer implements peerlink.Transport.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s: %w", t.signaling, ErrInvalidState)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: t.name + "-answer-" + t.remote.SDP}, nil
}

// SetLocalDescription implements peerlink.Transport.
func (t *Transport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer &&
		(t.signaling == webrtc.SignalingStateStable || t.signaling == webrtc.SignalingStateHaveLocalOffer):
		t.signaling = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && t.signaling == webrtc.SignalingStateHaveRemoteOffer:
		t.signaling = webrtc.SignalingStateStable
	default:
		state := t.signaling
		t.mu.Unlock()
		return fmt.Errorf("local %s in %s: %w", desc.Type, state, ErrInvalidState)
	}
	t.local = &desc
	t.gathered++
	mid := "0"
	line := uint16(0)
	c := webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%s%d 1 udp 2130706431 10.0.0.1 %d typ host", t.name, t.gathered, 5000+t.gathered),
		SDPMid:        &mid,
		SDPMLineIndex: &line,
	}
	cb := t.onCandidate
	t.mu.Unlock()

	if cb != nil {
		cb(c)
	}
	return nil
}

// SetRemoteDescription implements peerlink.Transport.
func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && t.signaling == webrtc.SignalingStateStable:
		t.signaling = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && t.signaling == webrtc.SignalingStateHaveLocalOffer:
		t.signaling = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("remote %s in %s: %w", desc.Type, t.signaling, ErrInvalidState)
	}
	t.remote = &desc
	return nil
}

// AddICECandidate implements peerlink.Transport.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return fmt.Errorf("candidate without remote description: %w", ErrInvalidState)
	}
	t.candidates = append(t.candidates, candidate)
	return nil
}

// AddTrack implements peerlink.Transport.
func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, track)
	return nil
}

// AddRecvOnly implements peerlink.Transport.
func (t *Transport) AddRecvOnly(kind webrtc.RTPCodecType) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvOnly = append(t.recvOnly, kind)
	return nil
}

// SignalingState implements peerlink.Transport.
func (t *Transport) SignalingState() webrtc.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signaling
}

// OnLocalCandidate implements peerlink.Transport.
func (t *Transport) OnLocalCandidate(f func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = f
}

// OnStateChange implements peerlink.Transport.
func (t *Transport) OnStateChange(f func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = f
}

// OnRemoteTrack implements peerlink.Transport.
func (t *Transport) OnRemoteTrack(f func(peerlink.RemoteTrack)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = f
}

// Close implements peerlink.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.SetState(webrtc.PeerConnectionStateClosed)
	return nil
}

// SetState reports a link state as the network would.
func (t *Transport) SetState(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	cb := t.onState
	t.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

// PushTrack reports an inbound track.
func (t *Transport) PushTrack(track peerlink.RemoteTrack) {
	t.mu.Lock()
	cb := t.onTrack
	t.mu.Unlock()
	if cb != nil {
		cb(track)
	}
}

// Candidates returns the applied remote candidates.
func (t *Transport) Candidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), t.candidates...)
}

// Tracks returns the added local tracks.
func (t *Transport) Tracks() []webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), t.tracks...)
}

// RecvOnly returns the kinds added as receive-only.
func (t *Transport) RecvOnly() []webrtc.RTPCodecType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.RTPCodecType(nil), t.recvOnly...)
}

// Restarts returns the number of ICE restart offers created.
func (t *Transport) Restarts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restarts
}

// Remote returns the applied remote description, if any.
func (t *Transport) Remote() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// Closed returns whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Factory hands out Transports and remembers them.
type Factory struct {
	// Err, when set, is returned by NewTransport.
	Err error

	mu         sync.Mutex
	name       string
	transports []*Transport
}

// NewFactory creates a Factory whose transports are named after name.
func NewFactory(name string) *Factory {
	return &Factory{name: name}
}

// NewTransport implements peerlink.Factory.
func (f *Factory) NewTransport() (peerlink.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	t := NewTransport(fmt.Sprintf("%s%d", f.name, len(f.transports)+1))
	f.transports = append(f.transports, t)
	return t, nil
}

// Last returns the most recent transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// Track is a RemoteTrack fed by the test.
type Track struct {
	id      string
	kind    webrtc.RTPCodecType
	packets chan *rtp.Packet
	once    sync.Once
}

// NewTrack creates a Track.
func NewTrack(id string, kind webrtc.RTPCodecType) *Track {
	return &Track{id: id, kind: kind, packets: make(chan *rtp.Packet, 16)}
}

// ID implements peerlink.RemoteTrack.
func (t *Track) ID() string { return t.id }

// StreamID implements peerlink.RemoteTrack.
func (t *Track) StreamID() string { return "stream-" + t.id }

// Kind implements peerlink.RemoteTrack.
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }

// SSRC implements peerlink.RemoteTrack.
func (t *Track) SSRC() webrtc.SSRC { return 1 }

// ReadRTP implements peerlink.RemoteTrack. It returns io.EOF once the track
// is ended and drained.
func (t *Track) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

// Write queues a packet for ReadRTP.
func (t *Track) Write(p *rtp.Packet) {
	t.packets <- p
}

// End makes ReadRTP return io.EOF after the queued packets.
func (t *Track) End() {
	t.once.Do(func() { close(t.packets) })
}
