// Package peerlink drives the negotiation of one peer connection: offers,
// answers and candidates in, local candidates, link state and remote tracks out.
package peerlink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"duocall/types/negotiation"
)

// Role is the fixed negotiation role of a participant.
type Role int

const (
	// Offerer produces every offer of the session. The initiator is the offerer.
	Offerer Role = iota

	// Answerer only answers. The joiner is the answerer.
	Answerer
)

func (r Role) String() string {
	if r == Offerer {
		return "offerer"
	}
	return "answerer"
}

// Below are the errors of a Link.
var (
	ErrWrongRole        = errors.New("operation not allowed for role")
	ErrStaleDescription = errors.New("stale description")
	ErrClosed           = errors.New("link closed")
)

// EventType tags a link event.
type EventType int

// Below are the event types.
const (
	CandidateEvent EventType = iota
	StateEvent
	TrackEvent
)

// Event is emitted by a Link. Only the field matching Type is set.
type Event struct {
	Type      EventType
	Candidate webrtc.ICECandidateInit
	State     webrtc.PeerConnectionState
	Track     RemoteTrack
}

// eventBuffer absorbs bursts of candidates while the consumer is busy.
const eventBuffer = 128

// Link is one side of a negotiated peer connection.
type Link struct {
	role      Role
	transport Transport

	mu        sync.Mutex
	closed    bool
	revision  int
	answered  bool
	lastOffer string
	remoteSet bool
	ufrag     string
	applied   map[string]struct{}
	pending   []webrtc.ICECandidateInit
	state     webrtc.PeerConnectionState

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Link over the transport and starts reporting its events.
func New(role Role, t Transport) *Link {
	l := &Link{
		role:      role,
		transport: t,
		applied:   make(map[string]struct{}),
		state:     webrtc.PeerConnectionStateNew,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}

	t.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		l.emit(Event{Type: CandidateEvent, Candidate: c})
	})
	t.OnStateChange(func(s webrtc.PeerConnectionState) {
		l.mu.Lock()
		l.state = s
		l.mu.Unlock()
		l.emit(Event{Type: StateEvent, State: s})
	})
	t.OnRemoteTrack(func(track RemoteTrack) {
		l.emit(Event{Type: TrackEvent, Track: track})
	})
	return l
}

// Role returns the negotiation role.
func (l *Link) Role() Role {
	return l.role
}

// Events returns the events of the link. It is never closed; stop reading
// once the link is closed.
func (l *Link) Events() <-chan Event {
	return l.events
}

// State returns the last reported link state.
func (l *Link) State() webrtc.PeerConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) emit(ev Event) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// AddTrack sends a local track to the partner.
func (l *Link) AddTrack(track webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.transport.AddTrack(track)
}

// AddRecvOnly asks the partner for media of a kind the local side does not send.
func (l *Link) AddRecvOnly(kind webrtc.RTPCodecType) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.transport.AddRecvOnly(kind)
}

// CreateOffer creates and applies a new local offer. With iceRestart the
// offer requests fresh candidates.
func (l *Link) CreateOffer(iceRestart bool) (negotiation.Description, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return negotiation.Description{}, ErrClosed
	}
	if l.role != Offerer {
		return negotiation.Description{}, fmt.Errorf("create offer as %s: %w", l.role, ErrWrongRole)
	}

	offer, err := l.transport.CreateOffer(iceRestart)
	if err != nil {
		return negotiation.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.transport.SetLocalDescription(offer); err != nil {
		return negotiation.Description{}, fmt.Errorf("set local offer: %w", err)
	}
	l.revision++
	return negotiation.FromPion(offer, l.revision, iceRestart), nil
}

// ApplyRemoteAnswer applies the partner's answer to the current offer. An
// answer to an older offer, or one arriving after the offer was already
// answered, returns ErrStaleDescription.
func (l *Link) ApplyRemoteAnswer(answer negotiation.Description) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.role != Offerer {
		return fmt.Errorf("apply answer as %s: %w", l.role, ErrWrongRole)
	}
	if answer.Revision != 0 && answer.Revision != l.revision {
		return fmt.Errorf("answer to revision %d, current %d: %w", answer.Revision, l.revision, ErrStaleDescription)
	}
	if l.transport.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("answer in %s: %w", l.transport.SignalingState(), ErrStaleDescription)
	}

	desc, err := answer.ToPion()
	if err != nil {
		return err
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %s", desc.Type)
	}
	if err := l.transport.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.trackCredentials(desc)
	l.remoteSet = true
	l.flushPending()
	return nil
}

// CreateAnswerFor applies the partner's offer and returns the local answer.
// An offer that was already answered returns ErrStaleDescription.
func (l *Link) CreateAnswerFor(offer negotiation.Description) (negotiation.Description, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return negotiation.Description{}, ErrClosed
	}
	if l.role != Answerer {
		return negotiation.Description{}, fmt.Errorf("answer as %s: %w", l.role, ErrWrongRole)
	}
	if l.answered && (offer.SDP == l.lastOffer || (offer.Revision != 0 && offer.Revision <= l.revision)) {
		return negotiation.Description{}, fmt.Errorf("offer revision %d: %w", offer.Revision, ErrStaleDescription)
	}

	desc, err := offer.ToPion()
	if err != nil {
		return negotiation.Description{}, err
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return negotiation.Description{}, fmt.Errorf("expected offer, got %s", desc.Type)
	}
	if err := l.transport.SetRemoteDescription(desc); err != nil {
		return negotiation.Description{}, fmt.Errorf("set remote offer: %w", err)
	}
	l.trackCredentials(desc)
	answer, err := l.transport.CreateAnswer()
	if err != nil {
		return negotiation.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.transport.SetLocalDescription(answer); err != nil {
		return negotiation.Description{}, fmt.Errorf("set local answer: %w", err)
	}

	l.answered = true
	l.lastOffer = offer.SDP
	l.revision = offer.Revision
	l.remoteSet = true
	l.flushPending()
	return negotiation.FromPion(answer, offer.Revision, false), nil
}

// trackCredentials must be called with mu held. Candidates carry no ICE
// generation, so the applied set is reset when the partner's ufrag changes
// and re-gathered candidates at the same address are not taken for
// redeliveries.
func (l *Link) trackCredentials(desc webrtc.SessionDescription) {
	ufrag := remoteUfrag(desc)
	if ufrag == "" || ufrag == l.ufrag {
		return
	}
	if l.ufrag != "" {
		l.applied = make(map[string]struct{})
	}
	l.ufrag = ufrag
}

// remoteUfrag returns the ice-ufrag of the description, or an empty string
// when it has none or does not parse.
func remoteUfrag(desc webrtc.SessionDescription) string {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return ""
	}
	if ufrag, ok := parsed.Attribute("ice-ufrag"); ok {
		return ufrag
	}
	for _, m := range parsed.MediaDescriptions {
		if ufrag, ok := m.Attribute("ice-ufrag"); ok {
			return ufrag
		}
	}
	return ""
}

func candidateKey(c webrtc.ICECandidateInit) string {
	key := c.Candidate
	if c.SDPMid != nil {
		key += "|" + *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		key += fmt.Sprintf("|%d", *c.SDPMLineIndex)
	}
	if c.UsernameFragment != nil {
		key += "|" + *c.UsernameFragment
	}
	return key
}

// AddRemoteCandidate applies a candidate of the partner. Candidates that
// arrive before the remote description are held back until it is set.
// It returns false when the candidate was seen before, which is not an error.
func (l *Link) AddRemoteCandidate(c webrtc.ICECandidateInit) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrClosed
	}

	key := candidateKey(c)
	if _, ok := l.applied[key]; ok {
		return false, nil
	}
	l.applied[key] = struct{}{}

	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return true, nil
	}
	if err := l.transport.AddICECandidate(c); err != nil {
		delete(l.applied, key)
		return false, fmt.Errorf("add candidate: %w", err)
	}
	return true, nil
}

// flushPending must be called with mu held. A candidate that fails is
// forgotten so a redelivery can try again.
func (l *Link) flushPending() {
	pending := l.pending
	l.pending = nil

	for _, c := range pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			delete(l.applied, candidateKey(c))
			log.Warn().Err(err).Str("candidate", c.Candidate).Msg("failed to add buffered candidate")
		}
	}
}

// Close closes the transport. It is safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
		err = l.transport.Close()
	})
	return err
}
