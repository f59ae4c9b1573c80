package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/media"
	"duocall/media/stream"
	"duocall/peerlink"
	"duocall/pkg/callerr"
	"duocall/reconnect"
	"duocall/signaling"
	"duocall/types/negotiation"
)

// opsBuffer is the number of posted operations a session queues before
// posting blocks.
const opsBuffer = 128

// session is one call. Every mutation of the call happens on the run
// goroutine: signaling handlers, link events, timer expiries and End post
// operations to it.
type session struct {
	c        *Coordinator
	id       string
	role     peerlink.Role
	callType database.CallType
	link     *peerlink.Link
	media    *media.LocalStream
	policy   *reconnect.Policy
	log      zerolog.Logger

	ops        chan func()
	stopping   chan struct{}
	stopClosed bool
	done       chan struct{}

	// Owned by run.
	sub       signaling.Subscription
	partnerID string
	state     State
	offered   bool
	connected bool
	seen      map[string]struct{}
	reason    string
}

func newSession(
	c *Coordinator,
	id string,
	role peerlink.Role,
	callType database.CallType,
	link *peerlink.Link,
	local *media.LocalStream,
	partnerID string,
) *session {
	s := &session{
		c:         c,
		id:        id,
		role:      role,
		callType:  callType,
		link:      link,
		media:     local,
		partnerID: partnerID,
		state:     Initiating,
		seen:      make(map[string]struct{}),
		ops:       make(chan func(), opsBuffer),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		log: log.With().
			Str("session_id", id).
			Str("user_id", c.config.UserID).
			Str("role", role.String()).
			Logger(),
	}
	s.policy = reconnect.New(c.config.Reconnect, func(gen uint64) {
		s.post(func() { s.handleExpiry(gen) })
	})
	return s
}

// post queues op for the run goroutine. It returns false once the session
// is ending.
func (s *session) post(op func()) bool {
	select {
	case <-s.stopping:
		return false
	default:
	}
	select {
	case s.ops <- op:
		return true
	case <-s.stopping:
		return false
	}
}

func (s *session) handlers() signaling.Handlers {
	return signaling.Handlers{
		OnMessage: func(msg *database.SignalingMessageInfo) {
			s.post(func() { s.handleMessage(msg) })
		},
		OnSessionUpdate: func(info *database.CallSessionInfo) {
			s.post(func() { s.handleSessionUpdate(info) })
		},
	}
}

func (s *session) run() {
	events := s.link.Events()
	for s.state != Ending {
		select {
		case op := <-s.ops:
			op()
		case ev := <-events:
			s.handleLinkEvent(ev)
		}
	}
	s.finish()
}

func (s *session) setState(state State) {
	s.state = state
	s.c.setState(s, state)
}

// abort undoes the setup of a session that never ran.
func (s *session) abort() {
	s.closeStopping()
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.log.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
	if err := s.link.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close link")
	}
	s.c.releaseMedia(s.media)
}

func (s *session) closeStopping() {
	if !s.stopClosed {
		s.stopClosed = true
		close(s.stopping)
	}
}

// end tears the call down once. write is false when the partner already
// ended the session record.
func (s *session) end(reason string, write bool) {
	if s.state == Ending || s.state == Ended {
		return
	}
	if reason == "" {
		reason = DefaultEndReason
	}
	s.reason = reason
	s.setState(Ending)
	s.closeStopping()
	s.policy.Cancel()

	if err := s.sub.Unsubscribe(); err != nil {
		s.log.Warn().Err(err).Msg("failed to unsubscribe")
	}
	if err := s.link.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close link")
	}

	if write {
		ctx, cancel := s.c.requestContext()
		defer cancel()
		if _, err := s.c.registry.Update(ctx, s.id, database.EndUpdate(reason)); err != nil {
			if errors.Is(err, database.ErrInvalidTransition) {
				s.log.Debug().Err(err).Msg("session already ended")
			} else {
				s.log.Warn().Err(err).Msg("failed to end call session")
			}
		}
	}
	s.log.Info().Str("reason", reason).Msg("call ending")
}

// finish runs after the loop. Releasing media may block, so it happens
// after every session operation has stopped.
func (s *session) finish() {
	s.c.releaseMedia(s.media)
	s.setState(Ended)
	s.c.deactivate(s)
	s.c.metrics.ObserveSessionEnded(s.reason)
	s.c.events.publish(Event{Type: CallEndedEvent, SessionID: s.id, Reason: s.reason})
	close(s.done)
}

func (s *session) handleSessionUpdate(info *database.CallSessionInfo) {
	if info.ID != s.id {
		return
	}

	switch {
	case info.Status == database.Ended:
		reason := info.EndReason
		if reason == "" {
			reason = ReasonRemoteEnded
		}
		s.end(reason, false)
	case s.role == peerlink.Offerer && !s.offered &&
		info.Status == database.Connecting && info.ReceiverID != "":
		s.partnerID = info.ReceiverID
		s.setState(Connecting)
		s.log.Info().Str("partner_id", s.partnerID).Msg("receiver joined")
		s.offer(false)
	}
}

func (s *session) offer(iceRestart bool) {
	d, err := s.link.CreateOffer(iceRestart)
	if err != nil {
		s.log.Warn().Err(err).Bool("ice_restart", iceRestart).Msg("failed to create offer")
		return
	}
	s.offered = true
	s.publish(database.Offer, d)
}

// publish sends a payload to the partner. A failed publish is logged and
// the call goes on.
func (s *session) publish(t database.MessageType, payload any) {
	if s.partnerID == "" {
		s.log.Debug().Str("message_type", string(t)).Msg("no partner yet, dropping message")
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("message_type", string(t)).Msg("failed to marshal payload")
		return
	}

	ctx, cancel := s.c.requestContext()
	defer cancel()
	msg := &database.SignalingMessageInfo{
		CallSessionID: s.id,
		FromUserID:    s.c.config.UserID,
		ToUserID:      s.partnerID,
		MessageType:   t,
		MessageData:   data,
	}
	if err := s.c.channel.Publish(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("message_type", string(t)).Msg("failed to publish signaling message")
		return
	}
	s.c.metrics.ObserveSignalingMessage(string(t), "outbound")
}

func (s *session) handleMessage(msg *database.SignalingMessageInfo) {
	if msg.CallSessionID != s.id || msg.ToUserID != s.c.config.UserID {
		return
	}
	if s.partnerID != "" && msg.FromUserID != s.partnerID {
		s.log.Warn().Str("from_user_id", msg.FromUserID).Msg("message from outside the call")
		return
	}
	if _, ok := s.seen[msg.ID]; ok && msg.ID != "" {
		s.log.Debug().Str("message_id", msg.ID).Msg("duplicate signaling message")
		return
	}
	s.c.metrics.ObserveSignalingMessage(string(msg.MessageType), "inbound")

	if err := s.apply(msg); err != nil {
		if errors.Is(err, peerlink.ErrStaleDescription) || errors.Is(err, peerlink.ErrWrongRole) {
			s.log.Debug().Err(err).Str("message_type", string(msg.MessageType)).Msg("signaling message ignored")
			s.seen[msg.ID] = struct{}{}
			return
		}
		s.log.Warn().Err(err).Str("message_type", string(msg.MessageType)).Msg("failed to apply signaling message")
		return
	}
	s.seen[msg.ID] = struct{}{}
}

func (s *session) apply(msg *database.SignalingMessageInfo) error {
	switch msg.MessageType {
	case database.Offer:
		d, err := negotiation.DecodeDescription(msg.MessageData)
		if err != nil {
			return err
		}
		answer, err := s.link.CreateAnswerFor(d)
		if err != nil {
			return err
		}
		if s.partnerID == "" {
			s.partnerID = msg.FromUserID
		}
		s.publish(database.Answer, answer)
		return nil
	case database.Answer:
		d, err := negotiation.DecodeDescription(msg.MessageData)
		if err != nil {
			return err
		}
		return s.link.ApplyRemoteAnswer(d)
	case database.ICECandidate:
		c, err := negotiation.DecodeCandidate(msg.MessageData)
		if err != nil {
			return err
		}
		applied, err := s.link.AddRemoteCandidate(c)
		if err != nil {
			return err
		}
		if !applied {
			s.log.Debug().Str("candidate", c.Candidate).Msg("candidate already applied")
		}
		return nil
	default:
		return fmt.Errorf("%s: %w", msg.MessageType, database.ErrInvalidMessageType)
	}
}

func (s *session) handleLinkEvent(ev peerlink.Event) {
	switch ev.Type {
	case peerlink.CandidateEvent:
		s.publish(database.ICECandidate, negotiation.Candidate{Candidate: ev.Candidate})
	case peerlink.StateEvent:
		s.handleLinkState(ev.State)
	case peerlink.TrackEvent:
		kind := ev.Track.Kind().String()
		r := stream.New(ev.Track, func(*rtp.Packet) {
			s.c.metrics.ObserveRemotePacket(kind)
		})
		go r.Run()
		s.log.Info().Str("kind", kind).Str("track", ev.Track.ID()).Msg("remote track available")
		s.c.events.publish(Event{Type: RemoteStreamEvent, SessionID: s.id, Stream: r})
	}
}

func (s *session) handleLinkState(state webrtc.PeerConnectionState) {
	s.log.Info().Str("state", state.String()).Msg("link state changed")

	if state == webrtc.PeerConnectionStateConnected && !s.connected {
		s.connected = true
		s.setState(Connected)
		s.markConnected()
		s.c.events.publish(Event{Type: ConnectedEvent, SessionID: s.id})
	}
	s.decide(s.policy.Observe(state))
}

// markConnected records the connection. Both participants write it; the
// later write is rejected as a repeated transition.
func (s *session) markConnected() {
	ctx, cancel := s.c.requestContext()
	defer cancel()
	_, err := s.c.registry.Update(ctx, s.id, database.StatusUpdate(database.Connected))
	switch {
	case err == nil:
	case errors.Is(err, database.ErrInvalidTransition):
		s.log.Debug().Err(err).Msg("connection already recorded")
	default:
		s.log.Warn().Err(err).Msg("failed to record connection")
	}
}

func (s *session) handleExpiry(gen uint64) {
	s.decide(s.policy.Expired(gen))
}

func (s *session) decide(d reconnect.Decision) {
	switch d {
	case reconnect.Restart:
		s.c.metrics.ObserveReconnectAttempt()
		s.log.Info().Int("attempt", s.policy.Attempts()).Msg("reconnecting")
		if s.role == peerlink.Offerer {
			s.offer(true)
		}
	case reconnect.Recovered:
		s.log.Info().Msg("link recovered")
	case reconnect.Fail:
		err := callerr.New(callerr.ConnectionFailed, "reconnect",
			fmt.Errorf("link not recovered after %d attempts", s.policy.Attempts()-1))
		s.c.events.publish(Event{
			Type:      ErrorEvent,
			SessionID: s.id,
			Kind:      callerr.ConnectionFailed,
			Cause:     err.Cause(),
			Err:       err,
		})
		s.end(ReasonConnectionFailed, true)
	}
}
