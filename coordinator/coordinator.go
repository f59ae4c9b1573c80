// Package coordinator runs the calls of one participant: it creates and joins
// call sessions, drives the peer link through signaling, supervises
// reconnection and reports the lifecycle of the call as events.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/media"
	"duocall/metric"
	"duocall/peerlink"
	"duocall/pkg/callerr"
	"duocall/registry"
	"duocall/signaling"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("coordinator closed")

// Coordinator holds at most one active call at a time.
type Coordinator struct {
	config   Config
	registry registry.Registry
	channel  signaling.Channel
	factory  peerlink.Factory
	provider media.Provider
	metrics  *metric.Metrics
	events   *dispatcher

	mu      sync.Mutex
	state   State
	active  *session
	pending bool
	closed  bool

	// End requested while Start or Join was still running. settled is
	// closed once that call either became active or failed.
	endRequested bool
	endReason    string
	settled      chan struct{}
}

// New creates a new Coordinator. metrics may be nil.
func New(
	config Config,
	reg registry.Registry,
	ch signaling.Channel,
	factory peerlink.Factory,
	provider media.Provider,
	metrics *metric.Metrics,
) *Coordinator {
	return &Coordinator{
		config:   config.withDefaults(),
		registry: reg,
		channel:  ch,
		factory:  factory,
		provider: provider,
		metrics:  metrics,
		events:   newDispatcher(),
	}
}

// Subscribe returns a subscription to the call events.
func (c *Coordinator) Subscribe() *Subscription {
	return c.events.subscribe()
}

// State returns the state of the current or last call.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the active call, or "".
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.id
}

// Start acquires local media, creates a call session and waits for a
// receiver. It returns the session id to share with the receiver.
func (c *Coordinator) Start(ctx context.Context, callType database.CallType) (string, error) {
	if err := callType.Validate(); err != nil {
		return "", err
	}
	if err := c.reserve("start call"); err != nil {
		return "", err
	}

	id, err := c.start(ctx, callType)
	if err != nil {
		c.unreserve()
		c.emitError("", err)
		return "", err
	}
	return id, nil
}

func (c *Coordinator) start(ctx context.Context, callType database.CallType) (string, error) {
	local, err := c.acquire(ctx, callType)
	if err != nil {
		return "", err
	}

	info, err := c.registry.Create(ctx, c.config.UserID, callType)
	if err != nil {
		c.releaseMedia(local)
		return "", err
	}

	link, err := c.newLink(peerlink.Offerer, local, callType)
	if err != nil {
		c.releaseMedia(local)
		c.endRecord(info.ID, ReasonSetupFailed)
		return "", err
	}

	s := newSession(c, info.ID, peerlink.Offerer, callType, link, local, "")
	sub, err := c.channel.Subscribe(ctx, info.ID, c.config.UserID, s.handlers())
	if err != nil {
		s.abort()
		c.endRecord(info.ID, ReasonSignalingUnavailable)
		return "", callerr.New(callerr.SignalingUnavailable, "subscribe", err)
	}
	s.sub = sub
	s.state = Waiting

	ending, reason, err := c.activate(s)
	if err != nil {
		s.abort()
		c.endRecord(info.ID, ReasonClientClosed)
		return "", err
	}
	go s.run()
	if ending {
		s.post(func() { s.end(reason, true) })
		return info.ID, nil
	}

	// The receiver may have joined before the subscription was open.
	if current, err := c.registry.Get(ctx, info.ID); err == nil {
		s.post(func() { s.handleSessionUpdate(current) })
	}

	s.log.Info().Str("call_type", string(callType)).Msg("call started")
	return info.ID, nil
}

// Join joins the call session as its receiver and waits for the offer.
func (c *Coordinator) Join(ctx context.Context, sessionID string, callType database.CallType) error {
	if err := callType.Validate(); err != nil {
		return err
	}
	if err := c.reserve("join call"); err != nil {
		return err
	}

	if err := c.join(ctx, sessionID, callType); err != nil {
		c.unreserve()
		c.emitError(sessionID, err)
		return err
	}
	return nil
}

func (c *Coordinator) join(ctx context.Context, sessionID string, callType database.CallType) error {
	info, err := c.registry.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	switch {
	case info.Status == database.Ended:
		return callerr.New(callerr.SessionNotFound, "join call", fmt.Errorf("session %s: %w", sessionID, database.ErrCallSessionNotFound))
	case info.InitiatorID == c.config.UserID:
		return callerr.New(callerr.Unauthorized, "join call", fmt.Errorf("session %s was started by %s", sessionID, c.config.UserID))
	case info.ReceiverID != "":
		return callerr.New(callerr.SessionAlreadyJoined, "join call", fmt.Errorf("session %s: %w", sessionID, database.ErrReceiverAlreadySet))
	}

	local, err := c.acquire(ctx, callType)
	if err != nil {
		return err
	}

	link, err := c.newLink(peerlink.Answerer, local, callType)
	if err != nil {
		c.releaseMedia(local)
		return err
	}

	s := newSession(c, sessionID, peerlink.Answerer, callType, link, local, info.InitiatorID)
	sub, err := c.channel.Subscribe(ctx, sessionID, c.config.UserID, s.handlers())
	if err != nil {
		s.abort()
		return callerr.New(callerr.SignalingUnavailable, "subscribe", err)
	}
	s.sub = sub

	if _, err := c.registry.Update(ctx, sessionID, database.JoinUpdate(c.config.UserID)); err != nil {
		s.abort()
		if errors.Is(err, database.ErrInvalidTransition) {
			return callerr.New(callerr.SessionNotFound, "join call", err)
		}
		return err
	}
	s.state = Connecting

	ending, reason, err := c.activate(s)
	if err != nil {
		s.abort()
		c.endRecord(sessionID, ReasonClientClosed)
		return err
	}
	go s.run()
	if ending {
		s.post(func() { s.end(reason, true) })
		return nil
	}

	s.log.Info().Str("call_type", string(callType)).Msg("call joined")
	return nil
}

// End ends the active call. Calling it again, or while the call is already
// ending for another reason, has no further effect. A call still being
// started or joined is ended as soon as it is set up. It returns once the
// call is torn down or ctx is done.
func (c *Coordinator) End(ctx context.Context, reason string) error {
	c.mu.Lock()
	s := c.active
	pending := s == nil && c.pending
	if pending && !c.endRequested {
		c.endRequested = true
		c.endReason = reason
	}
	settled := c.settled
	c.mu.Unlock()

	switch {
	case pending:
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		s = c.active
		c.mu.Unlock()
		if s == nil {
			return nil
		}
	case s == nil:
		return nil
	default:
		s.post(func() { s.end(reason, true) })
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToggleAudio flips the local audio track and returns whether it is enabled.
// Without an active audio track it returns false.
func (c *Coordinator) ToggleAudio() bool {
	return c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips the local video track and returns whether it is enabled.
// Without an active video track it returns false.
func (c *Coordinator) ToggleVideo() bool {
	return c.toggle(webrtc.RTPCodecTypeVideo)
}

func (c *Coordinator) toggle(kind webrtc.RTPCodecType) bool {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return false
	}

	var enabled bool
	if kind == webrtc.RTPCodecTypeAudio {
		enabled = s.media.ToggleAudio()
	} else {
		enabled = s.media.ToggleVideo()
	}
	s.log.Debug().Str("kind", kind.String()).Bool("enabled", enabled).Msg("track toggled")
	return enabled
}

// Close ends the active call with ReasonClientClosed, delivers the pending
// events and closes every subscription.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.config.RequestTimeout)
	defer cancel()
	err := c.End(ctx, ReasonClientClosed)
	c.events.close()
	return err
}

func (c *Coordinator) reserve(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.active != nil || c.pending {
		return callerr.New(callerr.SessionAlreadyActive, op, nil)
	}
	c.pending = true
	c.endRequested = false
	c.endReason = ""
	c.settled = make(chan struct{})
	c.state = Initiating
	return nil
}

func (c *Coordinator) unreserve() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	c.endRequested = false
	c.state = Idle
	close(c.settled)
}

// activate makes the session the active call. ending reports that End was
// called while it was set up, with the reason to end it with.
func (c *Coordinator) activate(s *session) (ending bool, reason string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, "", ErrClosed
	}
	c.pending = false
	c.active = s
	c.state = s.state
	c.metrics.ObserveSessionStarted(s.role.String())

	ending, reason = c.endRequested, c.endReason
	c.endRequested = false
	c.endReason = ""
	close(c.settled)
	return ending, reason, nil
}

// setState mirrors the state of the session while it is active.
func (c *Coordinator) setState(s *session, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.state = state
	}
}

func (c *Coordinator) deactivate(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
		c.state = Ended
	}
}

func (c *Coordinator) acquire(ctx context.Context, callType database.CallType) (*media.LocalStream, error) {
	local, err := c.provider.Acquire(ctx, callType)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, media.CaptureError(err)
	}
	return local, nil
}

func (c *Coordinator) releaseMedia(local *media.LocalStream) {
	if err := c.provider.Release(local); err != nil {
		log.Warn().Err(err).Msg("failed to release local media")
	}
}

// newLink creates the link and adds the local tracks. A kind the call needs
// but the local stream lacks is still received.
func (c *Coordinator) newLink(role peerlink.Role, local *media.LocalStream, callType database.CallType) (*peerlink.Link, error) {
	t, err := c.factory.NewTransport()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	link := peerlink.New(role, t)

	for _, track := range local.Tracks() {
		if err := link.AddTrack(track.Local()); err != nil {
			_ = link.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
	}
	if local.Audio() == nil {
		if err := link.AddRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
			_ = link.Close()
			return nil, fmt.Errorf("add audio receiver: %w", err)
		}
	}
	if callType.HasVideo() && local.Video() == nil {
		if err := link.AddRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
			_ = link.Close()
			return nil, fmt.Errorf("add video receiver: %w", err)
		}
	}
	return link, nil
}

// endRecord ends a session that never became active.
func (c *Coordinator) endRecord(id, reason string) {
	ctx, cancel := c.requestContext()
	defer cancel()
	if _, err := c.registry.Update(ctx, id, database.EndUpdate(reason)); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to end call session")
	}
}

func (c *Coordinator) emitError(sessionID string, err error) {
	kind := callerr.KindOf(err)
	c.events.publish(Event{
		Type:      ErrorEvent,
		SessionID: sessionID,
		Kind:      kind,
		Cause:     callerr.Cause(kind),
		Err:       err,
	})
}

func (c *Coordinator) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.config.RequestTimeout)
}
