// Package controller handles the requests of one relay connection.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/metric"
	"duocall/pkg/callerr"
	"duocall/pkg/socket"
	"duocall/pool"
	"duocall/registry"
	"duocall/signaling"
	"duocall/types/client/request"
	"duocall/types/client/response"
)

// Controller handles relay connections.
type Controller struct {
	verifier Verifier
	registry registry.Registry
	channel  signaling.Channel
	pool     *pool.Pool
	metric   *metric.Metrics
}

// New creates a new instance of Controller. The pool and metrics may be nil.
func New(
	v Verifier,
	reg registry.Registry,
	ch signaling.Channel,
	p *pool.Pool,
	m *metric.Metrics,
) *Controller {
	return &Controller{
		verifier: v,
		registry: reg,
		channel:  ch,
		pool:     p,
		metric:   m,
	}
}

// connection is the state of one activated socket.
type connection struct {
	*Controller
	sock   socket.Socket
	userID string
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string]signaling.Subscription
}

// Process authenticates the socket and serves its requests until the socket
// fails or ctx is done. It does not close the socket.
func (c *Controller) Process(ctx context.Context, sock socket.Socket) error {
	c.metric.IncrementWebSocketConnections()
	defer c.metric.DecrementWebSocketConnections()

	// 01. Authenticate the connection
	userID, err := c.authenticate(sock)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	conn := &connection{
		Controller: c,
		sock:       sock,
		userID:     userID,
		log:        log.With().Str("user_id", userID).Logger(),
		subs:       make(map[string]signaling.Subscription),
	}
	defer conn.unsubscribeAll()
	conn.log.Debug().Msg("connection activated")

	// 02. Serve requests
	if err := conn.receiveRequest(ctx); err != nil {
		return fmt.Errorf("failed to receive request: %w", err)
	}
	return nil
}

// authenticate reads the ACTIVATE frame and verifies its token.
func (c *Controller) authenticate(sock socket.Socket) (string, error) {
	// 01. Parse the request from the client
	var req request.Common
	if err := sock.ReadJSON(&req); err != nil {
		return "", fmt.Errorf("failed to read authentication message: %w", err)
	}
	if req.Type != request.ACTIVATE {
		err := callerr.New(callerr.Unauthorized, "activate",
			fmt.Errorf("expected type '%s', got '%s'", request.ACTIVATE, req.Type))
		_ = sock.WriteJSON(response.Failure(req.RequestID, err))
		return "", err
	}
	var payload request.Activate
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		err = callerr.New(callerr.Unauthorized, "activate", err)
		_ = sock.WriteJSON(response.Failure(req.RequestID, err))
		return "", err
	}

	// 02. Verify the token
	userID, err := c.verifier.Verify(payload.Token)
	if err != nil {
		_ = sock.WriteJSON(response.Failure(req.RequestID, err))
		return "", err
	}

	res, err := response.Result(req.RequestID, response.Activate{UserID: userID})
	if err != nil {
		return "", err
	}
	if err := sock.WriteJSON(res); err != nil {
		return "", fmt.Errorf("failed to send activation response: %w", err)
	}
	return userID, nil
}

// receiveRequest reads requests until the socket fails and answers each one.
func (c *connection) receiveRequest(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		var req request.Common
		if err := c.sock.ReadJSON(&req); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to parse common message: %w", err)
		}

		var res response.Common
		payload, err := c.handleRequest(ctx, req)
		if err == nil {
			res, err = response.Result(req.RequestID, payload)
		}
		if err != nil {
			c.log.Debug().Err(err).Str("type", req.Type).Msg("request failed")
			res = response.Failure(req.RequestID, err)
		}
		if err := c.sock.WriteJSON(res); err != nil {
			return fmt.Errorf("failed to send result: %w", err)
		}
	}
}

// handleRequest parses the request type and calls the corresponding handler.
func (c *connection) handleRequest(ctx context.Context, req request.Common) (any, error) {
	switch req.Type {
	case request.CREATE_SESSION:
		return c.handleCreateSession(ctx, req)
	case request.GET_SESSION:
		return c.handleGetSession(ctx, req)
	case request.UPDATE_SESSION:
		return c.handleUpdateSession(ctx, req)
	case request.SUBSCRIBE:
		return nil, c.handleSubscribe(ctx, req)
	case request.UNSUBSCRIBE:
		return nil, c.handleUnsubscribe(req)
	case request.SIGNAL:
		return nil, c.handleSignal(ctx, req)
	default:
		return nil, fmt.Errorf("%s: %w", req.Type, response.ErrInvalidRequest)
	}
}

func decode(req request.Common, v any) error {
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %v: %w", req.Type, err, response.ErrInvalidRequest)
	}
	return nil
}

func unauthorized(op string) error {
	return callerr.New(callerr.Unauthorized, op, nil)
}

// canView reports whether the user may read or follow the session: its
// participants, and anyone while the receiver seat is open.
func canView(info *database.CallSessionInfo, userID string) bool {
	if info.IsParticipant(userID) {
		return true
	}
	return info.ReceiverID == "" && info.Status == database.Waiting
}

// handleCreateSession creates a waiting session initiated by the user.
func (c *connection) handleCreateSession(ctx context.Context, req request.Common) (any, error) {
	var payload request.CreateSession
	if err := decode(req, &payload); err != nil {
		return nil, err
	}
	if err := payload.CallType.Validate(); err != nil {
		return nil, err
	}

	info, err := c.registry.Create(ctx, c.userID, payload.CallType)
	if err != nil {
		return nil, err
	}
	if c.pool != nil {
		c.pool.Add(info)
		c.metric.SetWaitingSessions(c.pool.Len())
	}
	c.log.Info().Str("session_id", info.ID).Str("call_type", string(info.CallType)).Msg("session created")
	return info, nil
}

// handleGetSession reads a session the user may view.
func (c *connection) handleGetSession(ctx context.Context, req request.Common) (any, error) {
	var payload request.GetSession
	if err := decode(req, &payload); err != nil {
		return nil, err
	}
	info, err := c.registry.Get(ctx, payload.SessionID)
	if err != nil {
		return nil, err
	}
	if !canView(info, c.userID) {
		return nil, unauthorized("get session")
	}
	return info, nil
}

// handleUpdateSession applies partial fields. Only the user may take the
// receiver seat for themself; every other change needs a participant.
func (c *connection) handleUpdateSession(ctx context.Context, req request.Common) (any, error) {
	var payload request.UpdateSession
	if err := decode(req, &payload); err != nil {
		return nil, err
	}
	current, err := c.registry.Get(ctx, payload.SessionID)
	if err != nil {
		return nil, err
	}

	update := payload.Update
	switch {
	case update.ReceiverID != nil:
		if *update.ReceiverID != c.userID || current.InitiatorID == c.userID {
			return nil, unauthorized("update session")
		}
	case !current.IsParticipant(c.userID):
		return nil, unauthorized("update session")
	}

	info, err := c.registry.Update(ctx, payload.SessionID, update)
	if err != nil {
		return nil, err
	}
	if c.pool != nil && info.Status != database.Waiting && c.pool.Remove(info.ID) {
		c.metric.SetWaitingSessions(c.pool.Len())
	}
	c.log.Debug().Str("session_id", info.ID).Str("state", string(info.Status)).Msg("session updated")
	return info, nil
}

// handleSubscribe pushes the signals addressed to the user and the updates
// of the session until the user unsubscribes or leaves.
func (c *connection) handleSubscribe(ctx context.Context, req request.Common) error {
	var payload request.Subscribe
	if err := decode(req, &payload); err != nil {
		return err
	}
	info, err := c.registry.Get(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	if !canView(info, c.userID) {
		return unauthorized("subscribe")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[payload.SessionID]; ok {
		return nil
	}

	sub, err := c.channel.Subscribe(ctx, payload.SessionID, c.userID, signaling.Handlers{
		OnMessage:       c.pushSignal,
		OnSessionUpdate: c.followSession,
	})
	if err != nil {
		return callerr.New(callerr.SignalingUnavailable, "subscribe", err)
	}
	c.subs[payload.SessionID] = sub
	return nil
}

// handleUnsubscribe stops a subscription. Unknown sessions are ignored.
func (c *connection) handleUnsubscribe(req request.Common) error {
	var payload request.Unsubscribe
	if err := decode(req, &payload); err != nil {
		return err
	}
	sub, ok := c.forget(payload.SessionID)
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// forget removes the subscription of the session from the connection.
func (c *connection) forget(sessionID string) (signaling.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[sessionID]
	delete(c.subs, sessionID)
	return sub, ok
}

// handleSignal relays a negotiation message from the user to the
// counterpart in the session.
func (c *connection) handleSignal(ctx context.Context, req request.Common) error {
	var payload request.Signal
	if err := decode(req, &payload); err != nil {
		return err
	}
	info, err := c.registry.Get(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	if !info.IsParticipant(c.userID) {
		return unauthorized("signal")
	}
	counterpart := info.GetCounterpart(c.userID)
	if counterpart == "" || payload.ToUserID != counterpart {
		return unauthorized("signal")
	}

	msg := &database.SignalingMessageInfo{
		CallSessionID: payload.SessionID,
		FromUserID:    c.userID,
		ToUserID:      counterpart,
		MessageType:   payload.MessageType,
		MessageData:   payload.MessageData,
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := c.channel.Publish(ctx, msg); err != nil {
		return callerr.New(callerr.SignalingUnavailable, "signal", err)
	}
	c.metric.ObserveSignalingMessage(string(msg.MessageType), "relayed")
	return nil
}

func (c *connection) pushSignal(msg *database.SignalingMessageInfo) {
	c.push(response.SIGNAL, msg)
}

// followSession pushes the update while the user may still view the
// session. Once the user lost that right, such as when another user took
// the receiver seat, the subscription is dropped.
func (c *connection) followSession(info *database.CallSessionInfo) {
	if canView(info, c.userID) {
		c.push(response.SESSION, info)
		return
	}
	sub, ok := c.forget(info.ID)
	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		c.log.Warn().Err(err).Str("session_id", info.ID).Msg("failed to unsubscribe")
	}
	c.log.Debug().Str("session_id", info.ID).Msg("subscription revoked")
}

func (c *connection) push(typ string, payload any) {
	res, err := response.Push(typ, payload)
	if err != nil {
		c.log.Error().Err(err).Str("type", typ).Msg("failed to marshal push")
		return
	}
	if err := c.sock.WriteJSON(res); err != nil {
		c.log.Debug().Err(err).Str("type", typ).Msg("failed to push")
	}
}

func (c *connection) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]signaling.Subscription)
	c.mu.Unlock()

	for id, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Warn().Err(err).Str("session_id", id).Msg("failed to unsubscribe")
		}
	}
}
