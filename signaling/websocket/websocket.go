// Package websocket is a client of the relay server. It serves as both the
// signaling channel and the session registry of a call.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/pkg/callerr"
	"duocall/pkg/socket"
	"duocall/signaling"
	"duocall/types/client/request"
	"duocall/types/client/response"
)

// unsubscribeTimeout bounds the request sent when a subscription ends.
const unsubscribeTimeout = 5 * time.Second

// ErrClosed is returned for requests on a closed client.
var ErrClosed = errors.New("relay connection closed")

// Client is an activated relay connection.
type Client struct {
	sock   socket.Socket
	userID string

	mu      sync.Mutex
	nextID  int
	pending map[int]chan response.Common
	subs    map[string]*Subscription

	once    sync.Once
	closed  chan struct{}
	readErr error
}

// Dial connects to the relay at url and activates the connection with token.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	sock, err := socket.Dial(ctx, url, nil)
	if err != nil {
		return nil, callerr.New(callerr.SignalingUnavailable, "dial relay", err)
	}
	c, err := Activate(ctx, sock, token)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	return c, nil
}

// Activate starts a client on an open socket and activates it with token.
func Activate(ctx context.Context, sock socket.Socket, token string) (*Client, error) {
	c := &Client{
		sock:    sock,
		pending: make(map[int]chan response.Common),
		subs:    make(map[string]*Subscription),
		closed:  make(chan struct{}),
	}
	go c.readLoop()

	var act response.Activate
	if err := c.call(ctx, "activate", request.ACTIVATE, request.Activate{Token: token}, &act); err != nil {
		c.shutdown(err)
		return nil, err
	}
	c.userID = act.UserID
	return c, nil
}

// UserID returns the user the connection was activated for.
func (c *Client) UserID() string {
	return c.userID
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Close closes the connection and stops every subscription.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return c.sock.Close()
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.readErr = err
		subs := c.subs
		c.subs = make(map[string]*Subscription)
		c.mu.Unlock()

		close(c.closed)
		for _, sub := range subs {
			sub.inbox.stop()
		}
	})
}

func (c *Client) readLoop() {
	for {
		var res response.Common
		if err := c.sock.ReadJSON(&res); err != nil {
			select {
			case <-c.closed:
			default:
				log.Warn().Err(err).Msg("relay connection lost")
			}
			c.shutdown(err)
			return
		}

		switch res.Type {
		case response.RESULT:
			c.mu.Lock()
			ch, ok := c.pending[res.RequestID]
			delete(c.pending, res.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- res
			}
		case response.SIGNAL:
			var msg database.SignalingMessageInfo
			if err := json.Unmarshal(res.Payload, &msg); err != nil {
				log.Error().Err(err).Msg("error occurs in parsing signaling message")
				continue
			}
			if sub := c.subscription(msg.CallSessionID); sub != nil && sub.handlers.OnMessage != nil {
				sub.inbox.push(func() { sub.handlers.OnMessage(&msg) })
			}
		case response.SESSION:
			var info database.CallSessionInfo
			if err := json.Unmarshal(res.Payload, &info); err != nil {
				log.Error().Err(err).Msg("error occurs in parsing session update")
				continue
			}
			if sub := c.subscription(info.ID); sub != nil && sub.handlers.OnSessionUpdate != nil {
				sub.inbox.push(func() { sub.handlers.OnSessionUpdate(&info) })
			}
		default:
			log.Debug().Str("type", res.Type).Msg("unknown frame from relay")
		}
	}
}

func (c *Client) subscription(sessionID string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[sessionID]
}

// call sends a request and waits for its result. A failed result is turned
// back into the error the server reported; transport failures are
// SignalingUnavailable.
func (c *Client) call(ctx context.Context, op, typ string, payload, out any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan response.Common, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case <-c.closed:
		return callerr.New(callerr.SignalingUnavailable, op, ErrClosed)
	default:
	}

	req, err := request.New(id, typ, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.sock.WriteJSON(req); err != nil {
		return callerr.New(callerr.SignalingUnavailable, op, err)
	}

	var res response.Common
	select {
	case res = <-ch:
	case <-c.closed:
		return callerr.New(callerr.SignalingUnavailable, op, ErrClosed)
	case <-ctx.Done():
		return callerr.New(callerr.SignalingUnavailable, op, ctx.Err())
	}

	if res.Error != nil {
		return res.Error.Err(op)
	}
	if out == nil || len(res.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Payload, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	return nil
}

func (c *Client) checkUser(op, userID string) error {
	if userID != c.userID {
		return callerr.New(callerr.Unauthorized, op,
			fmt.Errorf("connection belongs to %s, not %s", c.userID, userID))
	}
	return nil
}

// Create creates a call session initiated by the connection's user.
func (c *Client) Create(
	ctx context.Context,
	initiatorID string,
	callType database.CallType,
) (*database.CallSessionInfo, error) {
	if err := c.checkUser("create call session", initiatorID); err != nil {
		return nil, err
	}
	var info database.CallSessionInfo
	err := c.call(ctx, "create call session", request.CREATE_SESSION, request.CreateSession{CallType: callType}, &info)
	if err != nil {
		if callerr.KindOf(err) == callerr.Unknown {
			err = callerr.New(callerr.SessionCreateFailed, "create call session", err)
		}
		return nil, err
	}
	return &info, nil
}

// Update applies the partial fields to a call session.
func (c *Client) Update(
	ctx context.Context,
	id string,
	update database.CallSessionUpdate,
) (*database.CallSessionInfo, error) {
	var info database.CallSessionInfo
	err := c.call(ctx, "update call session", request.UPDATE_SESSION, request.UpdateSession{
		SessionID: id,
		Update:    update,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Get reads a call session.
func (c *Client) Get(ctx context.Context, id string) (*database.CallSessionInfo, error) {
	var info database.CallSessionInfo
	if err := c.call(ctx, "get call session", request.GET_SESSION, request.GetSession{SessionID: id}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Publish sends a message from the connection's user to the counterpart.
func (c *Client) Publish(ctx context.Context, msg *database.SignalingMessageInfo) error {
	if err := c.checkUser("publish", msg.FromUserID); err != nil {
		return err
	}
	return c.call(ctx, "publish", request.SIGNAL, request.Signal{
		SessionID:   msg.CallSessionID,
		ToUserID:    msg.ToUserID,
		MessageType: msg.MessageType,
		MessageData: msg.MessageData,
	}, nil)
}

// Subscribe delivers the messages addressed to the connection's user and
// the updates of the session. Handlers run on one goroutine per
// subscription, in arrival order.
func (c *Client) Subscribe(
	ctx context.Context,
	sessionID, userID string,
	h signaling.Handlers,
) (signaling.Subscription, error) {
	if err := c.checkUser("subscribe", userID); err != nil {
		return nil, err
	}

	sub := &Subscription{
		client:    c,
		sessionID: sessionID,
		handlers:  h,
		inbox:     newInbox(),
	}
	c.mu.Lock()
	if _, ok := c.subs[sessionID]; ok {
		c.mu.Unlock()
		sub.inbox.stop()
		return nil, fmt.Errorf("%s: already subscribed", sessionID)
	}
	c.subs[sessionID] = sub
	c.mu.Unlock()

	if err := c.call(ctx, "subscribe", request.SUBSCRIBE, request.Subscribe{SessionID: sessionID}, nil); err != nil {
		c.remove(sub)
		return nil, err
	}
	return sub, nil
}

func (c *Client) remove(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub.inbox.stop()
	if c.subs[sub.sessionID] != sub {
		return false
	}
	delete(c.subs, sub.sessionID)
	return true
}

// Subscription is an open subscription on the relay.
type Subscription struct {
	client    *Client
	sessionID string
	handlers  signaling.Handlers
	inbox     *inbox
	once      sync.Once
}

// Unsubscribe stops delivery. It does not wait for a handler that is running.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		if !s.client.remove(s) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		err = s.client.call(ctx, "unsubscribe", request.UNSUBSCRIBE, request.Unsubscribe{SessionID: s.sessionID}, nil)
	})
	return err
}
