package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/broker"
	"duocall/database"
	"duocall/database/memory"
	"duocall/pkg/callerr"
	"duocall/pkg/socket"
	"duocall/pool"
	"duocall/registry"
	"duocall/signal/controller"
	"duocall/signaling/local"
	"duocall/types/client/request"
	"duocall/types/client/response"
)

const waitTimeout = 2 * time.Second

// fakeSocket is a socket fed by the test. Frames pass through JSON so the
// controller sees exactly what a client would send.
type fakeSocket struct {
	in  chan request.Common
	out chan response.Common

	once   sync.Once
	closed chan struct{}

	nextID int
	pushes []response.Common
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan request.Common, 16),
		out:    make(chan response.Common, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadJSON(v any) error {
	select {
	case req := <-s.in:
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, v)
	case <-s.closed:
		return io.EOF
	}
}

func (s *fakeSocket) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var res response.Common
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	select {
	case s.out <- res:
		return nil
	case <-s.closed:
		return io.ErrClosedPipe
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// call sends a request and returns its RESULT frame. Pushes read on the way
// are kept for push.
func (s *fakeSocket) call(t *testing.T, typ string, payload any) response.Common {
	t.Helper()
	s.nextID++
	req, err := request.New(s.nextID, typ, payload)
	require.NoError(t, err)
	s.in <- req

	for {
		select {
		case res := <-s.out:
			if res.Type == response.RESULT {
				require.Equal(t, s.nextID, res.RequestID)
				return res
			}
			s.pushes = append(s.pushes, res)
		case <-time.After(waitTimeout):
			t.Fatalf("no result for %s", typ)
		}
	}
}

// push returns the next pushed frame of the given type.
func (s *fakeSocket) push(t *testing.T, typ string) response.Common {
	t.Helper()
	for i, res := range s.pushes {
		if res.Type == typ {
			s.pushes = append(s.pushes[:i], s.pushes[i+1:]...)
			return res
		}
	}
	for {
		select {
		case res := <-s.out:
			if res.Type == typ {
				return res
			}
			s.pushes = append(s.pushes, res)
		case <-time.After(waitTimeout):
			t.Fatalf("no %s push", typ)
		}
	}
}

// noPush fails when a frame of the given type arrives within wait.
func (s *fakeSocket) noPush(t *testing.T, typ string, wait time.Duration) {
	t.Helper()
	for _, res := range s.pushes {
		require.NotEqual(t, typ, res.Type)
	}
	deadline := time.After(wait)
	for {
		select {
		case res := <-s.out:
			require.NotEqual(t, typ, res.Type)
			s.pushes = append(s.pushes, res)
		case <-deadline:
			return
		}
	}
}

type tokenVerifier struct{}

// Verify accepts "token-<user>".
func (tokenVerifier) Verify(token string) (string, error) {
	const prefix = "token-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return "", callerr.New(callerr.Unauthorized, "verify token", errors.New("bad token"))
	}
	return token[len(prefix):], nil
}

type server struct {
	con  *controller.Controller
	pool *pool.Pool
}

func newServer() *server {
	db := memory.New()
	relay := local.New(broker.New(), db)
	p := pool.New()
	return &server{
		con:  controller.New(tokenVerifier{}, registry.New(db, relay), relay, p, nil),
		pool: p,
	}
}

// connect activates a socket for the user.
func (s *server) connect(t *testing.T, userID string) *fakeSocket {
	t.Helper()
	sock := newFakeSocket()
	done := make(chan error, 1)
	go func() { done <- s.con.Process(context.Background(), sock) }()
	t.Cleanup(func() {
		_ = sock.Close()
		<-done
	})

	res := sock.call(t, request.ACTIVATE, request.Activate{Token: "token-" + userID})
	require.Nil(t, res.Error)
	var act response.Activate
	require.NoError(t, json.Unmarshal(res.Payload, &act))
	require.Equal(t, userID, act.UserID)
	return sock
}

func decodeSession(t *testing.T, res response.Common) *database.CallSessionInfo {
	t.Helper()
	require.Nil(t, res.Error)
	var info database.CallSessionInfo
	require.NoError(t, json.Unmarshal(res.Payload, &info))
	return &info
}

func requireKind(t *testing.T, res response.Common, kind string) {
	t.Helper()
	require.NotNil(t, res.Error)
	assert.Equal(t, kind, res.Error.Kind)
}

func TestAuthenticate(t *testing.T) {
	t.Run("given a first frame that is not activate when processing then unauthorized is answered", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sock := socket.NewMockSocket(ctrl)
		verifier := controller.NewMockVerifier(ctrl)

		sock.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(func(v any) error {
			*v.(*request.Common) = request.Common{RequestID: 1, Type: request.SIGNAL}
			return nil
		})
		sock.EXPECT().WriteJSON(gomock.Any()).DoAndReturn(func(v any) error {
			res := v.(response.Common)
			assert.Equal(t, 1, res.RequestID)
			assert.Equal(t, string(callerr.Unauthorized), res.Error.Kind)
			return nil
		})

		con := controller.New(verifier, nil, nil, nil, nil)
		err := con.Process(context.Background(), sock)
		assert.ErrorIs(t, err, callerr.ErrUnauthorized)
	})

	t.Run("given an invalid token when processing then unauthorized is answered", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sock := socket.NewMockSocket(ctrl)
		verifier := controller.NewMockVerifier(ctrl)

		sock.EXPECT().ReadJSON(gomock.Any()).DoAndReturn(func(v any) error {
			req, err := request.New(1, request.ACTIVATE, request.Activate{Token: "forged"})
			*v.(*request.Common) = req
			return err
		})
		verifier.EXPECT().Verify("forged").Return("", callerr.New(callerr.Unauthorized, "verify token", nil))
		sock.EXPECT().WriteJSON(gomock.Any()).DoAndReturn(func(v any) error {
			assert.Equal(t, string(callerr.Unauthorized), v.(response.Common).Error.Kind)
			return nil
		})

		con := controller.New(verifier, nil, nil, nil, nil)
		assert.ErrorIs(t, con.Process(context.Background(), sock), callerr.ErrUnauthorized)
	})

	t.Run("given a broken socket when processing then nothing is written", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sock := socket.NewMockSocket(ctrl)

		sock.EXPECT().ReadJSON(gomock.Any()).Return(io.EOF)

		con := controller.New(controller.NewMockVerifier(ctrl), nil, nil, nil, nil)
		assert.ErrorIs(t, con.Process(context.Background(), sock), io.EOF)
	})
}

func TestRequests(t *testing.T) {
	srv := newServer()
	alice := srv.connect(t, "alice")
	bob := srv.connect(t, "bob")
	carol := srv.connect(t, "carol")

	created := decodeSession(t, alice.call(t, request.CREATE_SESSION, request.CreateSession{CallType: database.Video}))
	assert.Equal(t, "alice", created.InitiatorID)
	assert.Equal(t, database.Waiting, created.Status)
	assert.True(t, srv.pool.Contains(created.ID))

	t.Run("given an open seat when anyone reads the session then it is returned", func(t *testing.T) {
		info := decodeSession(t, bob.call(t, request.GET_SESSION, request.GetSession{SessionID: created.ID}))
		assert.Equal(t, created.ID, info.ID)
	})

	t.Run("given an unknown session when reading then session not found", func(t *testing.T) {
		res := bob.call(t, request.GET_SESSION, request.GetSession{SessionID: "missing"})
		requireKind(t, res, string(callerr.SessionNotFound))
	})

	t.Run("given a user seating someone else when updating then unauthorized", func(t *testing.T) {
		res := bob.call(t, request.UPDATE_SESSION, request.UpdateSession{
			SessionID: created.ID,
			Update:    database.JoinUpdate("carol"),
		})
		requireKind(t, res, string(callerr.Unauthorized))
	})

	t.Run("given the initiator taking the receiver seat when updating then unauthorized", func(t *testing.T) {
		res := alice.call(t, request.UPDATE_SESSION, request.UpdateSession{
			SessionID: created.ID,
			Update:    database.JoinUpdate("alice"),
		})
		requireKind(t, res, string(callerr.Unauthorized))
	})

	t.Run("given a non participant changing status when updating then unauthorized", func(t *testing.T) {
		res := carol.call(t, request.UPDATE_SESSION, request.UpdateSession{
			SessionID: created.ID,
			Update:    database.EndUpdate("prank"),
		})
		requireKind(t, res, string(callerr.Unauthorized))
	})

	require.Nil(t, alice.call(t, request.SUBSCRIBE, request.Subscribe{SessionID: created.ID}).Error)
	require.Nil(t, bob.call(t, request.SUBSCRIBE, request.Subscribe{SessionID: created.ID}).Error)

	joined := decodeSession(t, bob.call(t, request.UPDATE_SESSION, request.UpdateSession{
		SessionID: created.ID,
		Update:    database.JoinUpdate("bob"),
	}))
	assert.Equal(t, "bob", joined.ReceiverID)
	assert.Equal(t, database.Connecting, joined.Status)
	assert.False(t, srv.pool.Contains(created.ID))

	t.Run("given a join when the initiator is subscribed then the update is pushed", func(t *testing.T) {
		info := decodeSession(t, alice.push(t, response.SESSION))
		assert.Equal(t, "bob", info.ReceiverID)
	})

	t.Run("given a seat taken when a third user reads or subscribes then unauthorized", func(t *testing.T) {
		requireKind(t, carol.call(t, request.GET_SESSION, request.GetSession{SessionID: created.ID}),
			string(callerr.Unauthorized))
		requireKind(t, carol.call(t, request.SUBSCRIBE, request.Subscribe{SessionID: created.ID}),
			string(callerr.Unauthorized))
	})

	t.Run("given a signal to the counterpart when relayed then it is pushed from the sender", func(t *testing.T) {
		res := alice.call(t, request.SIGNAL, request.Signal{
			SessionID:   created.ID,
			ToUserID:    "bob",
			MessageType: database.Offer,
			MessageData: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		})
		require.Nil(t, res.Error)

		push := bob.push(t, response.SIGNAL)
		var msg database.SignalingMessageInfo
		require.NoError(t, json.Unmarshal(push.Payload, &msg))
		assert.Equal(t, "alice", msg.FromUserID)
		assert.Equal(t, "bob", msg.ToUserID)
		assert.Equal(t, database.Offer, msg.MessageType)
		assert.NotEmpty(t, msg.ID)
	})

	t.Run("given a signal to someone else when relayed then unauthorized", func(t *testing.T) {
		res := alice.call(t, request.SIGNAL, request.Signal{
			SessionID:   created.ID,
			ToUserID:    "carol",
			MessageType: database.Offer,
			MessageData: json.RawMessage(`{}`),
		})
		requireKind(t, res, string(callerr.Unauthorized))
	})

	t.Run("given a signal from a non participant when relayed then unauthorized", func(t *testing.T) {
		res := carol.call(t, request.SIGNAL, request.Signal{
			SessionID:   created.ID,
			ToUserID:    "bob",
			MessageType: database.Offer,
			MessageData: json.RawMessage(`{}`),
		})
		requireKind(t, res, string(callerr.Unauthorized))
	})

	t.Run("given an unknown message type when relayed then invalid request", func(t *testing.T) {
		res := alice.call(t, request.SIGNAL, request.Signal{
			SessionID:   created.ID,
			ToUserID:    "bob",
			MessageType: "bye",
			MessageData: json.RawMessage(`{}`),
		})
		requireKind(t, res, response.InvalidRequest)
	})

	t.Run("given an unknown request type when handled then invalid request", func(t *testing.T) {
		requireKind(t, alice.call(t, "PING", nil), response.InvalidRequest)
	})

	t.Run("given an ended session when moving it back then invalid transition", func(t *testing.T) {
		ended := decodeSession(t, bob.call(t, request.UPDATE_SESSION, request.UpdateSession{
			SessionID: created.ID,
			Update:    database.EndUpdate("user_hangup"),
		}))
		assert.Equal(t, database.Ended, ended.Status)

		res := alice.call(t, request.UPDATE_SESSION, request.UpdateSession{
			SessionID: created.ID,
			Update:    database.StatusUpdate(database.Connected),
		})
		requireKind(t, res, response.InvalidTransition)
	})

	t.Run("given an unsubscribed user when the session changes then nothing more is pushed", func(t *testing.T) {
		require.Nil(t, bob.call(t, request.UNSUBSCRIBE, request.Unsubscribe{SessionID: created.ID}).Error)
		require.Nil(t, bob.call(t, request.UNSUBSCRIBE, request.Unsubscribe{SessionID: created.ID}).Error)
	})
}

func TestSeatTakenDropsViewer(t *testing.T) {
	srv := newServer()
	alice := srv.connect(t, "alice")
	bob := srv.connect(t, "bob")
	mallory := srv.connect(t, "mallory")

	created := decodeSession(t, alice.call(t, request.CREATE_SESSION, request.CreateSession{CallType: database.Video}))
	require.Nil(t, alice.call(t, request.SUBSCRIBE, request.Subscribe{SessionID: created.ID}).Error)
	require.Nil(t, mallory.call(t, request.SUBSCRIBE, request.Subscribe{SessionID: created.ID}).Error)

	require.Nil(t, bob.call(t, request.UPDATE_SESSION, request.UpdateSession{
		SessionID: created.ID,
		Update:    database.JoinUpdate("bob"),
	}).Error)
	joined := decodeSession(t, alice.push(t, response.SESSION))
	require.Equal(t, database.Connecting, joined.Status)

	require.Nil(t, alice.call(t, request.UPDATE_SESSION, request.UpdateSession{
		SessionID: created.ID,
		Update:    database.EndUpdate("user_hangup"),
	}).Error)
	ended := decodeSession(t, alice.push(t, response.SESSION))
	require.Equal(t, database.Ended, ended.Status)

	t.Run("given a viewer subscribed while the seat was open when another user joins then no update reaches the viewer", func(t *testing.T) {
		mallory.noPush(t, response.SESSION, 200*time.Millisecond)
	})

	t.Run("given a dropped viewer when subscribing again then unauthorized", func(t *testing.T) {
		requireKind(t, mallory.call(t, request.SUBSCRIBE, request.Subscribe{SessionID: created.ID}),
			string(callerr.Unauthorized))
	})
}

func TestBacklogOnSubscribe(t *testing.T) {
	srv := newServer()
	alice := srv.connect(t, "alice")
	bob := srv.connect(t, "bob")

	created := decodeSession(t, alice.call(t, request.CREATE_SESSION, request.CreateSession{CallType: database.Voice}))
	require.Nil(t, bob.call(t, request.UPDATE_SESSION, request.UpdateSession{
		SessionID: created.ID,
		Update:    database.JoinUpdate("bob"),
	}).Error)

	require.Nil(t, bob.call(t, request.SIGNAL, request.Signal{
		SessionID:   created.ID,
		ToUserID:    "alice",
		MessageType: database.ICECandidate,
		MessageData: json.RawMessage(`{"candidate":{"candidate":"candidate:1"}}`),
	}).Error)

	require.Nil(t, alice.call(t, request.SUBSCRIBE, request.Subscribe{SessionID: created.ID}).Error)

	push := alice.push(t, response.SIGNAL)
	var msg database.SignalingMessageInfo
	require.NoError(t, json.Unmarshal(push.Payload, &msg))
	assert.Equal(t, database.ICECandidate, msg.MessageType)
}
