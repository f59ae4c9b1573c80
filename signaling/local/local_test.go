package local_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/broker"
	"duocall/database"
	"duocall/database/memory"
	"duocall/signaling"
	"duocall/signaling/local"
)

func candidate(sessionID, from, to string, n int) *database.SignalingMessageInfo {
	data, _ := json.Marshal(map[string]int{"n": n})
	return &database.SignalingMessageInfo{
		CallSessionID: sessionID,
		FromUserID:    from,
		ToUserID:      to,
		MessageType:   database.ICECandidate,
		MessageData:   data,
	}
}

func TestRelay(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*local.Relay, *database.CallSessionInfo) {
		db := memory.New()
		s, err := db.CreateCallSessionInfo(ctx, "alice", database.Video)
		require.NoError(t, err)
		return local.New(broker.New(), db), s
	}

	t.Run("given backlog when subscribed then stored messages are replayed first", func(t *testing.T) {
		relay, s := setup(t)
		require.NoError(t, relay.Publish(ctx, candidate(s.ID, "alice", "bob", 1)))
		require.NoError(t, relay.Publish(ctx, candidate(s.ID, "alice", "bob", 2)))

		received := make(chan *database.SignalingMessageInfo, 8)
		sub, err := relay.Subscribe(ctx, s.ID, "bob", signaling.Handlers{
			OnMessage: func(msg *database.SignalingMessageInfo) { received <- msg },
		})
		require.NoError(t, err)
		defer func() { assert.NoError(t, sub.Unsubscribe()) }()

		require.NoError(t, relay.Publish(ctx, candidate(s.ID, "alice", "bob", 3)))

		for i := 1; i <= 3; i++ {
			select {
			case msg := <-received:
				assert.JSONEq(t, `{"n":`+string(rune('0'+i))+`}`, string(msg.MessageData))
				assert.NotEmpty(t, msg.ID)
			case <-time.After(time.Second):
				t.Fatalf("message %d not delivered", i)
			}
		}
	})

	t.Run("given message to other user when published then subscriber ignores it", func(t *testing.T) {
		relay, s := setup(t)
		received := make(chan *database.SignalingMessageInfo, 1)
		sub, err := relay.Subscribe(ctx, s.ID, "bob", signaling.Handlers{
			OnMessage: func(msg *database.SignalingMessageInfo) { received <- msg },
		})
		require.NoError(t, err)
		defer func() { assert.NoError(t, sub.Unsubscribe()) }()

		require.NoError(t, relay.Publish(ctx, candidate(s.ID, "bob", "alice", 1)))
		select {
		case msg := <-received:
			t.Fatalf("unexpected message %v", msg)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("given session update when published then subscriber is notified", func(t *testing.T) {
		relay, s := setup(t)
		updates := make(chan *database.CallSessionInfo, 1)
		sub, err := relay.Subscribe(ctx, s.ID, "alice", signaling.Handlers{
			OnSessionUpdate: func(info *database.CallSessionInfo) { updates <- info },
		})
		require.NoError(t, err)
		defer func() { assert.NoError(t, sub.Unsubscribe()) }()

		s.Status = database.Connecting
		s.ReceiverID = "bob"
		require.NoError(t, relay.PublishSessionUpdate(ctx, s))

		select {
		case info := <-updates:
			assert.Equal(t, "bob", info.ReceiverID)
		case <-time.After(time.Second):
			t.Fatal("session update not delivered")
		}
	})

	t.Run("given unknown session when published then error", func(t *testing.T) {
		relay, _ := setup(t)
		assert.ErrorIs(t, relay.Publish(ctx, candidate("missing", "alice", "bob", 1)), database.ErrCallSessionNotFound)
	})

	t.Run("given unsubscribed when unsubscribed again then no error", func(t *testing.T) {
		relay, s := setup(t)
		sub, err := relay.Subscribe(ctx, s.ID, "bob", signaling.Handlers{})
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())
		assert.NoError(t, sub.Unsubscribe())
	})
}
