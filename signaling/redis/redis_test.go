package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
	"duocall/database/memory"
	"duocall/signaling"
	"duocall/signaling/redis"
)

func TestRelay(t *testing.T) {
	addr := os.Getenv("DUOCALL_REDIS_ADDR")
	if addr == "" {
		t.Skip("DUOCALL_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	db := memory.New()
	relay := redis.New(client, db)

	info, err := db.CreateCallSessionInfo(ctx, "alice", database.Video)
	require.NoError(t, err)

	early := &database.SignalingMessageInfo{
		CallSessionID: info.ID,
		FromUserID:    "alice",
		ToUserID:      "bob",
		MessageType:   database.Offer,
		MessageData:   []byte(`{"type":"offer","sdp":"v=0"}`),
	}
	require.NoError(t, relay.Publish(ctx, early))

	messages := make(chan *database.SignalingMessageInfo, 4)
	updates := make(chan *database.CallSessionInfo, 4)
	sub, err := relay.Subscribe(ctx, info.ID, "bob", signaling.Handlers{
		OnMessage:       func(msg *database.SignalingMessageInfo) { messages <- msg },
		OnSessionUpdate: func(info *database.CallSessionInfo) { updates <- info },
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, sub.Unsubscribe()) }()

	t.Run("given a message stored before subscribing when subscribed then it is replayed", func(t *testing.T) {
		select {
		case msg := <-messages:
			assert.Equal(t, database.Offer, msg.MessageType)
		case <-time.After(2 * time.Second):
			t.Fatal("no backlog")
		}
	})

	t.Run("given a live candidate when published then it arrives", func(t *testing.T) {
		require.NoError(t, relay.Publish(ctx, &database.SignalingMessageInfo{
			CallSessionID: info.ID,
			FromUserID:    "alice",
			ToUserID:      "bob",
			MessageType:   database.ICECandidate,
			MessageData:   []byte(`{"candidate":{"candidate":"candidate:1"}}`),
		}))
		select {
		case msg := <-messages:
			assert.Equal(t, database.ICECandidate, msg.MessageType)
		case <-time.After(2 * time.Second):
			t.Fatal("no live message")
		}
	})

	t.Run("given a session update when published then it arrives", func(t *testing.T) {
		require.NoError(t, relay.PublishSessionUpdate(ctx, info))
		select {
		case got := <-updates:
			assert.Equal(t, info.ID, got.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("no session update")
		}
	})
}
