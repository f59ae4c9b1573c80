// Package databasetest contains the behavior every database backend shares.
package databasetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
)

// RunDatabaseTest runs the shared database cases against db.
func RunDatabaseTest(t *testing.T, db database.Database) {
	ctx := context.Background()

	t.Run("create then find call session test", func(t *testing.T) {
		created, err := db.CreateCallSessionInfo(ctx, "alice", database.Video)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, database.Waiting, created.Status)
		assert.Empty(t, created.ReceiverID)
		assert.False(t, created.CreatedAt.IsZero())

		found, err := db.FindCallSessionInfoByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, "alice", found.InitiatorID)
		assert.Equal(t, database.Video, found.CallType)
	})

	t.Run("invalid call type test", func(t *testing.T) {
		_, err := db.CreateCallSessionInfo(ctx, "alice", database.CallType("hologram"))
		assert.ErrorIs(t, err, database.ErrInvalidCallType)
	})

	t.Run("find unknown call session test", func(t *testing.T) {
		_, err := db.FindCallSessionInfoByID(ctx, "missing")
		assert.ErrorIs(t, err, database.ErrCallSessionNotFound)

		_, err = db.UpdateCallSessionInfo(ctx, "missing", database.StatusUpdate(database.Ended))
		assert.ErrorIs(t, err, database.ErrCallSessionNotFound)
	})

	t.Run("status lifecycle test", func(t *testing.T) {
		s, err := db.CreateCallSessionInfo(ctx, "alice", database.Voice)
		require.NoError(t, err)

		joined, err := db.UpdateCallSessionInfo(ctx, s.ID, database.JoinUpdate("bob"))
		require.NoError(t, err)
		assert.Equal(t, "bob", joined.ReceiverID)
		assert.Equal(t, database.Connecting, joined.Status)

		_, err = db.UpdateCallSessionInfo(ctx, s.ID, database.JoinUpdate("carol"))
		assert.ErrorIs(t, err, database.ErrReceiverAlreadySet)

		connected, err := db.UpdateCallSessionInfo(ctx, s.ID, database.StatusUpdate(database.Connected))
		require.NoError(t, err)
		require.NotNil(t, connected.ConnectedAt)

		ended, err := db.UpdateCallSessionInfo(ctx, s.ID, database.EndUpdate("user_hangup"))
		require.NoError(t, err)
		require.NotNil(t, ended.EndedAt)
		assert.Equal(t, "user_hangup", ended.EndReason)

		_, err = db.UpdateCallSessionInfo(ctx, s.ID, database.EndUpdate("again"))
		assert.ErrorIs(t, err, database.ErrInvalidTransition)

		found, err := db.FindCallSessionInfoByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", found.ReceiverID)
		assert.Equal(t, database.Ended, found.Status)
		assert.Equal(t, "user_hangup", found.EndReason)
		assert.True(t, found.ConnectedAt.Equal(*connected.ConnectedAt))
		assert.True(t, found.EndedAt.Equal(*ended.EndedAt))
	})

	t.Run("concurrent join test", func(t *testing.T) {
		s, err := db.CreateCallSessionInfo(ctx, "alice", database.Video)
		require.NoError(t, err)

		const joiners = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < joiners; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				receiver := string(rune('a' + i))
				if _, err := db.UpdateCallSessionInfo(ctx, s.ID, database.JoinUpdate("user-"+receiver)); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
	})

	t.Run("expire versus join test", func(t *testing.T) {
		s, err := db.CreateCallSessionInfo(ctx, "alice", database.Video)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var joinErr, expireErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, joinErr = db.UpdateCallSessionInfo(ctx, s.ID, database.JoinUpdate("bob"))
		}()
		go func() {
			defer wg.Done()
			_, expireErr = db.UpdateCallSessionInfo(ctx, s.ID, database.ExpireUpdate("no_answer"))
		}()
		wg.Wait()

		found, err := db.FindCallSessionInfoByID(ctx, s.ID)
		require.NoError(t, err)
		if joinErr == nil {
			assert.ErrorIs(t, expireErr, database.ErrInvalidTransition)
			assert.Equal(t, database.Connecting, found.Status)
			assert.Empty(t, found.EndReason)
		} else {
			assert.NoError(t, expireErr)
			assert.Equal(t, database.Ended, found.Status)
			assert.Equal(t, "no_answer", found.EndReason)
			assert.Empty(t, found.ReceiverID)
		}
	})

	t.Run("signaling messages test", func(t *testing.T) {
		s, err := db.CreateCallSessionInfo(ctx, "alice", database.Video)
		require.NoError(t, err)

		payloads := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
		var ids []string
		for _, p := range payloads {
			stored, err := db.CreateSignalingMessageInfo(ctx, &database.SignalingMessageInfo{
				CallSessionID: s.ID,
				FromUserID:    "alice",
				ToUserID:      "bob",
				MessageType:   database.ICECandidate,
				MessageData:   json.RawMessage(p),
			})
			require.NoError(t, err)
			assert.NotEmpty(t, stored.ID)
			assert.False(t, stored.CreatedAt.IsZero())
			ids = append(ids, stored.ID)
		}
		_, err = db.CreateSignalingMessageInfo(ctx, &database.SignalingMessageInfo{
			CallSessionID: s.ID,
			FromUserID:    "bob",
			ToUserID:      "alice",
			MessageType:   database.Answer,
			MessageData:   json.RawMessage(`{"sdp":"x"}`),
		})
		require.NoError(t, err)

		toBob, err := db.FindSignalingMessageInfos(ctx, s.ID, "bob")
		require.NoError(t, err)
		require.Len(t, toBob, 3)
		for i, m := range toBob {
			assert.Equal(t, ids[i], m.ID)
			assert.JSONEq(t, payloads[i], string(m.MessageData))
		}

		toAlice, err := db.FindSignalingMessageInfos(ctx, s.ID, "alice")
		require.NoError(t, err)
		require.Len(t, toAlice, 1)
		assert.Equal(t, database.Answer, toAlice[0].MessageType)
	})

	t.Run("invalid signaling message test", func(t *testing.T) {
		_, err := db.CreateSignalingMessageInfo(ctx, &database.SignalingMessageInfo{
			CallSessionID: "missing",
			FromUserID:    "alice",
			ToUserID:      "bob",
			MessageType:   database.Offer,
			MessageData:   json.RawMessage(`{}`),
		})
		assert.ErrorIs(t, err, database.ErrCallSessionNotFound)

		_, err = db.CreateSignalingMessageInfo(ctx, &database.SignalingMessageInfo{
			CallSessionID: "missing",
			FromUserID:    "alice",
			ToUserID:      "bob",
			MessageType:   database.MessageType("bye"),
			MessageData:   json.RawMessage(`{}`),
		})
		assert.ErrorIs(t, err, database.ErrInvalidMessageType)
	})
}
