package database_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
)

func TestStatusTransition(t *testing.T) {
	tests := []struct {
		name string
		from database.Status
		to   database.Status
		want bool
	}{
		{name: "given waiting when moved to connecting then allowed", from: database.Waiting, to: database.Connecting, want: true},
		{name: "given waiting when moved to ended then allowed", from: database.Waiting, to: database.Ended, want: true},
		{name: "given connecting when moved to connected then allowed", from: database.Connecting, to: database.Connected, want: true},
		{name: "given connected when moved to connecting then rejected", from: database.Connected, to: database.Connecting, want: false},
		{name: "given connected when moved to connected then rejected", from: database.Connected, to: database.Connected, want: false},
		{name: "given ended when moved anywhere then rejected", from: database.Ended, to: database.Ended, want: false},
		{name: "given waiting when moved to unknown then rejected", from: database.Waiting, to: database.Status("ringing"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestCallSessionApply(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	newSession := func() *database.CallSessionInfo {
		return &database.CallSessionInfo{
			ID:          "session",
			InitiatorID: "alice",
			CallType:    database.Video,
			Status:      database.Waiting,
			CreatedAt:   now.Add(-time.Minute),
		}
	}

	t.Run("given waiting session when joined then receiver and status set", func(t *testing.T) {
		s := newSession()
		require.NoError(t, s.Apply(database.JoinUpdate("bob"), now))
		assert.Equal(t, "bob", s.ReceiverID)
		assert.Equal(t, database.Connecting, s.Status)
		assert.Nil(t, s.ConnectedAt)
	})

	t.Run("given joined session when joined again then receiver unchanged", func(t *testing.T) {
		s := newSession()
		require.NoError(t, s.Apply(database.JoinUpdate("bob"), now))
		err := s.Apply(database.JoinUpdate("carol"), now)
		assert.ErrorIs(t, err, database.ErrReceiverAlreadySet)
		assert.Equal(t, "bob", s.ReceiverID)
	})

	t.Run("given initiator when joining own session then rejected", func(t *testing.T) {
		s := newSession()
		assert.ErrorIs(t, s.Apply(database.JoinUpdate("alice"), now), database.ErrInvalidUpdate)
		assert.Empty(t, s.ReceiverID)
	})

	t.Run("given connecting session when connected then connected at set once", func(t *testing.T) {
		s := newSession()
		require.NoError(t, s.Apply(database.JoinUpdate("bob"), now))
		require.NoError(t, s.Apply(database.StatusUpdate(database.Connected), now))
		require.NotNil(t, s.ConnectedAt)
		assert.Equal(t, now, *s.ConnectedAt)

		err := s.Apply(database.StatusUpdate(database.Connected), now.Add(time.Second))
		assert.ErrorIs(t, err, database.ErrInvalidTransition)
		assert.Equal(t, now, *s.ConnectedAt)
	})

	t.Run("given ended session when updated then nothing changes", func(t *testing.T) {
		s := newSession()
		require.NoError(t, s.Apply(database.EndUpdate("user_hangup"), now))
		require.NotNil(t, s.EndedAt)

		assert.ErrorIs(t, s.Apply(database.EndUpdate("other"), now.Add(time.Second)), database.ErrInvalidTransition)
		assert.ErrorIs(t, s.Apply(database.StatusUpdate(database.Connected), now), database.ErrInvalidTransition)
		assert.Equal(t, "user_hangup", s.EndReason)
		assert.Equal(t, now, *s.EndedAt)
	})

	t.Run("given end reason without ended status when applied then rejected", func(t *testing.T) {
		s := newSession()
		reason := "nope"
		assert.ErrorIs(t, s.Apply(database.CallSessionUpdate{EndReason: &reason}, now), database.ErrInvalidUpdate)
	})

	t.Run("given waiting session when expired then ended with the reason", func(t *testing.T) {
		s := newSession()
		require.NoError(t, s.Apply(database.ExpireUpdate("no_answer"), now))
		assert.Equal(t, database.Ended, s.Status)
		assert.Equal(t, "no_answer", s.EndReason)
	})

	t.Run("given joined session when expired then invalid transition and still connecting", func(t *testing.T) {
		s := newSession()
		require.NoError(t, s.Apply(database.JoinUpdate("bob"), now))
		assert.ErrorIs(t, s.Apply(database.ExpireUpdate("no_answer"), now), database.ErrInvalidTransition)
		assert.Equal(t, database.Connecting, s.Status)
		assert.Empty(t, s.EndReason)
		assert.Nil(t, s.EndedAt)
	})

	t.Run("given invalid join when combined with status then status untouched", func(t *testing.T) {
		s := newSession()
		require.NoError(t, s.Apply(database.JoinUpdate("bob"), now))
		update := database.JoinUpdate("carol")
		ended := database.Ended
		update.Status = &ended
		assert.Error(t, s.Apply(update, now))
		assert.Equal(t, database.Connecting, s.Status)
	})
}

func TestCallSessionDeepCopy(t *testing.T) {
	now := time.Now()
	s := &database.CallSessionInfo{ID: "id", InitiatorID: "alice", Status: database.Waiting, CreatedAt: now}
	require.NoError(t, s.Apply(database.EndUpdate("bye"), now))

	c := s.DeepCopy()
	assert.Equal(t, s, c)
	*c.EndedAt = now.Add(time.Hour)
	assert.Equal(t, now, *s.EndedAt)
}
