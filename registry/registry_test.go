package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
	"duocall/database/memory"
	"duocall/pkg/callerr"
	"duocall/registry"
)

type recordingNotifier struct {
	mu      sync.Mutex
	updates []*database.CallSessionInfo
	err     error
}

func (n *recordingNotifier) PublishSessionUpdate(_ context.Context, info *database.CallSessionInfo) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, info)
	return n.err
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("given new session when joined then subscribers are notified", func(t *testing.T) {
		n := &recordingNotifier{}
		c := registry.New(memory.New(), n)

		s, err := c.Create(ctx, "alice", database.Video)
		require.NoError(t, err)
		assert.Equal(t, database.Waiting, s.Status)

		joined, err := c.Update(ctx, s.ID, database.JoinUpdate("bob"))
		require.NoError(t, err)
		assert.Equal(t, database.Connecting, joined.Status)

		require.Len(t, n.updates, 1)
		assert.Equal(t, "bob", n.updates[0].ReceiverID)
	})

	t.Run("given unknown session when read then session not found", func(t *testing.T) {
		c := registry.New(memory.New(), nil)

		_, err := c.Get(ctx, "missing")
		assert.ErrorIs(t, err, callerr.ErrSessionNotFound)

		_, err = c.Update(ctx, "missing", database.JoinUpdate("bob"))
		assert.ErrorIs(t, err, callerr.ErrSessionNotFound)
	})

	t.Run("given joined session when joined again then already joined", func(t *testing.T) {
		n := &recordingNotifier{}
		c := registry.New(memory.New(), n)
		s, err := c.Create(ctx, "alice", database.Voice)
		require.NoError(t, err)
		_, err = c.Update(ctx, s.ID, database.JoinUpdate("bob"))
		require.NoError(t, err)

		_, err = c.Update(ctx, s.ID, database.JoinUpdate("carol"))
		assert.ErrorIs(t, err, callerr.ErrSessionAlreadyJoined)
		assert.Len(t, n.updates, 1)
	})

	t.Run("given ended session when ended again then transition error is kept", func(t *testing.T) {
		c := registry.New(memory.New(), nil)
		s, err := c.Create(ctx, "alice", database.Voice)
		require.NoError(t, err)
		_, err = c.Update(ctx, s.ID, database.EndUpdate("user_hangup"))
		require.NoError(t, err)

		_, err = c.Update(ctx, s.ID, database.EndUpdate("user_hangup"))
		assert.ErrorIs(t, err, database.ErrInvalidTransition)
	})

	t.Run("given failing notifier when updated then update still succeeds", func(t *testing.T) {
		n := &recordingNotifier{err: errors.New("relay down")}
		c := registry.New(memory.New(), n)
		s, err := c.Create(ctx, "alice", database.Voice)
		require.NoError(t, err)

		_, err = c.Update(ctx, s.ID, database.EndUpdate("user_hangup"))
		assert.NoError(t, err)
	})

	t.Run("given invalid call type when created then create failed", func(t *testing.T) {
		c := registry.New(memory.New(), nil)
		_, err := c.Create(ctx, "alice", database.CallType("fax"))
		assert.ErrorIs(t, err, callerr.ErrSessionCreateFailed)
	})
}
