package duocall_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
	"duocall/duocall"
	"duocall/pkg/auth"
	"duocall/pkg/callerr"
	"duocall/signal"
)

func TestIssueToken(t *testing.T) {
	config := duocall.Config{
		Mode:        duocall.ModeToken,
		Signal:      signal.Config{JWTSecret: "secret"},
		TokenUserID: "alice",
	}
	require.NoError(t, config.Validate())

	token, err := duocall.IssueToken(config)
	require.NoError(t, err)

	a, err := auth.New("secret", 0)
	require.NoError(t, err)
	userID, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestNewServer(t *testing.T) {
	config := duocall.Config{
		Mode: duocall.ModeRelay,
		Signal: signal.Config{
			Port:       signal.DefaultPort,
			JWTSecret:  "secret",
			WaitingTTL: time.Minute,
		},
		Database: database.Config{Backend: database.SQLite, SQLitePath: t.TempDir() + "/duocall.db"},
		Relay:    duocall.RelayLocal,
	}
	require.NoError(t, config.Validate())

	s, err := duocall.NewServer(context.Background(), config)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestRunPeer(t *testing.T) {
	t.Run("given a forged token when running a peer then unauthorized", func(t *testing.T) {
		config := duocall.Config{
			Mode:     duocall.ModeRelay,
			Signal:   signal.Config{Port: signal.DefaultPort, JWTSecret: "secret", WaitingTTL: time.Minute},
			Database: database.Config{Backend: database.Memory},
			Relay:    duocall.RelayLocal,
		}
		s, err := duocall.NewServer(context.Background(), config)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		srv := httptest.NewServer(s.Handler())
		defer srv.Close()

		config.Mode = duocall.ModeCall
		config.Peer = duocall.PeerConfig{
			RelayURL: "ws" + strings.TrimPrefix(srv.URL, "http") + signal.SocketPath,
			Token:    "forged",
			CallType: database.Voice,
		}
		err = duocall.RunPeer(context.Background(), config, &bytes.Buffer{})
		assert.ErrorIs(t, err, callerr.ErrUnauthorized)
	})
}
