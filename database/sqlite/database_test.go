package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
	"duocall/database/databasetest"
	"duocall/database/sqlite"
)

func TestDB(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "duocall.db"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, db.Close()) }()

	databasetest.RunDatabaseTest(t, db)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duocall.db")
	ctx := context.Background()

	db, err := sqlite.Open(path)
	require.NoError(t, err)
	created, err := db.CreateCallSessionInfo(ctx, "alice", database.Video)
	require.NoError(t, err)
	_, err = db.UpdateCallSessionInfo(ctx, created.ID, database.JoinUpdate("bob"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = sqlite.Open(path)
	require.NoError(t, err)
	defer func() { assert.NoError(t, db.Close()) }()

	found, err := db.FindCallSessionInfoByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", found.ReceiverID)
	assert.Equal(t, database.Connecting, found.Status)
	assert.Nil(t, found.ConnectedAt)
	assert.True(t, created.CreatedAt.Equal(found.CreatedAt))
}
