package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
	"duocall/database/databasetest"
	"duocall/database/redis"
)

func TestDB(t *testing.T) {
	addr := os.Getenv("DUOCALL_REDIS_ADDR")
	if addr == "" {
		t.Skip("DUOCALL_REDIS_ADDR is not set")
	}

	db, err := redis.New(context.Background(), database.Config{
		Backend:   database.Redis,
		RedisAddr: addr,
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, db.Close()) }()

	databasetest.RunDatabaseTest(t, db)
}
