package database

import (
	"errors"
	"fmt"
	"time"
)

// Backends supported by the relay server.
const (
	Memory = "memory"
	SQLite = "sqlite"
	Redis  = "redis"
)

// Default values for the database. If the values are not set, these values are used.
const (
	DefaultBackend    = Memory
	DefaultSQLitePath = "duocall.db"
	DefaultRedisAddr  = "localhost:6379"
	DefaultRecordTTL  = 24 * time.Hour
)

// ErrInvalidBackend is returned for an unknown backend name.
var ErrInvalidBackend = errors.New("invalid database backend")

// Config contains the configuration for the database.
type Config struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RecordTTL     time.Duration
}

// Validate validates the backend and its required settings.
func (c Config) Validate() error {
	switch c.Backend {
	case Memory:
	case SQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is empty: %w", ErrInvalidBackend)
		}
	case Redis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is empty: %w", ErrInvalidBackend)
		}
	default:
		return fmt.Errorf("%q: %w", c.Backend, ErrInvalidBackend)
	}
	return nil
}
