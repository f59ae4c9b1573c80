// Package duocall wires the relay server and the headless call peer.
package duocall

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"duocall/coordinator"
	"duocall/database"
	"duocall/media"
	"duocall/metric"
	"duocall/peerlink"
	"duocall/reconnect"
	"duocall/signal"
)

// Modes of the application.
const (
	ModeRelay  = "relay"
	ModeCall   = "call"
	ModeAnswer = "answer"
	ModeToken  = "token"
)

// Relay backends fanning out signaling messages.
const (
	RelayLocal = "local"
	RelayRedis = "redis"
)

// Below are the errors of the application config.
var (
	ErrInvalidMode     = errors.New("invalid mode")
	ErrInvalidRelay    = errors.New("invalid relay backend")
	ErrMissingRelayURL = errors.New("missing relay url")
	ErrMissingToken    = errors.New("missing token")
	ErrMissingSession  = errors.New("missing session id")
	ErrMissingUser     = errors.New("missing user id")
)

// Config contains the configuration of every mode.
type Config struct {
	Mode    string
	Debug   bool
	LogJSON bool

	// Relay server.
	Signal   signal.Config
	Database database.Config
	Relay    string
	Metrics  metric.Config

	Peer PeerConfig

	// Token mode.
	TokenUserID string
	TokenTTL    time.Duration
}

// PeerConfig contains the configuration of a headless call peer.
type PeerConfig struct {
	RelayURL  string
	Token     string
	SessionID string
	CallType  database.CallType

	// Duration hangs up after the call has been connected this long. Zero
	// keeps the call until it ends or the process is interrupted.
	Duration time.Duration

	PeerLink       peerlink.Config
	Media          media.Config
	Reconnect      reconnect.Config
	RequestTimeout time.Duration
}

// Validate validates the settings the mode uses.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeRelay:
		if err := c.Signal.Validate(); err != nil {
			return err
		}
		if err := c.Database.Validate(); err != nil {
			return err
		}
		if c.Relay != RelayLocal && c.Relay != RelayRedis {
			return fmt.Errorf("%q: %w", c.Relay, ErrInvalidRelay)
		}
		if c.Relay == RelayRedis && c.Database.RedisAddr == "" {
			return fmt.Errorf("redis address is empty: %w", ErrInvalidRelay)
		}
		return c.Metrics.Validate()
	case ModeCall, ModeAnswer:
		return c.Peer.validate(c.Mode)
	case ModeToken:
		if c.TokenUserID == "" {
			return ErrMissingUser
		}
		if c.Signal.JWTSecret == "" {
			return signal.ErrMissingSecret
		}
		return nil
	default:
		return fmt.Errorf("%q: %w", c.Mode, ErrInvalidMode)
	}
}

func (c PeerConfig) validate(mode string) error {
	if c.RelayURL == "" {
		return ErrMissingRelayURL
	}
	if c.Token == "" {
		return ErrMissingToken
	}
	if mode == ModeAnswer && c.SessionID == "" {
		return ErrMissingSession
	}
	if err := c.CallType.Validate(); err != nil {
		return err
	}
	if err := c.PeerLink.Validate(); err != nil {
		return err
	}
	m := c.Media.WithDefaults()
	if !slices.Contains(media.Sources(), m.Source) {
		return fmt.Errorf("%q: %w", m.Source, media.ErrUnknownSource)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	return c.Reconnect.Validate()
}

func (c PeerConfig) coordinator(userID string) coordinator.Config {
	return coordinator.Config{
		UserID:         userID,
		RequestTimeout: c.RequestTimeout,
		Reconnect:      c.Reconnect,
	}
}
