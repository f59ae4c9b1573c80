package coordinator

import (
	"errors"
	"time"

	"duocall/reconnect"
)

// Default values for the coordinator. If the values are not set, these values are used.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultEndReason      = "user_hangup"
)

// End reasons set by the coordinator itself.
const (
	ReasonConnectionFailed     = "connection_failed"
	ReasonClientClosed         = "client_closed"
	ReasonRemoteEnded          = "remote_ended"
	ReasonSignalingUnavailable = "signaling_unavailable"
	ReasonSetupFailed          = "setup_failed"
)

// ErrMissingUserID is returned when the config has no local user.
var ErrMissingUserID = errors.New("missing user id")

// Config contains the configuration for the coordinator.
type Config struct {
	// UserID is the local participant.
	UserID string

	// RequestTimeout bounds registry and signaling calls made by the session.
	RequestTimeout time.Duration

	Reconnect reconnect.Config
}

// Validate validates the config.
func (c Config) Validate() error {
	if c.UserID == "" {
		return ErrMissingUserID
	}
	return c.Reconnect.Validate()
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}
