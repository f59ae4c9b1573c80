package peerlink

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

// Default values for the peer link. If the values are not set, these values are used.
const (
	DefaultSTUNServer          = "stun:stun.l.google.com:19302"
	DefaultDisconnectedTimeout = 5 * time.Second
	DefaultFailedTimeout       = 25 * time.Second
	DefaultKeepAliveInterval   = 2 * time.Second
)

// ErrInvalidPortRange is returned when the UDP port range is inverted.
var ErrInvalidPortRange = errors.New("invalid udp port range")

// Config contains the configuration for peer connections.
type Config struct {
	ICEServers []string
	MinUDPPort uint16
	MaxUDPPort uint16

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// Net replaces the host network, e.g. with a virtual one.
	Net transport.Net
}

// DefaultConfig returns the configuration with a public STUN server.
func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{DefaultSTUNServer},
		DisconnectedTimeout: DefaultDisconnectedTimeout,
		FailedTimeout:       DefaultFailedTimeout,
		KeepAliveInterval:   DefaultKeepAliveInterval,
	}
}

// Validate validates the port range.
func (c Config) Validate() error {
	if c.MinUDPPort == 0 && c.MaxUDPPort == 0 {
		return nil
	}
	if c.MinUDPPort == 0 || c.MinUDPPort > c.MaxUDPPort {
		return fmt.Errorf("%d-%d: %w", c.MinUDPPort, c.MaxUDPPort, ErrInvalidPortRange)
	}
	return nil
}

// SetPortRange sets the ephemeral UDP port range for WebRTC.
func (c Config) SetPortRange(s *webrtc.SettingEngine) error {
	if c.MinUDPPort == 0 && c.MaxUDPPort == 0 {
		return nil
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.SetEphemeralUDPPortRange(c.MinUDPPort, c.MaxUDPPort); err != nil {
		return fmt.Errorf("failed to set ephemeral UDP port range: %w", err)
	}
	return nil
}

func (c Config) iceServers() []webrtc.ICEServer {
	if len(c.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.ICEServers}}
}
