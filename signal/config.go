// Package signal is the relay server that carries call sessions and
// signaling messages between the two participants of a call.
package signal

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	// DefaultPort is the default port number for the server.
	DefaultPort = 7070

	// DefaultWaitingTTL is how long a session may wait for a receiver.
	DefaultWaitingTTL = 60 * time.Second

	// NoAnswerReason ends sessions nobody joined in time.
	NoAnswerReason = "no_answer"
)

// Below is the Error message for the server.
var (
	ErrInvalidPort       = errors.New("invalid port")
	ErrInvalidCertFile   = errors.New("invalid cert file")
	ErrInvalidKeyFile    = errors.New("invalid key file")
	ErrInvalidWaitingTTL = errors.New("invalid waiting ttl")
	ErrMissingSecret     = errors.New("missing jwt secret")
)

// Config is the configuration for creating a Server instance.
type Config struct {
	Port       int
	Debug      bool
	CertFile   string
	KeyFile    string
	JWTSecret  string
	WaitingTTL time.Duration
}

// IsSame checks if the given config is the same as the current one.
func (c Config) IsSame(config Config) bool {
	return c.Port == config.Port && c.CertFile == config.CertFile && c.KeyFile == config.KeyFile &&
		c.JWTSecret == config.JWTSecret && c.WaitingTTL == config.WaitingTTL
}

// Validate validates the port number, the token secret and the files for certification.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("must be between 1 and 65535, given %d: %w", c.Port, ErrInvalidPort)
	}

	if c.JWTSecret == "" {
		return ErrMissingSecret
	}

	if c.WaitingTTL <= 0 {
		return fmt.Errorf("must be positive, given %s: %w", c.WaitingTTL, ErrInvalidWaitingTTL)
	}

	if c.CertFile == "" && c.KeyFile == "" {
		return nil
	}

	if _, err := os.Stat(c.CertFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %w", c.CertFile, ErrInvalidCertFile)
		}
		return fmt.Errorf("unable to access %s: %w", c.CertFile, ErrInvalidCertFile)
	}

	if _, err := os.Stat(c.KeyFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %w", c.KeyFile, ErrInvalidKeyFile)
		}
		return fmt.Errorf("unable to access %s: %w", c.KeyFile, ErrInvalidKeyFile)
	}

	return nil
}
