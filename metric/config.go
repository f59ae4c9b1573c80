package metric

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default values for metrics configuration.
const (
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultSystemInterval = 5 * time.Second
)

// ErrInvalidConfig is returned for an unusable metrics config.
var ErrInvalidConfig = errors.New("invalid metrics config")

// Config defines the configuration for the metrics server.
type Config struct {
	Port           int    // Port for metrics server, 0 disables the server
	Path           string // Path for metrics endpoint
	SystemInterval time.Duration
}

// Validate validates the config.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d: %w", c.Port, ErrInvalidConfig)
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q: %w", c.Path, ErrInvalidConfig)
	}
	if c.SystemInterval < 0 {
		return fmt.Errorf("system interval %s: %w", c.SystemInterval, ErrInvalidConfig)
	}
	return nil
}
