package media

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Default values for local media. If the values are not set, these values are used.
const (
	DefaultSource    = "static"
	DefaultWidth     = 640
	DefaultHeight    = 480
	DefaultFrameRate = 30
)

// Below are the errors of provider selection.
var (
	ErrUnknownSource = errors.New("unknown media source")
	ErrInvalidConfig = errors.New("invalid media config")
)

// Config defines the local media of a peer.
type Config struct {
	// Source names a registered provider, e.g. "static" or "devices".
	Source    string
	Width     int
	Height    int
	FrameRate float64
}

// WithDefaults fills unset values.
func (c Config) WithDefaults() Config {
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.FrameRate == 0 {
		c.FrameRate = DefaultFrameRate
	}
	return c
}

// Validate validates the config.
func (c Config) Validate() error {
	if c.Width < 0 || c.Height < 0 || c.FrameRate < 0 {
		return fmt.Errorf("%dx%d@%v: %w", c.Width, c.Height, c.FrameRate, ErrInvalidConfig)
	}
	return nil
}

// NewFunc creates a Provider from a config with defaults applied.
type NewFunc func(config Config) (Provider, error)

var (
	sourcesMu sync.RWMutex
	sources   = make(map[string]NewFunc)
)

// Register makes a provider available under name. It panics when called
// twice with the same name.
func Register(name string, f NewFunc) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	if _, dup := sources[name]; dup {
		panic("media: Register called twice for source " + name)
	}
	sources[name] = f
}

// Sources returns the registered source names.
func Sources() []string {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the provider named by config.Source.
func New(config Config) (Provider, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	sourcesMu.RLock()
	f, ok := sources[config.Source]
	sourcesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q (registered: %v): %w", config.Source, Sources(), ErrUnknownSource)
	}
	return f(config)
}
