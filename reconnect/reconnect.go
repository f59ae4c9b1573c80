// Package reconnect supervises recovery of a disrupted peer link with a
// bounded number of ICE restart attempts.
package reconnect

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// Default values for the policy. If the values are not set, these values are used.
const (
	DefaultMaxAttempts = 3
	DefaultWait        = 5 * time.Second
)

// ErrInvalidConfig is returned for a negative attempt budget or wait.
var ErrInvalidConfig = errors.New("invalid reconnect config")

// Config bounds the recovery of one link.
type Config struct {
	MaxAttempts int
	Wait        time.Duration
}

// Validate validates the config.
func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts %d: %w", c.MaxAttempts, ErrInvalidConfig)
	}
	if c.Wait < 0 {
		return fmt.Errorf("wait %s: %w", c.Wait, ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Wait == 0 {
		c.Wait = DefaultWait
	}
	return c
}

// Decision tells the owner of the link what to do next.
type Decision int

const (
	// Ignore means nothing to do.
	Ignore Decision = iota

	// Restart means a new attempt started: the offerer restarts ICE, the
	// answerer waits for the restart offer.
	Restart

	// Recovered means the link is connected again after at least one attempt.
	Recovered

	// Fail means the attempt budget is exhausted and the call must end.
	Fail
)

func (d Decision) String() string {
	switch d {
	case Restart:
		return "restart"
	case Recovered:
		return "recovered"
	case Fail:
		return "fail"
	default:
		return "ignore"
	}
}

// Policy counts recovery attempts and arms one wait timer per attempt.
// It is not safe for concurrent use; the session owning the link calls it
// from one goroutine. Timer expiry is reported through the expire callback
// with the generation of the timer, which the owner hands back to Expired.
type Policy struct {
	config   Config
	expire   func(gen uint64)
	attempts int
	gen      uint64
	timer    *time.Timer
	stopped  bool
}

// New creates a Policy. expire is called from the timer goroutine.
func New(config Config, expire func(gen uint64)) *Policy {
	return &Policy{
		config: config.withDefaults(),
		expire: expire,
	}
}

// Attempts returns the attempts of the current disruption.
func (p *Policy) Attempts() int {
	return p.attempts
}

// Waiting returns whether an attempt timer is armed.
func (p *Policy) Waiting() bool {
	return p.timer != nil
}

// Observe feeds a link state to the policy.
func (p *Policy) Observe(state webrtc.PeerConnectionState) Decision {
	if p.stopped {
		return Ignore
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		recovered := p.attempts > 0
		p.disarm()
		p.attempts = 0
		if recovered {
			return Recovered
		}
		return Ignore
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		// An attempt is already running; its timer decides.
		if p.timer != nil {
			return Ignore
		}
		return p.attempt()
	case webrtc.PeerConnectionStateClosed:
		p.Cancel()
		return Ignore
	default:
		return Ignore
	}
}

// Expired handles the expiry of the timer of generation gen. Expiries of
// cancelled or replaced timers are ignored.
func (p *Policy) Expired(gen uint64) Decision {
	if p.stopped || p.timer == nil || gen != p.gen {
		return Ignore
	}
	p.timer = nil
	return p.attempt()
}

// Cancel stops any armed timer. The policy ignores everything afterwards.
func (p *Policy) Cancel() {
	p.disarm()
	p.stopped = true
}

func (p *Policy) attempt() Decision {
	p.attempts++
	if p.attempts > p.config.MaxAttempts {
		p.Cancel()
		return Fail
	}

	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.config.Wait, func() {
		p.expire(gen)
	})
	return Restart
}

func (p *Policy) disarm() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	// A timer that already fired must not count.
	p.gen++
}
