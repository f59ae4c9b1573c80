package coordinator

import (
	"sync"

	"duocall/media/stream"
	"duocall/pkg/callerr"
)

// EventType tags a call event.
type EventType int

// Below are the event types.
const (
	RemoteStreamEvent EventType = iota
	ConnectedEvent
	CallEndedEvent
	ErrorEvent
)

func (t EventType) String() string {
	switch t {
	case RemoteStreamEvent:
		return "remote_stream"
	case ConnectedEvent:
		return "connected"
	case CallEndedEvent:
		return "call_ended"
	case ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a call lifecycle event. Only the fields of its type are set.
type Event struct {
	Type      EventType
	SessionID string

	// Stream is the partner's track for RemoteStreamEvent.
	Stream *stream.Remote

	// Reason is the end reason for CallEndedEvent.
	Reason string

	// Kind, Cause and Err describe an ErrorEvent. Cause is safe to show to users.
	Kind  callerr.Kind
	Cause string
	Err   error
}

// subscriptionBuffer is the number of events a subscriber may lag behind
// before delivery to it blocks.
const subscriptionBuffer = 16

// Subscription receives the events of a coordinator in order.
type Subscription struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
	owner  *dispatcher
}

// Events returns the events. The channel is closed when the coordinator is
// closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close stops delivery to the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.owner.remove(s)
	})
}

// dispatcher queues events without bound so publishers never block, and
// delivers them to every subscription in publish order.
type dispatcher struct {
	mu      sync.Mutex
	queue   []Event
	subs    []*Subscription
	closing bool

	wake    chan struct{}
	stopped chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe() *Subscription {
	s := &Subscription{
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
		owner:  d,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(s.events)
		return s
	}
	d.subs = append(d.subs, s)
	return s
}

func (d *dispatcher) remove(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, sub := range d.subs {
		if sub == s {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) publish(ev Event) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close delivers the queued events, then closes every subscription.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closing = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.stopped
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			if d.closing {
				subs := d.subs
				d.subs = nil
				d.mu.Unlock()
				for _, s := range subs {
					close(s.events)
				}
				return
			}
			d.mu.Unlock()
			<-d.wake
			continue
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		subs := append([]*Subscription(nil), d.subs...)
		d.mu.Unlock()

		for _, s := range subs {
			select {
			case s.events <- ev:
			case <-s.done:
			}
		}
	}
}
