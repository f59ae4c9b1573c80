// Package subscription provides a buffered receive queue for one subscriber.
package subscription

import "sync"

// DefaultQueueSize is the number of messages buffered before Send blocks.
const DefaultQueueSize = 64

// Subscription is a queue of messages for one subscriber.
type Subscription struct {
	queue chan any
	done  chan struct{}
	once  sync.Once
}

// New creates a new Subscription.
func New() *Subscription {
	return &Subscription{
		queue: make(chan any, DefaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Send queues the message. It blocks while the queue is full and returns
// without queueing once the subscription is closed.
func (s *Subscription) Send(message any) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- message:
	case <-s.done:
	}
}

// Receive returns the queue of messages.
func (s *Subscription) Receive() <-chan any {
	return s.queue
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close closes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}
