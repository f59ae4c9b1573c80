// Package broker fans messages out to in-process subscribers by topic and detail.
package broker

import (
	"errors"
	"fmt"
	"sync"

	"duocall/broker/channel"
	"duocall/broker/subscription"
)

// Topic groups channels by message kind.
type Topic int

// Below are the topics.
const (
	// Signal carries signaling messages. Detail is Detail(sessionID + userID)
	// of the receiver.
	Signal Topic = iota

	// Session carries call session record updates. Detail is the session id.
	Session
)

func (t Topic) String() string {
	switch t {
	case Signal:
		return "signal"
	case Session:
		return "session"
	default:
		return fmt.Sprintf("topic(%d)", int(t))
	}
}

// Detail narrows a topic to a single channel.
type Detail string

// ErrSubscriptionNotFound is returned when unsubscribing an unknown subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Broker routes published messages to the subscriptions of a topic and detail.
type Broker struct {
	mu       sync.RWMutex
	channels map[Topic]map[Detail]*channel.Channel
}

// New creates a new Broker.
func New() *Broker {
	return &Broker{
		channels: make(map[Topic]map[Detail]*channel.Channel),
	}
}

// Publish sends the message to every current subscription of topic and detail.
// Publishing to a channel without subscribers drops the message.
func (b *Broker) Publish(topic Topic, detail Detail, message any) error {
	b.mu.RLock()
	ch, ok := b.channels[topic][detail]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	ch.SendAll(message)
	return nil
}

// Subscribe creates a subscription to topic and detail.
func (b *Broker) Subscribe(topic Topic, detail Detail) *subscription.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	details, ok := b.channels[topic]
	if !ok {
		details = make(map[Detail]*channel.Channel)
		b.channels[topic] = details
	}
	ch, ok := details[detail]
	if !ok {
		ch = channel.New()
		details[detail] = ch
	}

	sub := subscription.New()
	ch.AddSubscription(sub)
	return sub
}

// Unsubscribe removes and closes the subscription.
func (b *Broker) Unsubscribe(topic Topic, detail Detail, sub *subscription.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[topic][detail]
	if !ok || !ch.RemoveSubscription(sub) {
		return fmt.Errorf("%s/%s: %w", topic, detail, ErrSubscriptionNotFound)
	}
	if ch.Len() == 0 {
		delete(b.channels[topic], detail)
	}
	return nil
}
