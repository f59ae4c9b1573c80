// Package signaling defines the channel that carries negotiation messages
// between the two participants of a call.
//
// Delivery is at-least-once with no ordering guarantee and no deduplication.
// Consumers must tolerate duplicates and reordering.
package signaling

import (
	"context"

	"duocall/database"
)

// Handlers receive inbound traffic of one subscription. Either may be nil.
// They are called from a single goroutine per subscription.
type Handlers struct {
	OnMessage       func(msg *database.SignalingMessageInfo)
	OnSessionUpdate func(info *database.CallSessionInfo)
}

// Subscription is a handle to an open subscription.
type Subscription interface {
	Unsubscribe() error
}

// Channel publishes messages to a partner and subscribes to the messages
// addressed to the local user within one session.
type Channel interface {
	Publish(ctx context.Context, msg *database.SignalingMessageInfo) error
	Subscribe(ctx context.Context, sessionID, userID string, h Handlers) (Subscription, error)
}

// Relay is a Channel that can also fan out session record updates. It is what
// a registry notifies on every change.
type Relay interface {
	Channel
	PublishSessionUpdate(ctx context.Context, info *database.CallSessionInfo) error
}
