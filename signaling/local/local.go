// Package local is an in-process signaling relay on top of the broker. Every
// message is stored before it is fanned out, and stored messages are replayed
// to new subscribers.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"duocall/broker"
	"duocall/broker/subscription"
	"duocall/database"
	"duocall/signaling"
)

// Relay is an in-process signaling relay.
type Relay struct {
	broker   *broker.Broker
	database database.Database
}

// New creates a new Relay.
func New(b *broker.Broker, db database.Database) *Relay {
	return &Relay{
		broker:   b,
		database: db,
	}
}

func signalDetail(sessionID, userID string) broker.Detail {
	return broker.Detail(sessionID + userID)
}

// Publish stores the message and delivers it to the receiver's subscriptions.
func (r *Relay) Publish(ctx context.Context, msg *database.SignalingMessageInfo) error {
	stored, err := r.database.CreateSignalingMessageInfo(ctx, msg)
	if err != nil {
		return fmt.Errorf("store signaling message: %w", err)
	}
	if err := r.broker.Publish(broker.Signal, signalDetail(stored.CallSessionID, stored.ToUserID), stored); err != nil {
		return fmt.Errorf("publish signaling message: %w", err)
	}
	return nil
}

// PublishSessionUpdate delivers the record to every subscription of the session.
func (r *Relay) PublishSessionUpdate(_ context.Context, info *database.CallSessionInfo) error {
	if err := r.broker.Publish(broker.Session, broker.Detail(info.ID), info.DeepCopy()); err != nil {
		return fmt.Errorf("publish session update: %w", err)
	}
	return nil
}

// Subscribe delivers the stored backlog addressed to the user, then live
// messages and session updates, until Unsubscribe is called.
func (r *Relay) Subscribe(
	ctx context.Context,
	sessionID, userID string,
	h signaling.Handlers,
) (signaling.Subscription, error) {
	signals := r.broker.Subscribe(broker.Signal, signalDetail(sessionID, userID))
	sessions := r.broker.Subscribe(broker.Session, broker.Detail(sessionID))

	backlog, err := r.database.FindSignalingMessageInfos(ctx, sessionID, userID)
	if err != nil {
		_ = r.broker.Unsubscribe(broker.Signal, signalDetail(sessionID, userID), signals)
		_ = r.broker.Unsubscribe(broker.Session, broker.Detail(sessionID), sessions)
		return nil, fmt.Errorf("load signaling backlog: %w", err)
	}

	sub := &Subscription{
		relay:     r,
		sessionID: sessionID,
		userID:    userID,
		signals:   signals,
		sessions:  sessions,
		done:      make(chan struct{}),
	}
	go sub.run(backlog, h)
	return sub, nil
}

// Subscription is an open subscription on the relay.
type Subscription struct {
	relay     *Relay
	sessionID string
	userID    string
	signals   *subscription.Subscription
	sessions  *subscription.Subscription

	once sync.Once
	done chan struct{}
}

func (s *Subscription) run(backlog []*database.SignalingMessageInfo, h signaling.Handlers) {
	for _, msg := range backlog {
		select {
		case <-s.done:
			return
		default:
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}

	for {
		select {
		case <-s.done:
			return
		case event := <-s.signals.Receive():
			msg, ok := event.(*database.SignalingMessageInfo)
			if !ok {
				log.Error().Msgf("error occurs in parsing signaling message %v", event)
				continue
			}
			if h.OnMessage != nil {
				h.OnMessage(msg)
			}
		case event := <-s.sessions.Receive():
			info, ok := event.(*database.CallSessionInfo)
			if !ok {
				log.Error().Msgf("error occurs in parsing session update %v", event)
				continue
			}
			if h.OnSessionUpdate != nil {
				h.OnSessionUpdate(info)
			}
		}
	}
}

// Unsubscribe stops delivery. It does not wait for a handler that is running.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if e := s.relay.broker.Unsubscribe(broker.Signal, signalDetail(s.sessionID, s.userID), s.signals); e != nil {
			err = e
		}
		if e := s.relay.broker.Unsubscribe(broker.Session, broker.Detail(s.sessionID), s.sessions); e != nil {
			err = e
		}
	})
	return err
}
