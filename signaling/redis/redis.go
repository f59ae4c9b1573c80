// Package redis is a signaling relay on Redis pub/sub, so that relay servers
// sharing one Redis can serve the two participants of a call from
// different instances. Messages are stored before they are published, and
// stored messages are replayed to new subscribers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/signaling"
)

const channelPrefix = "duocall:"

func signalChannel(sessionID, userID string) string {
	return channelPrefix + "signal:" + sessionID + ":" + userID
}

func sessionChannel(sessionID string) string {
	return channelPrefix + "session:" + sessionID
}

// Relay is a Redis pub/sub signaling relay.
type Relay struct {
	client   *redis.Client
	database database.Database
}

// New creates a new Relay.
func New(client *redis.Client, db database.Database) *Relay {
	return &Relay{
		client:   client,
		database: db,
	}
}

// Publish stores the message and publishes it to the receiver's channel.
func (r *Relay) Publish(ctx context.Context, msg *database.SignalingMessageInfo) error {
	stored, err := r.database.CreateSignalingMessageInfo(ctx, msg)
	if err != nil {
		return fmt.Errorf("store signaling message: %w", err)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal signaling message: %w", err)
	}
	if err := r.client.Publish(ctx, signalChannel(stored.CallSessionID, stored.ToUserID), data).Err(); err != nil {
		return fmt.Errorf("publish signaling message: %w", err)
	}
	return nil
}

// PublishSessionUpdate publishes the record to the session channel.
func (r *Relay) PublishSessionUpdate(ctx context.Context, info *database.CallSessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session update: %w", err)
	}
	if err := r.client.Publish(ctx, sessionChannel(info.ID), data).Err(); err != nil {
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
	signals := signalChannel(sessionID, userID)
	ps := r.client.Subscribe(ctx, signals, sessionChannel(sessionID))

	// Wait for the subscription to be confirmed so nothing published after
	// the backlog is read can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	backlog, err := r.database.FindSignalingMessageInfos(ctx, sessionID, userID)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("load signaling backlog: %w", err)
	}

	sub := &Subscription{
		pubsub:  ps,
		signals: signals,
		done:    make(chan struct{}),
	}
	go sub.run(backlog, h)
	return sub, nil
}

// Subscription is an open subscription on the relay.
type Subscription struct {
	pubsub  *redis.PubSub
	signals string

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

	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(m, h)
		}
	}
}

func (s *Subscription) dispatch(m *redis.Message, h signaling.Handlers) {
	if m.Channel == s.signals {
		var msg database.SignalingMessageInfo
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			log.Error().Err(err).Msg("error occurs in parsing signaling message")
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(&msg)
		}
		return
	}

	var info database.CallSessionInfo
	if err := json.Unmarshal([]byte(m.Payload), &info); err != nil {
		log.Error().Err(err).Msg("error occurs in parsing session update")
		return
	}
	if h.OnSessionUpdate != nil {
		h.OnSessionUpdate(&info)
	}
}

// Unsubscribe stops delivery. It does not wait for a handler that is running.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
