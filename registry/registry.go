// Package registry is the client of the call session registry.
package registry

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/pkg/callerr"
)

// Registry creates, updates and reads call session records.
type Registry interface {
	Create(ctx context.Context, initiatorID string, callType database.CallType) (*database.CallSessionInfo, error)
	Update(ctx context.Context, id string, update database.CallSessionUpdate) (*database.CallSessionInfo, error)
	Get(ctx context.Context, id string) (*database.CallSessionInfo, error)
}

// Notifier is told about every successful record change.
type Notifier interface {
	PublishSessionUpdate(ctx context.Context, info *database.CallSessionInfo) error
}

// Client is a Registry backed by a database.
type Client struct {
	database database.Database
	notifier Notifier
}

// New creates a new Client. The notifier may be nil.
func New(db database.Database, n Notifier) *Client {
	return &Client{
		database: db,
		notifier: n,
	}
}

// Create creates a call session in the waiting status.
func (c *Client) Create(
	ctx context.Context,
	initiatorID string,
	callType database.CallType,
) (*database.CallSessionInfo, error) {
	info, err := c.database.CreateCallSessionInfo(ctx, initiatorID, callType)
	if err != nil {
		return nil, callerr.New(callerr.SessionCreateFailed, "create call session", err)
	}
	return info, nil
}

// Update applies the partial fields and notifies subscribers of the session.
// A rejected transition keeps database.ErrInvalidTransition in the chain.
func (c *Client) Update(
	ctx context.Context,
	id string,
	update database.CallSessionUpdate,
) (*database.CallSessionInfo, error) {
	info, err := c.database.UpdateCallSessionInfo(ctx, id, update)
	if err != nil {
		return nil, mapError("update call session", err)
	}

	if c.notifier != nil {
		if err := c.notifier.PublishSessionUpdate(ctx, info.DeepCopy()); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to publish session update")
		}
	}
	return info, nil
}

// Get reads a call session.
func (c *Client) Get(ctx context.Context, id string) (*database.CallSessionInfo, error) {
	info, err := c.database.FindCallSessionInfoByID(ctx, id)
	if err != nil {
		return nil, mapError("get call session", err)
	}
	return info, nil
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, database.ErrCallSessionNotFound):
		return callerr.New(callerr.SessionNotFound, op, err)
	case errors.Is(err, database.ErrReceiverAlreadySet):
		return callerr.New(callerr.SessionAlreadyJoined, op, err)
	default:
		return err
	}
}
