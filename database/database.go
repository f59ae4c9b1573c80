// Package database provides an interface for call session and signaling
// message storage.
package database

import (
	"context"
	"errors"
)

var (
	// ErrCallSessionAlreadyExists is returned when the call session already exists.
	ErrCallSessionAlreadyExists = errors.New("call session already exists")

	// ErrCallSessionNotFound is returned when the call session is not found.
	ErrCallSessionNotFound = errors.New("call session not found")

	// ErrReceiverAlreadySet is returned when a second receiver tries to join.
	ErrReceiverAlreadySet = errors.New("receiver already set")

	// ErrInvalidTransition is returned when a status update would move backwards
	// or leave the ended status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidUpdate is returned when the partial fields are inconsistent.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrInvalidCallType is returned for an unknown call type.
	ErrInvalidCallType = errors.New("invalid call type")

	// ErrInvalidStatus is returned for an unknown status.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidMessageType is returned for an unknown signaling message type.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrInvalidMessage is returned when a signaling message misses required fields.
	ErrInvalidMessage = errors.New("invalid signaling message")
)

// Database is an interface for database operations.
type Database interface {
	CreateCallSessionInfo(ctx context.Context, initiatorID string, callType CallType) (*CallSessionInfo, error)
	FindCallSessionInfoByID(ctx context.Context, id string) (*CallSessionInfo, error)
	UpdateCallSessionInfo(ctx context.Context, id string, update CallSessionUpdate) (*CallSessionInfo, error)

	CreateSignalingMessageInfo(ctx context.Context, msg *SignalingMessageInfo) (*SignalingMessageInfo, error)
	FindSignalingMessageInfos(ctx context.Context, callSessionID, toUserID string) ([]*SignalingMessageInfo, error)

	Close() error
}
