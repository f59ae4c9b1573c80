// Package media acquires and releases the local camera and microphone
// tracks of a call.
package media

import (
	"context"

	"duocall/database"
)

// Provider acquires local media for a call type. Acquire may block on the
// devices; it fails with a callerr kind of MediaAccessDenied,
// MediaDeviceUnavailable or MediaDeviceBusy.
//
//go:generate mockgen -destination=mock_media.go -package=media . Provider
type Provider interface {
	Acquire(ctx context.Context, callType database.CallType) (*LocalStream, error)
	Release(stream *LocalStream) error
}
