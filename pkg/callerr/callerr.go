// Package callerr defines the failure kinds surfaced to callers of a call.
package callerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

// Below are the failure kinds.
const (
	Unknown                Kind = ""
	MediaAccessDenied      Kind = "media_access_denied"
	MediaDeviceUnavailable Kind = "media_device_unavailable"
	MediaDeviceBusy        Kind = "media_device_busy"
	SessionNotFound        Kind = "session_not_found"
	SessionAlreadyJoined   Kind = "session_already_joined"
	SessionAlreadyActive   Kind = "session_already_active"
	SessionCreateFailed    Kind = "session_create_failed"
	SignalingUnavailable   Kind = "signaling_unavailable"
	ConnectionFailed       Kind = "connection_failed"
	Unauthorized           Kind = "unauthorized"
)

var causes = map[Kind]string{
	MediaAccessDenied:      "Please allow camera and microphone access",
	MediaDeviceUnavailable: "No camera or microphone found",
	MediaDeviceBusy:        "Media device is already in use",
	SessionNotFound:        "The call does not exist or has already ended",
	SessionAlreadyJoined:   "Someone else has already joined this call",
	SessionAlreadyActive:   "You are already in a call",
	SessionCreateFailed:    "The call could not be created",
	SignalingUnavailable:   "Unable to reach the call service",
	ConnectionFailed:       "Connection failed after multiple attempts",
	Unauthorized:           "You are not allowed to access this call",
}

// Cause returns the short human-readable cause for the kind.
func Cause(kind Kind) string {
	if cause, ok := causes[kind]; ok {
		return cause
	}
	return "Something went wrong with the call"
}

// ParseKind returns the kind named by s, or Unknown.
func ParseKind(s string) Kind {
	kind := Kind(s)
	if _, ok := causes[kind]; ok {
		return kind
	}
	return Unknown
}

// Error is a failure of an operation with its kind. Err keeps the underlying
// error for logs; it is never shown to users.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New creates an Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Cause returns the short human-readable cause of the error.
func (e *Error) Cause() string {
	return Cause(e.Kind)
}

// Sentinels for errors.Is.
var (
	ErrMediaAccessDenied      = &Error{Kind: MediaAccessDenied}
	ErrMediaDeviceUnavailable = &Error{Kind: MediaDeviceUnavailable}
	ErrMediaDeviceBusy        = &Error{Kind: MediaDeviceBusy}
	ErrSessionNotFound        = &Error{Kind: SessionNotFound}
	ErrSessionAlreadyJoined   = &Error{Kind: SessionAlreadyJoined}
	ErrSessionAlreadyActive   = &Error{Kind: SessionAlreadyActive}
	ErrSessionCreateFailed    = &Error{Kind: SessionCreateFailed}
	ErrSignalingUnavailable   = &Error{Kind: SignalingUnavailable}
	ErrConnectionFailed       = &Error{Kind: ConnectionFailed}
	ErrUnauthorized           = &Error{Kind: Unauthorized}
)

// KindOf returns the kind of the first Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
