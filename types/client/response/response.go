// Package response provides data types for server response to client.
package response

import (
	"encoding/json"
	"errors"
	"fmt"

	"duocall/database"
	"duocall/pkg/callerr"
)

// Constants for response types
const (
	ACTIVATE = "ACTIVATE"
	RESULT   = "RESULT"
	SIGNAL   = "SIGNAL"
	SESSION  = "SESSION"
)

// Error kinds that are not call failure kinds.
const (
	InvalidTransition = "invalid_transition"
	InvalidRequest    = "invalid_request"
	Internal          = "internal"
)

// ErrInvalidRequest is returned for a malformed or unknown request.
var ErrInvalidRequest = errors.New("invalid request")

// Common is the frame sent by the server. RESULT frames answer the request
// with the same RequestID; SIGNAL and SESSION frames are pushed.
type Common struct {
	Type      string          `json:"type"`
	RequestID int             `json:"request_id,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Error is data type for a failed request.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Activate is the payload of a successful activation.
type Activate struct {
	UserID string `json:"user_id"`
}

// NewError converts err into its wire form. Call failure kinds keep their
// human-readable cause; everything else is reduced to a coarse kind.
func NewError(err error) *Error {
	if kind := callerr.KindOf(err); kind != callerr.Unknown {
		return &Error{Kind: string(kind), Message: callerr.Cause(kind)}
	}
	switch {
	case errors.Is(err, database.ErrInvalidTransition):
		return &Error{Kind: InvalidTransition, Message: err.Error()}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, database.ErrInvalidUpdate),
		errors.Is(err, database.ErrInvalidCallType),
		errors.Is(err, database.ErrInvalidStatus),
		errors.Is(err, database.ErrInvalidMessageType),
		errors.Is(err, database.ErrInvalidMessage),
		errors.Is(err, database.ErrReceiverAlreadySet):
		return &Error{Kind: InvalidRequest, Message: err.Error()}
	default:
		return &Error{Kind: Internal, Message: "internal error"}
	}
}

// Err converts the wire form back into an error that matches the same
// sentinels as the error it was built from.
func (e *Error) Err(op string) error {
	if kind := callerr.ParseKind(e.Kind); kind != callerr.Unknown {
		return callerr.New(kind, op, errors.New(e.Message))
	}
	switch e.Kind {
	case InvalidTransition:
		return fmt.Errorf("%s: %s: %w", op, e.Message, database.ErrInvalidTransition)
	case InvalidRequest:
		return fmt.Errorf("%s: %s: %w", op, e.Message, ErrInvalidRequest)
	default:
		return fmt.Errorf("%s: %s: %s", op, e.Kind, e.Message)
	}
}

// Result builds a successful RESULT frame.
func Result(requestID int, payload any) (Common, error) {
	res := Common{Type: RESULT, RequestID: requestID}
	if payload == nil {
		return res, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Common{}, err
	}
	res.Payload = data
	return res, nil
}

// Failure builds a failed RESULT frame.
func Failure(requestID int, err error) Common {
	return Common{Type: RESULT, RequestID: requestID, Error: NewError(err)}
}

// Push builds a pushed frame of the given type.
func Push(typ string, payload any) (Common, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Common{}, err
	}
	return Common{Type: typ, Payload: data}, nil
}
