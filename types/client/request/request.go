package request

import (
	"encoding/json"

	"duocall/database"
)

// Activate is data type for activating user. It must be the first frame.
type Activate struct {
	Token string `json:"token"`
}

// CreateSession is data type for creating a call session. The initiator is
// the activated user.
type CreateSession struct {
	CallType database.CallType `json:"call_type"`
}

// GetSession is data type for reading a call session.
type GetSession struct {
	SessionID string `json:"session_id"`
}

// UpdateSession is data type for applying partial fields to a call session.
type UpdateSession struct {
	SessionID string                     `json:"session_id"`
	Update    database.CallSessionUpdate `json:"update"`
}

// Subscribe is data type for receiving the signals and session updates of a
// call session.
type Subscribe struct {
	SessionID string `json:"session_id"`
}

// Unsubscribe is data type for stopping a subscription.
type Unsubscribe struct {
	SessionID string `json:"session_id"`
}

// Signal is data type for sending a negotiation message to the counterpart.
// The sender is always the activated user.
type Signal struct {
	SessionID   string               `json:"session_id"`
	ToUserID    string               `json:"to_user_id"`
	MessageType database.MessageType `json:"message_type"`
	MessageData json.RawMessage      `json:"message_data"`
}
