// Package request defines structures for client request messages.
package request

import "encoding/json"

// Constants for request types
const (
	ACTIVATE       = "ACTIVATE"
	CREATE_SESSION = "CREATE_SESSION"
	GET_SESSION    = "GET_SESSION"
	UPDATE_SESSION = "UPDATE_SESSION"
	SUBSCRIBE      = "SUBSCRIBE"
	UNSUBSCRIBE    = "UNSUBSCRIBE"
	SIGNAL         = "SIGNAL"
)

// Common represents a generic request structure used in WebSocket communication.
// RequestID is echoed back in the RESULT frame answering the request.
type Common struct {
	RequestID int             `json:"request_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// New builds a request frame with the payload marshalled to JSON.
func New(requestID int, typ string, payload any) (Common, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Common{}, err
	}
	return Common{
		RequestID: requestID,
		Type:      typ,
		Payload:   data,
	}, nil
}
