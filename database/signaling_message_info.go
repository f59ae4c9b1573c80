package database

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MessageType is the negotiation step carried by a signaling message.
type MessageType string

const (
	// Offer carries the offerer's session description.
	Offer MessageType = "offer"

	// Answer carries the answerer's session description.
	Answer MessageType = "answer"

	// ICECandidate carries one discovered network path.
	ICECandidate MessageType = "ice-candidate"
)

// Validate checks the message type is one of the known values.
func (t MessageType) Validate() error {
	switch t {
	case Offer, Answer, ICECandidate:
		return nil
	}
	return fmt.Errorf("%q: %w", t, ErrInvalidMessageType)
}

// SignalingMessageInfo is a struct for signaling message information.
// Messages are immutable once stored.
type SignalingMessageInfo struct {
	ID            string          `json:"id"`
	CallSessionID string          `json:"call_session_id"`
	FromUserID    string          `json:"from_user_id"`
	ToUserID      string          `json:"to_user_id"`
	MessageType   MessageType     `json:"message_type"`
	MessageData   json.RawMessage `json:"message_data"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Validate checks the fields required before the message is stored.
func (m *SignalingMessageInfo) Validate() error {
	if m.CallSessionID == "" || m.FromUserID == "" || m.ToUserID == "" {
		return fmt.Errorf("missing session or participants: %w", ErrInvalidMessage)
	}
	if err := m.MessageType.Validate(); err != nil {
		return err
	}
	if !json.Valid(m.MessageData) {
		return fmt.Errorf("message data is not json: %w", ErrInvalidMessage)
	}
	return nil
}

// DeepCopy creates a deep copy of the given SignalingMessageInfo.
func (m *SignalingMessageInfo) DeepCopy() *SignalingMessageInfo {
	data := make(json.RawMessage, len(m.MessageData))
	copy(data, m.MessageData)
	return &SignalingMessageInfo{
		ID:            m.ID,
		CallSessionID: m.CallSessionID,
		FromUserID:    m.FromUserID,
		ToUserID:      m.ToUserID,
		MessageType:   m.MessageType,
		MessageData:   data,
		CreatedAt:     m.CreatedAt,
	}
}

// SortByCreation orders messages by creation time, keeping the relative
// order of messages created at the same instant.
func SortByCreation(msgs []*SignalingMessageInfo) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
