package database

import (
	"fmt"
	"time"
)

// CallType is the kind of media a call carries.
type CallType string

const (
	// Video is a call with both audio and video tracks.
	Video CallType = "video"

	// Voice is an audio-only call.
	Voice CallType = "voice"
)

// Validate checks the call type is one of the known values.
func (t CallType) Validate() error {
	if t != Video && t != Voice {
		return fmt.Errorf("%q: %w", t, ErrInvalidCallType)
	}
	return nil
}

// HasVideo returns whether the call type carries a video track.
func (t CallType) HasVideo() bool {
	return t == Video
}

// Status is the application-level status of a call session.
type Status string

const (
	// Waiting means the initiator created the session and nobody joined yet.
	Waiting Status = "waiting"

	// Connecting means the receiver joined and the peers are negotiating.
	Connecting Status = "connecting"

	// Connected means the peer link reported connected at least once.
	Connected Status = "connected"

	// Ended is terminal.
	Ended Status = "ended"
)

func (s Status) rank() int {
	switch s {
	case Waiting:
		return 1
	case Connecting:
		return 2
	case Connected:
		return 3
	case Ended:
		return 4
	default:
		return 0
	}
}

// Validate checks the status is one of the known values.
func (s Status) Validate() error {
	if s.rank() == 0 {
		return fmt.Errorf("%q: %w", s, ErrInvalidStatus)
	}
	return nil
}

// CanTransitionTo reports whether the status can move forward to next.
// Status only moves forward and nothing leaves Ended.
func (s Status) CanTransitionTo(next Status) bool {
	if s == Ended || next.rank() == 0 {
		return false
	}
	return next.rank() > s.rank()
}

// CallSessionInfo is a struct for call session information.
type CallSessionInfo struct {
	ID          string     `json:"id"`
	InitiatorID string     `json:"initiator_id"`
	ReceiverID  string     `json:"receiver_id,omitempty"`
	CallType    CallType   `json:"call_type"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndReason   string     `json:"end_reason,omitempty"`
}

// IsParticipant checks if the given user takes part in the session.
func (c *CallSessionInfo) IsParticipant(userID string) bool {
	return userID != "" && (c.InitiatorID == userID || c.ReceiverID == userID)
}

// GetCounterpart returns the other participant of the session. It returns an
// empty string while the receiver is unknown.
func (c *CallSessionInfo) GetCounterpart(userID string) string {
	if c.InitiatorID == userID {
		return c.ReceiverID
	}
	return c.InitiatorID
}

// Apply validates the update against the current record and applies it.
// Nothing is changed when an error is returned.
func (c *CallSessionInfo) Apply(update CallSessionUpdate, now time.Time) error {
	if update.IfStatus != nil && c.Status != *update.IfStatus {
		return fmt.Errorf("%s: %s, expected %s: %w", c.ID, c.Status, *update.IfStatus, ErrInvalidTransition)
	}
	if update.ReceiverID != nil {
		if *update.ReceiverID == "" {
			return fmt.Errorf("%s: empty receiver: %w", c.ID, ErrInvalidUpdate)
		}
		if c.ReceiverID != "" {
			return fmt.Errorf("%s: %w", c.ID, ErrReceiverAlreadySet)
		}
		if *update.ReceiverID == c.InitiatorID {
			return fmt.Errorf("%s: receiver is initiator: %w", c.ID, ErrInvalidUpdate)
		}
	}
	if update.Status != nil && !c.Status.CanTransitionTo(*update.Status) {
		return fmt.Errorf("%s: %s to %s: %w", c.ID, c.Status, *update.Status, ErrInvalidTransition)
	}
	if update.EndReason != nil && (update.Status == nil || *update.Status != Ended) {
		return fmt.Errorf("%s: end reason without ended status: %w", c.ID, ErrInvalidUpdate)
	}

	if update.ReceiverID != nil {
		c.ReceiverID = *update.ReceiverID
	}
	if update.Status != nil {
		c.Status = *update.Status
		switch c.Status {
		case Connected:
			at := now
			c.ConnectedAt = &at
		case Ended:
			at := now
			c.EndedAt = &at
			if update.EndReason != nil {
				c.EndReason = *update.EndReason
			}
		}
	}
	return nil
}

// DeepCopy creates a deep copy of the given CallSessionInfo.
func (c *CallSessionInfo) DeepCopy() *CallSessionInfo {
	info := &CallSessionInfo{
		ID:          c.ID,
		InitiatorID: c.InitiatorID,
		ReceiverID:  c.ReceiverID,
		CallType:    c.CallType,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
		EndReason:   c.EndReason,
	}
	if c.ConnectedAt != nil {
		at := *c.ConnectedAt
		info.ConnectedAt = &at
	}
	if c.EndedAt != nil {
		at := *c.EndedAt
		info.EndedAt = &at
	}
	return info
}

// CallSessionUpdate holds the partial fields of an update. Nil fields are
// left untouched. IfStatus, when set, rejects the update unless the record
// is in that status at the time it is applied.
type CallSessionUpdate struct {
	ReceiverID *string `json:"receiver_id,omitempty"`
	Status     *Status `json:"status,omitempty"`
	EndReason  *string `json:"end_reason,omitempty"`
	IfStatus   *Status `json:"if_status,omitempty"`
}

// JoinUpdate sets the receiver and moves the session to connecting.
func JoinUpdate(receiverID string) CallSessionUpdate {
	status := Connecting
	return CallSessionUpdate{ReceiverID: &receiverID, Status: &status}
}

// StatusUpdate moves the session to the given status.
func StatusUpdate(status Status) CallSessionUpdate {
	return CallSessionUpdate{Status: &status}
}

// EndUpdate ends the session with the given reason.
func EndUpdate(reason string) CallSessionUpdate {
	status := Ended
	return CallSessionUpdate{Status: &status, EndReason: &reason}
}

// ExpireUpdate ends the session with the given reason if nobody joined it.
func ExpireUpdate(reason string) CallSessionUpdate {
	update := EndUpdate(reason)
	waiting := Waiting
	update.IfStatus = &waiting
	return update
}
