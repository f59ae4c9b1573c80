// Package negotiation defines the payloads carried in signaling messages.
package negotiation

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Description is the payload of offer and answer messages. Revision counts
// the offers of a session; an answer echoes the revision it answers.
type Description struct {
	Type       string `json:"type"`
	SDP        string `json:"sdp"`
	Revision   int    `json:"revision,omitempty"`
	ICERestart bool   `json:"ice_restart,omitempty"`
}

// FromPion converts a session description.
func FromPion(desc webrtc.SessionDescription, revision int, iceRestart bool) Description {
	return Description{
		Type:       desc.Type.String(),
		SDP:        desc.SDP,
		Revision:   revision,
		ICERestart: iceRestart,
	}
}

// ToPion converts the payload into a session description.
func (d Description) ToPion() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %q", d.Type)
	}
	if d.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("empty %s description", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

// Candidate is the payload of ice-candidate messages.
type Candidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// DecodeDescription parses an offer or answer payload.
func DecodeDescription(data json.RawMessage) (Description, error) {
	var d Description
	if err := json.Unmarshal(data, &d); err != nil {
		return Description{}, fmt.Errorf("unmarshal description: %w", err)
	}
	if _, err := d.ToPion(); err != nil {
		return Description{}, err
	}
	return d, nil
}

// DecodeCandidate parses an ice-candidate payload.
func DecodeCandidate(data json.RawMessage) (webrtc.ICECandidateInit, error) {
	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("unmarshal candidate: %w", err)
	}
	if c.Candidate.Candidate == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("empty candidate")
	}
	return c.Candidate, nil
}
