package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies the kind of message carried by an Envelope.
type EventType string

const (
	// Presence channel.
	EventLogin       EventType = "CLIENT_USER_EVENT_LOGIN"
	EventUpdateUsers EventType = "SERVER_USER_EVENT_UPDATE_USERS"

	// Signaling channel.
	EventOffer     EventType = "SIGNALING_OFFER"
	EventAnswer    EventType = "SIGNALING_ANSWER"
	EventCandidate EventType = "SIGNALING_CANDIDATE"
)

// ErrMalformedMessage is returned when an envelope or its payload cannot be
// decoded. Such messages are dropped, never forwarded.
var ErrMalformedMessage = errors.New("malformed message")

// IsSignaling reports whether t belongs to the signaling channel.
func (t EventType) IsSignaling() bool {
	switch t {
	case EventOffer, EventAnswer, EventCandidate:
		return true
	}
	return false
}

// Envelope is the {type, payload} wrapper used for every message on both the
// presence and the signaling channel.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses a raw frame. The payload must be a JSON object, except
// for roster updates which carry an array.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	want := byte('{')
	if env.Type == EventUpdateUsers {
		want = '['
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || payload[0] != want {
		return Envelope{}, fmt.Errorf("%w: %s payload has the wrong shape", ErrMalformedMessage, env.Type)
	}
	env.Payload = payload
	return env, nil
}

// NewEnvelope marshals payload and wraps it with the given type.
func NewEnvelope(t EventType, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Encode returns the wire form of the envelope. The payload bytes are kept
// verbatim.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// LoginPayload is sent by a client to register its display name.
type LoginPayload struct {
	LoginName string `json:"loginName"`
}

// Login decodes the payload of an EventLogin envelope.
func (e Envelope) Login() (LoginPayload, error) {
	var p LoginPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return LoginPayload{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return p, nil
}

// SignalPayload addresses an opaque descriptor from one display name to
// another. Data is a session description or a candidate and is never
// interpreted by the relay.
type SignalPayload struct {
	From   string          `json:"from"`
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data"`
}

// Signal decodes the payload of a signaling envelope.
func (e Envelope) Signal() (SignalPayload, error) {
	if !e.Type.IsSignaling() {
		return SignalPayload{}, fmt.Errorf("%w: %s is not a signaling message", ErrMalformedMessage, e.Type)
	}
	var p SignalPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return SignalPayload{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if p.From == "" || p.Target == "" {
		return SignalPayload{}, fmt.Errorf("%w: signaling message missing from/target", ErrMalformedMessage)
	}
	if len(bytes.TrimSpace(p.Data)) == 0 {
		return SignalPayload{}, fmt.Errorf("%w: signaling message missing data", ErrMalformedMessage)
	}
	return p, nil
}

// NewSignal builds a signaling envelope carrying data from one party to
// another.
func NewSignal(t EventType, from, target string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s data: %w", t, err)
	}
	return NewEnvelope(t, SignalPayload{From: from, Target: target, Data: raw})
}

// Roster decodes the payload of an EventUpdateUsers envelope.
func (e Envelope) Roster() ([]RosterEntry, error) {
	var entries []RosterEntry
	if err := json.Unmarshal(e.Payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return entries, nil
}

// SessionDescription is the wire form of an offer or an answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the wire form of a network-path candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
