package models

import (
	"encoding/json"
	"time"
)

// ChatMessage is one accepted message. Seq is assigned by the room and is
// the ordering authority; Timestamp is server wall clock.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// Session is the durable credential a client keeps between reloads.
type Session struct {
	SessionID  string `json:"sessionId"`
	ChatRoomID string `json:"chatRoomId"`
	// ParticipantID is the slot owner's id, so a reloaded client still
	// recognizes its own messages. Optional; not part of validation.
	ParticipantID string `json:"participantId,omitempty"`
}

// Empty reports whether neither field is set.
func (s Session) Empty() bool { return s.SessionID == "" && s.ChatRoomID == "" }

// Complete reports whether both fields are set. A record that is neither
// empty nor complete is corrupt.
func (s Session) Complete() bool { return s.SessionID != "" && s.ChatRoomID != "" }

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Event         string          `json:"event"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload becomes the
// JSON literal null.
func NewEnvelope(event, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, CorrelationID: correlationID, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// IsNull reports whether the payload is absent or the JSON literal null.
func (e Envelope) IsNull() bool {
	return len(e.Payload) == 0 || string(e.Payload) == "null"
}
