// Package models defines the data structures for transcript events.
package models

import "encoding/json"

// Role identifies who produced an utterance.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// MessageTypeTranscript is the "type" discriminator of room data messages.
const MessageTypeTranscript = "transcript"

// EventTypeTranscriptFinal tags transcript records mirrored to Kafka.
const EventTypeTranscriptFinal = "voice.transcript.final"

// TranscriptEvent is one committed utterance. Only final transcripts are
// relayed, so IsFinal is always true for events built with NewFinal.
type TranscriptEvent struct {
	Role    Role
	Text    string
	IsFinal bool
}

// NewFinal builds a committed transcript event.
func NewFinal(role Role, text string) TranscriptEvent {
	return TranscriptEvent{Role: role, Text: text, IsFinal: true}
}

// Message converts the event to its wire form.
func (e TranscriptEvent) Message() TranscriptMessage {
	return TranscriptMessage{
		Type:    MessageTypeTranscript,
		Role:    e.Role,
		Text:    e.Text,
		IsFinal: e.IsFinal,
	}
}

// TranscriptMessage is the JSON object published on the room data channel.
// Field order is part of the wire format.
type TranscriptMessage struct {
	Type    string `json:"type"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// Marshal encodes the message as UTF-8 JSON.
func (m TranscriptMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// TranscriptRecord is the event mirrored to Kafka for each relayed transcript.
type TranscriptRecord struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Room      string `json:"room"`
	Provider  string `json:"provider"`
	Timestamp int64  `json:"timestamp"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
}
