package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Broadcast is the recipient value addressing every participant.
const Broadcast = "Todos"

// Message types.
const (
	TypeMessage        = "message"
	TypePrivateMessage = "private_message"
	TypeStatus         = "status"
)

// Status texts emitted by the server.
const (
	ArrivalText   = "entra na sala..."
	DepartureText = "sai da sala..."
)

// TimeLayout is the format of Message.Time (HH:mm:ss).
const TimeLayout = "15:04:05"

// Message represents a chat event. Messages are immutable once stored.
type Message struct {
	ID   string `json:"_id"` // ULID, defines insertion order
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"`
}

// Stamp assigns the ID and formatted time if they are not set yet.
func (m *Message) Stamp(now time.Time) {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.Time == "" {
		m.Time = now.Format(TimeLayout)
	}
}

// VisibleTo reports whether viewer may read the message: their own messages,
// broadcasts, messages addressed to them, and every public message.
func (m *Message) VisibleTo(viewer string) bool {
	return m.From == viewer ||
		m.To == Broadcast ||
		m.To == viewer ||
		m.Type == TypeMessage
}

// StatusMessage builds a server-generated status event for name.
func StatusMessage(name, text string, now time.Time) *Message {
	msg := &Message{
		From: name,
		To:   Broadcast,
		Text: text,
		Type: TypeStatus,
	}
	msg.Stamp(now)
	return msg
}
