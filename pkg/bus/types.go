package bus

import "time"

type EventType string

const (
	EventConnectionState    EventType = "connection_state"
	EventInboundMessage     EventType = "inbound_message"
	EventCredentialsUpdated EventType = "credentials_updated"
)

// InboundMessage is one chat message as seen by the command router.
type InboundMessage struct {
	ID         string    `json:"id,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	ChatID     string    `json:"chat_id"`
	IsGroup    bool      `json:"is_group"`
	FromSelf   bool      `json:"from_self"`
	Content    string    `json:"content"`
	At         time.Time `json:"at"`
}

// OutboundMessage is one reply queued for delivery through the supervisor.
type OutboundMessage struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// Event is one supervisor notification. Exactly one of State, Message or
// Artifacts is meaningful, depending on Type.
type Event struct {
	Type      EventType       `json:"type"`
	At        time.Time       `json:"at"`
	State     string          `json:"state,omitempty"`
	Message   *InboundMessage `json:"message,omitempty"`
	Artifacts []string        `json:"artifacts,omitempty"`
	Error     string          `json:"error,omitempty"`
}
