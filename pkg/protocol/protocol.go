// Package protocol is the boundary to the chat-protocol implementation. The
// protocol side owns wire format, encryption and device sync; pairbot only
// supplies credential artifacts and consumes events.
package protocol

import (
	"context"
	"time"

	"pairbot/pkg/session"
)

// StatusLoggedOut is the close status the protocol reports for an explicit
// logout. Every other close status is recoverable.
const StatusLoggedOut = 401

// EventKind discriminates Event payloads.
type EventKind string

const (
	EventConnection  EventKind = "connection"
	EventCredentials EventKind = "credentials"
	EventMessage     EventKind = "message"
)

// ConnectionState is reported by connection events.
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
)

// Event is one notification from a protocol session.
type Event struct {
	Kind EventKind

	// Connection events.
	State  ConnectionState
	Status int
	Reason string

	// Credential events carry only the artifacts that changed.
	Artifacts session.Bundle

	Message *Message
}

// LoggedOut reports whether a close event is terminal.
func (e Event) LoggedOut() bool {
	return e.Kind == EventConnection && e.State == ConnectionClose && e.Status == StatusLoggedOut
}

// Message is an inbound chat message.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	ChatID     string    `json:"chat_id"`
	IsGroup    bool      `json:"is_group"`
	FromSelf   bool      `json:"from_self"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuthState is what a session is opened against: the current artifacts of a
// bundle. An empty bundle starts an unregistered session.
type AuthState struct {
	Artifacts session.Bundle
	// Label identifies the client to the protocol, e.g. in linked-device lists.
	Label string
}

// Dialer opens protocol sessions.
type Dialer interface {
	Dial(ctx context.Context, auth AuthState) (Session, error)
}

// Session is one live protocol connection. Events is closed when the
// session ends; the last event before that is normally a close event.
type Session interface {
	Events() <-chan Event
	Registered() bool
	SelfID() string
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Send(ctx context.Context, chatID string, text string) error
	Logout(ctx context.Context) error
	Close() error
}
