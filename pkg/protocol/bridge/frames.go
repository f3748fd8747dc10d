package bridge

import (
	"pairbot/pkg/protocol"
	"pairbot/pkg/session"
)

// Frame types sent to the bridge.
const (
	frameLogin  = "login"
	framePair   = "pair"
	frameSend   = "send"
	frameLogout = "logout"
)

// Frame types received from the bridge.
const (
	frameReady      = "ready"
	frameResult     = "result"
	frameConnection = "connection"
	frameCreds      = "creds"
	frameMessage    = "message"
)

// frame is the single JSON envelope used in both directions. Artifact
// contents travel base64-encoded.
type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// login
	Label     string         `json:"label,omitempty"`
	Artifacts session.Bundle `json:"artifacts,omitempty"`

	// pair, send
	Phone  string `json:"phone,omitempty"`
	ChatID string `json:"chat_id,omitempty"`
	Text   string `json:"text,omitempty"`

	// ready, connection
	Registered bool   `json:"registered,omitempty"`
	SelfID     string `json:"self_id,omitempty"`
	State      string `json:"state,omitempty"`
	Status     int    `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// result
	OK    bool   `json:"ok,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	Message *protocol.Message `json:"message,omitempty"`
}
