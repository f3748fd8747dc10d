// Package protocoltest provides scripted protocol sessions for tests.
package protocoltest

import (
	"context"
	"errors"
	"sync"

	"pairbot/pkg/protocol"
	"pairbot/pkg/session"
)

// ErrClosed is returned by operations on a closed fake session.
var ErrClosed = errors.New("fake session closed")

type dialResult struct {
	session *Session
	err     error
}

// Dialer hands out scripted sessions in the order they were pushed. Dial
// blocks until a result is pushed or ctx ends.
type Dialer struct {
	next chan dialResult

	mu    sync.Mutex
	auths []protocol.AuthState
}

func NewDialer() *Dialer {
	return &Dialer{next: make(chan dialResult, 64)}
}

// Push queues a session for the next Dial.
func (d *Dialer) Push(s *Session) *Session {
	d.next <- dialResult{session: s}
	return s
}

// PushError makes the next Dial fail with err.
func (d *Dialer) PushError(err error) {
	d.next <- dialResult{err: err}
}

func (d *Dialer) Dial(ctx context.Context, auth protocol.AuthState) (protocol.Session, error) {
	d.mu.Lock()
	d.auths = append(d.auths, auth)
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-d.next:
		if result.err != nil {
			return nil, result.err
		}
		return result.session, nil
	}
}

// Auths returns the auth states passed to Dial so far.
func (d *Dialer) Auths() []protocol.AuthState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.AuthState(nil), d.auths...)
}

// Sent is one message delivered through Session.Send.
type Sent struct {
	ChatID string
	Text   string
}

// Session is a scripted protocol session. Tests drive it with Emit, Open,
// Rotate and Drop.
type Session struct {
	self       string
	registered bool

	// PairingCode is returned by RequestPairingCode unless PairingErr is set.
	PairingCode string
	PairingErr  error
	// SendErr, when set, fails every Send.
	SendErr error

	events chan protocol.Event

	mu         sync.Mutex
	closed     bool
	loggedOut  bool
	sent       []Sent
	pairPhones []string
	sentSignal chan struct{}
}

func NewSession(self string, registered bool) *Session {
	return &Session{
		self:        self,
		registered:  registered,
		PairingCode: "ABCD-EFGH",
		events:      make(chan protocol.Event, 64),
		sentSignal:  make(chan struct{}, 64),
	}
}

// Emit delivers ev unless the session is closed.
func (s *Session) Emit(ev protocol.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// Open emits a connection-open event.
func (s *Session) Open() bool {
	return s.Emit(protocol.Event{Kind: protocol.EventConnection, State: protocol.ConnectionOpen})
}

// Rotate emits a credentials event.
func (s *Session) Rotate(artifacts session.Bundle) bool {
	return s.Emit(protocol.Event{Kind: protocol.EventCredentials, Artifacts: artifacts})
}

// Deliver emits an inbound message event.
func (s *Session) Deliver(msg protocol.Message) bool {
	return s.Emit(protocol.Event{Kind: protocol.EventMessage, Message: &msg})
}

// Drop emits a close event with status and ends the event stream.
func (s *Session) Drop(status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.events <- protocol.Event{Kind: protocol.EventConnection, State: protocol.ConnectionClose, Status: status, Reason: reason}
	s.closed = true
	close(s.events)
}

func (s *Session) Events() <-chan protocol.Event {
	return s.events
}

func (s *Session) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// SetRegistered flips the registration flag, as a completed link does.
func (s *Session) SetRegistered(registered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = registered
}

func (s *Session) SelfID() string {
	return s.self
}

func (s *Session) RequestPairingCode(_ context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	s.pairPhones = append(s.pairPhones, phone)
	if s.PairingErr != nil {
		return "", s.PairingErr
	}
	return s.PairingCode, nil
}

func (s *Session) Send(_ context.Context, chatID string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, Sent{ChatID: chatID, Text: text})
	select {
	case s.sentSignal <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Closed reports whether Close or Drop was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LoggedOut reports whether Logout was called.
func (s *Session) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

// SentMessages returns a copy of everything sent so far.
func (s *Session) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// PairPhones returns the phone numbers pairing codes were requested for.
func (s *Session) PairPhones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pairPhones...)
}

// SentSignal fires (lossily) after each successful Send.
func (s *Session) SentSignal() <-chan struct{} {
	return s.sentSignal
}
