// Package bridge implements the protocol boundary over a websocket to a
// bridge process that speaks the chat protocol itself.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairbot/pkg/fault"
	"pairbot/pkg/logger"
	"pairbot/pkg/protocol"
)

const (
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 64
	defaultHandshake = 20 * time.Second
)

// ErrSessionClosed is returned by requests on a closed session.
var ErrSessionClosed = fault.New(fault.TransientProtocol, "bridge session closed")

// Dialer connects to a bridge at URL.
type Dialer struct {
	URL    string
	Header http.Header
	// HandshakeTimeout bounds the websocket upgrade and the login exchange.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (d *Dialer) Dial(ctx context.Context, auth protocol.AuthState) (protocol.Session, error) {
	url := strings.TrimSpace(d.URL)
	if url == "" {
		return nil, fault.Validationf("bridge url is required")
	}

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshake
	}
	ctx, cancel := context.WithTimeout(ctx, handshake)
	defer cancel()

	ws := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}
	conn, _, err := ws.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fault.Wrap(fault.TransientProtocol, "dial bridge", err)
	}

	s := newBridgeSession(conn, logger.OrDefault(d.Logger, "protocol.bridge"))
	if err := s.login(ctx, auth); err != nil {
		_ = s.Close()
		return nil, err
	}

	go s.pump()
	go s.readLoop()
	return s, nil
}

type bridgeSession struct {
	conn *websocket.Conn
	log  *slog.Logger

	connMu sync.Mutex

	events    chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once

	// queue holds events read off the socket until pump hands them to
	// events, so readLoop never waits on a slow consumer.
	queueMu    sync.Mutex
	queue      []protocol.Event
	queueEnded bool
	queued     chan struct{}

	mu         sync.Mutex
	pending    map[string]chan frame
	readDone   bool
	registered bool
	selfID     string
}

func newBridgeSession(conn *websocket.Conn, log *slog.Logger) *bridgeSession {
	return &bridgeSession{
		conn:    conn,
		log:     log,
		events:  make(chan protocol.Event, eventBufferSize),
		done:    make(chan struct{}),
		queued:  make(chan struct{}, 1),
		pending: make(map[string]chan frame),
	}
}

// login sends the bundle and waits for the bridge to report readiness. It
// runs before readLoop starts, so it reads the socket directly. Events that
// arrive ahead of readiness are queued and delivered once the session runs.
func (s *bridgeSession) login(ctx context.Context, auth protocol.AuthState) error {
	if err := s.write(frame{Type: frameLogin, ID: uuid.NewString(), Label: auth.Label, Artifacts: auth.Artifacts}); err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return fault.Wrap(fault.TransientProtocol, "read login response", err)
		}

		switch f.Type {
		case frameReady:
			s.mu.Lock()
			s.registered = s.registered || f.Registered
			if f.SelfID != "" {
				s.selfID = f.SelfID
			}
			s.mu.Unlock()
			s.log.Debug("Bridge session ready", "registered", f.Registered)
			return nil
		case frameConnection:
			if f.State == string(protocol.ConnectionClose) && f.Status == protocol.StatusLoggedOut {
				return fault.Wrap(fault.TerminalAuth, "bridge rejected credentials", errors.New(f.Reason))
			}
			s.dispatch(f)
		case frameResult:
			if !f.OK {
				return fault.Wrap(fault.TransientProtocol, "bridge rejected login", errors.New(f.Error))
			}
		default:
			s.dispatch(f)
		}
	}
}

func (s *bridgeSession) readLoop() {
	defer s.endQueue()
	defer s.failPending()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("Bridge connection lost", "error", err)
				s.emit(protocol.Event{Kind: protocol.EventConnection, State: protocol.ConnectionClose, Reason: err.Error()})
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("Ignoring malformed bridge frame", "error", err)
			continue
		}

		if !s.dispatch(f) {
			return
		}
	}
}

// dispatch handles one frame. It returns false once the session is closed.
func (s *bridgeSession) dispatch(f frame) bool {
	switch f.Type {
	case frameResult:
		s.mu.Lock()
		ch, ok := s.pending[f.ID]
		delete(s.pending, f.ID)
		s.mu.Unlock()
		if ok {
			ch <- f
		}
		return true
	case frameConnection:
		state := protocol.ConnectionState(f.State)
		if state == protocol.ConnectionOpen {
			s.mu.Lock()
			s.registered = true
			if f.SelfID != "" {
				s.selfID = f.SelfID
			}
			s.mu.Unlock()
		}
		return s.emit(protocol.Event{Kind: protocol.EventConnection, State: state, Status: f.Status, Reason: f.Reason})
	case frameCreds:
		return s.emit(protocol.Event{Kind: protocol.EventCredentials, Artifacts: f.Artifacts})
	case frameMessage:
		if f.Message == nil {
			return true
		}
		return s.emit(protocol.Event{Kind: protocol.EventMessage, Message: f.Message})
	default:
		s.log.Debug("Ignoring bridge frame", "type", f.Type)
		return true
	}
}

// emit queues ev for pump without blocking, so result frames behind it are
// still dispatched while the consumer is busy.
func (s *bridgeSession) emit(ev protocol.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, ev)
	s.queueMu.Unlock()
	s.signal()
	return true
}

func (s *bridgeSession) endQueue() {
	s.queueMu.Lock()
	s.queueEnded = true
	s.queueMu.Unlock()
	s.signal()
}

func (s *bridgeSession) signal() {
	select {
	case s.queued <- struct{}{}:
	default:
	}
}

// pump moves queued events to the events channel in order and closes it
// once readLoop has stopped and the queue is drained.
func (s *bridgeSession) pump() {
	defer close(s.events)

	for {
		s.queueMu.Lock()
		batch := s.queue
		s.queue = nil
		ended := s.queueEnded
		s.queueMu.Unlock()

		for _, ev := range batch {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if ended {
			return
		}

		select {
		case <-s.queued:
		case <-s.done:
			return
		}
	}
}

func (s *bridgeSession) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDone = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *bridgeSession) Events() <-chan protocol.Event {
	return s.events
}

func (s *bridgeSession) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *bridgeSession) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *bridgeSession) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	result, err := s.request(ctx, frame{Type: framePair, Phone: phone})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(result.Code) == "" {
		return "", fault.New(fault.TransientProtocol, "bridge returned an empty pairing code")
	}
	return result.Code, nil
}

func (s *bridgeSession) Send(ctx context.Context, chatID string, text string) error {
	_, err := s.request(ctx, frame{Type: frameSend, ChatID: chatID, Text: text})
	return err
}

func (s *bridgeSession) Logout(ctx context.Context) error {
	_, err := s.request(ctx, frame{Type: frameLogout})
	return err
}

func (s *bridgeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.connMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.connMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *bridgeSession) request(ctx context.Context, f frame) (frame, error) {
	f.ID = uuid.NewString()
	ch := make(chan frame, 1)

	s.mu.Lock()
	if s.readDone {
		s.mu.Unlock()
		return frame{}, ErrSessionClosed
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return frame{}, ErrSessionClosed
	default:
	}
	s.pending[f.ID] = ch
	s.mu.Unlock()

	if err := s.write(f); err != nil {
		s.mu.Lock()
		delete(s.pending, f.ID)
		s.mu.Unlock()
		return frame{}, err
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, f.ID)
		s.mu.Unlock()
		return frame{}, ctx.Err()
	case <-s.done:
		return frame{}, ErrSessionClosed
	case result, ok := <-ch:
		if !ok {
			return frame{}, ErrSessionClosed
		}
		if !result.OK {
			return frame{}, fault.Wrap(fault.TransientProtocol, f.Type+" failed", errors.New(result.Error))
		}
		return result, nil
	}
}

func (s *bridgeSession) write(f frame) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(f); err != nil {
		return fault.Wrap(fault.TransientProtocol, fmt.Sprintf("write %s frame", f.Type), err)
	}
	return nil
}
