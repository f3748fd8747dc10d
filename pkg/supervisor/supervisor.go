// Package supervisor owns the long-lived protocol session of one bot
// identity. It waits for a credential bundle, keeps the session connected
// across recoverable drops and stops for good on logout.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pairbot/pkg/bus"
	"pairbot/pkg/fault"
	"pairbot/pkg/logger"
	"pairbot/pkg/protocol"
	"pairbot/pkg/session"
)

const (
	defaultReconnectDelay  = 3 * time.Second
	defaultPollInterval    = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	greetingTimeout        = 15 * time.Second
	publishGrace           = time.Second

	DefaultGreeting = "🤖 WhatsApp Bot is now online and ready to receive messages!"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("supervisor is already running")

// ErrNotConnected is returned by Send while no session is active.
var ErrNotConnected = fault.New(fault.TransientProtocol, "not connected")

// State is the lifecycle state of the session handle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

type Options struct {
	Store  *session.Store
	Dialer protocol.Dialer
	// Bus receives connection, message and credential events in order.
	// Optional.
	Bus *bus.MessageBus
	// Label identifies this client to the protocol.
	Label string

	ReconnectDelay time.Duration
	PollInterval   time.Duration
	// HandshakeTimeout bounds each Dial. Zero means no bound.
	HandshakeTimeout time.Duration
	ShutdownTimeout  time.Duration
	LogoutOnShutdown bool

	GreetOnConnect bool
	Greeting       string

	Logger *slog.Logger
}

type Supervisor struct {
	opts Options
	log  *slog.Logger

	running atomic.Bool
	done    chan struct{}

	mu      sync.RWMutex
	state   State
	current protocol.Session
	selfID  string
	cancel  context.CancelFunc

	greeted atomic.Bool
}

func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, errors.New("supervisor: session store is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("supervisor: dialer is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}

	return &Supervisor{
		opts:  opts,
		log:   logger.OrDefault(opts.Logger, "supervisor"),
		done:  make(chan struct{}),
		state: StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SelfID returns the identity of the last opened session.
func (s *Supervisor) SelfID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfID
}

// Send delivers text through the active session.
func (s *Supervisor) Send(ctx context.Context, chatID string, text string) error {
	s.mu.RLock()
	current, state := s.current, s.state
	s.mu.RUnlock()

	if current == nil || state != StateActive {
		return ErrNotConnected
	}
	if err := current.Send(ctx, chatID, text); err != nil {
		return fault.Wrap(fault.TransientProtocol, "send message", err)
	}
	return nil
}

// Run blocks until ctx ends, Shutdown is called or the session is logged
// out. A logout purges the bundle and returns fault.ErrTerminalAuth; a
// normal stop returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for {
		if err := s.waitForBundle(ctx); err != nil {
			s.stop()
			return nil
		}

		s.setState(ctx, StateConnecting, nil)

		terminal, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			s.stop()
			return nil
		}
		if terminal {
			return s.terminate(ctx, err)
		}

		s.log.Warn("Connection lost, reconnecting", "delay", s.opts.ReconnectDelay.String(), "error", err)
		if !sleep(ctx, s.opts.ReconnectDelay) {
			s.stop()
			return nil
		}
	}
}

// Shutdown stops Run and waits for it to return. The session is logged out
// first when LogoutOnShutdown is set.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) waitForBundle(ctx context.Context) error {
	logged := false
	for {
		if s.opts.Store.HasBundle() {
			return nil
		}
		if !logged {
			s.log.Info("No session found, waiting for a credential bundle", "dir", s.opts.Store.Dir(), "poll_interval", s.opts.PollInterval.String())
			logged = true
		}
		if !sleep(ctx, s.opts.PollInterval) {
			return ctx.Err()
		}
	}
}

// connectOnce dials and serves one session until it closes. It reports
// whether the close was terminal.
func (s *Supervisor) connectOnce(ctx context.Context) (bool, error) {
	artifacts, err := s.opts.Store.Load()
	if err != nil {
		return false, err
	}

	dialCtx, cancelDial := ctx, context.CancelFunc(func() {})
	if s.opts.HandshakeTimeout > 0 {
		dialCtx, cancelDial = context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	}
	current, err := s.opts.Dialer.Dial(dialCtx, protocol.AuthState{Artifacts: artifacts, Label: s.opts.Label})
	cancelDial()
	if err != nil {
		return fault.IsTerminal(err), fmt.Errorf("dial: %w", err)
	}

	return s.serve(ctx, current)
}

func (s *Supervisor) serve(ctx context.Context, current protocol.Session) (bool, error) {
	s.mu.Lock()
	s.current = current
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		_ = current.Close()
	}()

	events := current.Events()
	for {
		select {
		case <-ctx.Done():
			s.logoutOnShutdown(ctx, current)
			return false, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return false, fault.New(fault.TransientProtocol, "event stream ended")
			}

			switch ev.Kind {
			case protocol.EventConnection:
				switch ev.State {
				case protocol.ConnectionOpen:
					s.onOpen(ctx, current)
				case protocol.ConnectionClose:
					if ev.LoggedOut() {
						return true, fault.ErrTerminalAuth
					}
					return false, fault.New(fault.TransientProtocol, fmt.Sprintf("connection closed: status %d %s", ev.Status, ev.Reason))
				default:
					s.log.Debug("Connection update", "state", ev.State)
				}
			case protocol.EventCredentials:
				s.persistCredentials(ctx, ev.Artifacts)
			case protocol.EventMessage:
				s.publishMessage(ctx, ev.Message)
			}
		}
	}
}

func (s *Supervisor) onOpen(ctx context.Context, current protocol.Session) {
	selfID := current.SelfID()

	s.mu.Lock()
	s.selfID = selfID
	s.mu.Unlock()

	s.setState(ctx, StateActive, nil)
	s.log.Info("Connected", "self_id", selfID)

	if !s.opts.GreetOnConnect || selfID == "" || !s.greeted.CompareAndSwap(false, true) {
		return
	}

	go func() {
		greetCtx, cancel := context.WithTimeout(ctx, greetingTimeout)
		defer cancel()
		if err := current.Send(greetCtx, selfID, s.opts.Greeting); err != nil {
			s.log.Warn("Startup greeting failed", "error", err)
		}
	}()
}

// persistCredentials writes rotated artifacts before the next protocol event
// is read.
func (s *Supervisor) persistCredentials(ctx context.Context, artifacts session.Bundle) {
	if len(artifacts) == 0 {
		return
	}

	ev := bus.Event{Type: bus.EventCredentialsUpdated, Artifacts: artifacts.Names()}
	if err := s.opts.Store.Update(artifacts); err != nil {
		s.log.Error("Failed to persist credentials", "artifacts", len(artifacts), "error", err)
		ev.Error = err.Error()
	} else {
		s.log.Debug("Credentials persisted", "artifacts", len(artifacts))
	}

	s.publish(ctx, ev)
}

func (s *Supervisor) publishMessage(ctx context.Context, msg *protocol.Message) {
	if msg == nil {
		return
	}

	s.publish(ctx, bus.Event{
		Type: bus.EventInboundMessage,
		Message: &bus.InboundMessage{
			ID:         msg.ID,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			ChatID:     msg.ChatID,
			IsGroup:    msg.IsGroup,
			FromSelf:   msg.FromSelf,
			Content:    msg.Text,
			At:         msg.Timestamp,
		},
	})
}

func (s *Supervisor) terminate(ctx context.Context, cause error) error {
	s.log.Error("Session logged out, clearing credentials", "error", cause)
	if err := s.opts.Store.Clear(); err != nil {
		s.log.Error("Failed to clear credentials", "error", err)
	}
	s.setState(ctx, StateTerminated, cause)
	return fault.ErrTerminalAuth
}

func (s *Supervisor) logoutOnShutdown(ctx context.Context, current protocol.Session) {
	if !s.opts.LogoutOnShutdown || s.State() != StateActive {
		return
	}

	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	if err := current.Logout(logoutCtx); err != nil {
		s.log.Warn("Logout on shutdown failed", "error", err)
		return
	}
	s.log.Info("Logged out on shutdown")
}

func (s *Supervisor) stop() {
	s.setState(context.Background(), StateIdle, nil)
	s.log.Info("Supervisor stopped")
}

func (s *Supervisor) setState(ctx context.Context, state State, cause error) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	s.mu.Unlock()

	if previous == state {
		return
	}

	s.log.Debug("State changed", "from", previous, "to", state)

	ev := bus.Event{Type: bus.EventConnectionState, State: string(state)}
	if cause != nil {
		ev.Error = cause.Error()
	}
	s.publish(ctx, ev)
}

func (s *Supervisor) publish(ctx context.Context, ev bus.Event) {
	if s.opts.Bus == nil {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), publishGrace)
		defer cancel()
	}
	if !s.opts.Bus.PublishEvent(ctx, ev) {
		s.log.Debug("Event dropped", "type", ev.Type)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
