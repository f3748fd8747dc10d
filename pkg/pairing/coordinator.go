// Package pairing links a new device identity through a throwaway protocol
// session in scratch storage, then hands the resulting bundle to the durable
// session store.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairbot/pkg/fault"
	"pairbot/pkg/logger"
	"pairbot/pkg/protocol"
	"pairbot/pkg/session"
)

const (
	defaultCodeDelay      = 1500 * time.Millisecond
	defaultSettleDelay    = 5 * time.Second
	defaultRetryDelay     = 10 * time.Second
	defaultAttemptTimeout = 5 * time.Minute

	// UnavailableMessage is what callers see in place of a code when an
	// attempt fails before producing one.
	UnavailableMessage = "Service is Currently Unavailable"
)

// ErrUnavailable wraps every failure that aborts an attempt.
var ErrUnavailable = errors.New("pairing service unavailable")

// DefaultConfirmation is sent to the linked identity after the hand-off.
const DefaultConfirmation = `🎉 *Welcome to WhatsApp Bot!* 🚀

✅ *Your session has been successfully linked!*
🔒 Your credentials are now saved and the bot is ready to use.

💡 *What's Next?*
1️⃣ Your bot is now connected and ready to receive commands
2️⃣ Try sending messages with the command prefix: !
3️⃣ Available commands: !ping, !help, !info

🚀 _Your WhatsApp bot is now active and ready!_ ✨`

type Options struct {
	// Store receives the linked bundle.
	Store       *session.Store
	ScratchRoot string
	Dialer      protocol.Dialer
	Label       string

	CodeDelay      time.Duration
	SettleDelay    time.Duration
	RetryDelay     time.Duration
	AttemptTimeout time.Duration

	Confirmation string
	Logger       *slog.Logger
}

// Coordinator runs pairing attempts. Attempts share nothing but the durable
// store.
type Coordinator struct {
	opts  Options
	log   *slog.Logger
	newID func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	attempts map[string]*Attempt
}

func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("pairing: session store is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("pairing: dialer is required")
	}
	if strings.TrimSpace(opts.ScratchRoot) == "" {
		return nil, errors.New("pairing: scratch root is required")
	}
	if opts.CodeDelay <= 0 {
		opts.CodeDelay = defaultCodeDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.Confirmation == "" {
		opts.Confirmation = DefaultConfirmation
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:     opts,
		log:      logger.OrDefault(opts.Logger, "pairing"),
		newID:    transientID,
		ctx:      ctx,
		cancel:   cancel,
		attempts: make(map[string]*Attempt),
	}, nil
}

// Pair starts an attempt for number and returns its linking code. Linking
// continues in the background after Pair returns.
func (c *Coordinator) Pair(ctx context.Context, number string) (string, error) {
	attempt, err := c.Start(ctx, number)
	if err != nil {
		return "", err
	}
	return attempt.Code(), nil
}

const maxIDAttempts = 16

// freshID returns an id that no running attempt or leftover scratch
// directory uses. Callers hold c.mu.
func (c *Coordinator) freshID() (string, error) {
	for range maxIDAttempts {
		id := c.newID()
		if _, running := c.attempts[id]; running {
			continue
		}
		_, err := os.Stat(filepath.Join(c.opts.ScratchRoot, id))
		if err == nil {
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fault.NormalizeIOError(err, "stat scratch directory")
		}
		return id, nil
	}
	return "", errors.New("no unused attempt id")
}

// Start is Pair for callers that also want to follow the hand-off.
func (c *Coordinator) Start(ctx context.Context, number string) (*Attempt, error) {
	phone := SanitizeNumber(number)
	if phone == "" {
		return nil, fault.Validationf("phone number must contain digits")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: coordinator closed", ErrUnavailable)
	}

	id, err := c.freshID()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	scratch, err := session.OpenScratch(c.opts.ScratchRoot, id)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	attemptCtx, cancel := context.WithTimeout(c.ctx, c.opts.AttemptTimeout)
	attempt := newAttempt(id, cancel)
	c.attempts[id] = attempt
	c.wg.Add(1)
	c.mu.Unlock()

	log := c.log.With("pairing_id", id)
	log.Info("Pairing attempt started", "phone_digits", len(phone))

	go c.run(attemptCtx, log, attempt, scratch, phone)

	select {
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case <-attempt.codeReady:
		if attempt.codeErr != nil {
			return nil, attempt.codeErr
		}
		return attempt, nil
	}
}

// Active returns the number of attempts still running.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attempts)
}

// Close cancels in-flight attempts and waits for them to remove their
// scratch storage.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

type outcome int

const (
	outcomeLinked outcome = iota
	outcomeRetry
	outcomeTerminal
	outcomeFailed
)

func (c *Coordinator) run(ctx context.Context, log *slog.Logger, a *Attempt, scratch *session.Store, phone string) {
	defer func() {
		a.cancel()
		if err := scratch.Remove(); err != nil {
			log.Warn("Failed to remove scratch storage", "error", err)
		}
		c.mu.Lock()
		delete(c.attempts, a.ID)
		c.mu.Unlock()

		a.resolveCode("", a.err)
		close(a.done)
		c.wg.Done()
	}()

	for round := 1; ; round++ {
		result, err := c.connect(ctx, log, a, scratch, phone)
		switch result {
		case outcomeLinked:
			log.Info("Pairing completed")
			return
		case outcomeTerminal:
			log.Warn("Pairing session logged out", "error", err)
			a.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
			return
		case outcomeFailed:
			log.Error("Pairing attempt failed", "round", round, "error", err)
			a.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
			return
		}

		log.Info("Pairing connection closed, retrying", "round", round, "delay", c.opts.RetryDelay.String(), "error", err)
		if !sleep(ctx, c.opts.RetryDelay) {
			a.err = fmt.Errorf("%w: %w", ErrUnavailable, context.Cause(ctx))
			return
		}
	}
}

func (c *Coordinator) connect(ctx context.Context, log *slog.Logger, a *Attempt, scratch *session.Store, phone string) (outcome, error) {
	artifacts, err := scratch.Load()
	if err != nil {
		return outcomeFailed, err
	}

	current, err := c.opts.Dialer.Dial(ctx, protocol.AuthState{Artifacts: artifacts, Label: c.opts.Label})
	if err != nil {
		return outcomeFailed, fmt.Errorf("dial: %w", err)
	}
	defer current.Close()

	if !current.Registered() {
		if !sleep(ctx, c.opts.CodeDelay) {
			return outcomeFailed, ctx.Err()
		}

		code, err := current.RequestPairingCode(ctx, phone)
		if err != nil {
			return outcomeFailed, fmt.Errorf("request pairing code: %w", err)
		}
		if a.resolveCode(code, nil) {
			log.Info("Pairing code issued")
		} else {
			log.Info("Pairing code refreshed after reconnect", "code", code)
		}
	}

	events := current.Events()
	for {
		select {
		case <-ctx.Done():
			return outcomeFailed, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return outcomeRetry, fault.New(fault.TransientProtocol, "event stream ended")
			}

			switch {
			case ev.Kind == protocol.EventCredentials:
				saveCredentials(log, scratch, ev.Artifacts)
			case ev.Kind == protocol.EventConnection && ev.State == protocol.ConnectionOpen:
				return c.handOff(ctx, log, current, scratch)
			case ev.LoggedOut():
				return outcomeTerminal, fault.ErrTerminalAuth
			case ev.Kind == protocol.EventConnection && ev.State == protocol.ConnectionClose:
				return outcomeRetry, fault.New(fault.TransientProtocol, fmt.Sprintf("connection closed: status %d %s", ev.Status, ev.Reason))
			}
		}
	}
}

// handOff lets the fresh link settle, promotes the scratch bundle and
// confirms to the linked identity.
func (c *Coordinator) handOff(ctx context.Context, log *slog.Logger, current protocol.Session, scratch *session.Store) (outcome, error) {
	timer := time.NewTimer(c.opts.SettleDelay)
	defer timer.Stop()

	events := current.Events()
settle:
	for {
		select {
		case <-ctx.Done():
			return outcomeFailed, ctx.Err()
		case <-timer.C:
			break settle
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Kind == protocol.EventCredentials {
				saveCredentials(log, scratch, ev.Artifacts)
			}
		}
	}

	bundle, err := c.opts.Store.Promote(scratch)
	if err != nil {
		return outcomeFailed, fmt.Errorf("promote bundle: %w", err)
	}
	log.Info("Session credentials handed off", "artifacts", len(bundle), "dir", c.opts.Store.Dir())

	if selfID := current.SelfID(); selfID != "" {
		if err := current.Send(ctx, selfID, c.opts.Confirmation); err != nil {
			log.Warn("Failed to send pairing confirmation", "error", err)
		}
	}

	return outcomeLinked, nil
}

func saveCredentials(log *slog.Logger, scratch *session.Store, artifacts session.Bundle) {
	if len(artifacts) == 0 {
		return
	}
	if err := scratch.Update(artifacts); err != nil {
		log.Error("Failed to save pairing credentials", "error", err)
	}
}

// SanitizeNumber keeps only ASCII digits.
func SanitizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func transientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
