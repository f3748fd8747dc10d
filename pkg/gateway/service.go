package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pairbot/pkg/bus"
	"pairbot/pkg/commands"
	"pairbot/pkg/config"
	"pairbot/pkg/llm"
	"pairbot/pkg/logger"
	"pairbot/pkg/notify"
	"pairbot/pkg/pairing"
	"pairbot/pkg/protocol"
	"pairbot/pkg/protocol/bridge"
	"pairbot/pkg/schedule"
	"pairbot/pkg/session"
	"pairbot/pkg/supervisor"
	"pairbot/pkg/transfer"
)

const (
	shutdownGrace = 5 * time.Second
	// sendTimeout bounds one outbound reply so a stalled session cannot
	// hold the outbound queue.
	sendTimeout = 15 * time.Second
)

// Options carries what NewService cannot derive from config.
type Options struct {
	// Dialer replaces the websocket bridge dialer built from
	// connection.bridge_url.
	Dialer  protocol.Dialer
	Version string
	Logger  *slog.Logger
}

// Service runs one bot identity: the connection supervisor, the command
// router fed by its events, and the HTTP surface for pairing and session
// transfer.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	bus        *bus.MessageBus
	store      *session.Store
	supervisor *supervisor.Supervisor
	scheduler  *schedule.Scheduler
	router     *commands.Router
	pairing    *pairing.Coordinator
	transfer   *transfer.Gateway
	notifier   *notify.Telegram

	mu        sync.RWMutex
	startedAt time.Time
}

func NewService(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rootLog := opts.Logger
	if rootLog == nil {
		rootLog = slog.Default()
	}

	store, err := session.Open(cfg.Session.Dir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &bridge.Dialer{
			URL:              cfg.Connection.BridgeURL,
			HandshakeTimeout: cfg.Connection.HandshakeTimeout(),
			Logger:           rootLog,
		}
	}

	mb := bus.NewMessageBus()

	sup, err := supervisor.New(supervisor.Options{
		Store:            store,
		Dialer:           dialer,
		Bus:              mb,
		Label:            cfg.Bot.Name,
		ReconnectDelay:   cfg.Connection.ReconnectDelay(),
		PollInterval:     cfg.Connection.PollInterval(),
		HandshakeTimeout: cfg.Connection.HandshakeTimeout(),
		ShutdownTimeout:  cfg.Connection.ShutdownTimeout(),
		LogoutOnShutdown: cfg.Connection.LogoutOnShutdown,
		GreetOnConnect:   cfg.Bot.GreetOnConnect,
		Greeting:         cfg.Bot.GreetingText,
		Logger:           rootLog,
	})
	if err != nil {
		mb.Close()
		return nil, err
	}

	scheduler := schedule.New(rootLog)

	var asker commands.Asker
	if cfg.Providers.OpenAI.Enabled {
		client, err := llm.New(cfg.Providers.OpenAI, rootLog)
		if err != nil {
			mb.Close()
			scheduler.Close()
			return nil, fmt.Errorf("initialize openai provider: %w", err)
		}
		asker = client
	}

	registry, err := commands.DefaultRegistry(commands.Options{
		BotName:   cfg.Bot.Name,
		Version:   opts.Version,
		Started:   time.Now(),
		Scheduler: scheduler,
		Asker:     asker,
		Logger:    rootLog,
	})
	if err != nil {
		mb.Close()
		scheduler.Close()
		return nil, err
	}

	router, err := commands.NewRouter(commands.RouterOptions{
		Prefix:        cfg.Bot.Prefix,
		Registry:      registry,
		AutoResponses: commands.DefaultAutoResponses(cfg.Bot.Prefix),
		Replier:       mb,
		Logger:        rootLog,
	})
	if err != nil {
		mb.Close()
		scheduler.Close()
		return nil, err
	}

	svc := &Service{
		cfg:        cfg,
		log:        logger.OrDefault(rootLog, "gateway.service"),
		bus:        mb,
		store:      store,
		supervisor: sup,
		scheduler:  scheduler,
		router:     router,
		transfer:   transfer.New(store, cfg.Session.ScratchDir, rootLog),
	}

	if cfg.Pairing.Enabled {
		coordinator, err := pairing.New(pairing.Options{
			Store:          store,
			ScratchRoot:    cfg.Session.ScratchDir,
			Dialer:         dialer,
			Label:          cfg.Bot.Name,
			CodeDelay:      cfg.Pairing.CodeDelay(),
			SettleDelay:    cfg.Pairing.SettleDelay(),
			RetryDelay:     cfg.Pairing.RetryDelay(),
			AttemptTimeout: cfg.Pairing.AttemptTimeout(),
			Confirmation:   cfg.Pairing.ConfirmationText,
			Logger:         rootLog,
		})
		if err != nil {
			svc.closeResources()
			return nil, err
		}
		svc.pairing = coordinator
	}

	if cfg.Notify.Telegram.Enabled {
		notifier, err := notify.NewTelegram(cfg.Notify.Telegram, cfg.Bot.Name, rootLog)
		if err != nil {
			svc.closeResources()
			return nil, fmt.Errorf("configure telegram alerts: %w", err)
		}
		svc.notifier = notifier
	}

	return svc, nil
}

// Run serves until ctx ends, the HTTP server fails or the session is logged
// out. A logout returns an error wrapping fault.ErrTerminalAuth so the
// process exits and is re-paired.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runHTTPServer(runCtx, serverErrors)

	supervisorErrors := make(chan error, 1)
	go func() {
		supervisorErrors <- s.supervisor.Run(runCtx)
	}()

	var workers sync.WaitGroup
	workers.Go(func() { s.dispatchEvents(runCtx) })
	workers.Go(func() { s.deliverOutbound(runCtx) })
	if s.notifier != nil {
		workers.Go(func() {
			if err := s.notifier.Run(runCtx, s.bus, s.statusText); err != nil {
				s.log.Error("Telegram alerts stopped", "error", err)
			}
		})
	}

	var runErr error
	supervisorStopped := false
	select {
	case <-ctx.Done():
	case err := <-serverErrors:
		runErr = err
	case err := <-supervisorErrors:
		supervisorStopped = true
		if err != nil {
			runErr = fmt.Errorf("connection supervisor: %w", err)
		}
	}

	cancel()

	if !supervisorStopped {
		shutdownCtx, stop := context.WithTimeout(context.Background(), s.cfg.Connection.ShutdownTimeout()+shutdownGrace)
		if err := s.supervisor.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Connection supervisor did not stop in time", "error", err)
		}
		stop()
	}

	workers.Wait()
	s.closeResources()

	return runErr
}

// dispatchEvents handles supervisor events one at a time in publish order.
func (s *Service) dispatchEvents(ctx context.Context) {
	for {
		event, ok := s.bus.ConsumeEvent(ctx)
		if !ok {
			return
		}

		switch event.Type {
		case bus.EventInboundMessage:
			if event.Message == nil {
				continue
			}
			if err := s.router.Handle(ctx, *event.Message); err != nil && ctx.Err() == nil {
				s.log.Error("Failed to handle inbound message", "chat_id", event.Message.ChatID, "error", err)
			}
		case bus.EventConnectionState:
			s.log.Info("Connection state changed", "state", event.State, "error", event.Error)
		case bus.EventCredentialsUpdated:
			if event.Error != "" {
				s.log.Error("Credential update was not persisted", "artifacts", event.Artifacts, "error", event.Error)
				continue
			}
			s.log.Debug("Credentials updated", "artifacts", event.Artifacts)
		}
	}
}

// deliverOutbound sends queued replies through the live session. Replies
// that cannot be delivered are logged and dropped.
func (s *Service) deliverOutbound(ctx context.Context) {
	for {
		msg, ok := s.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.supervisor.Send(sendCtx, msg.ChatID, msg.Content)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("Dropped outbound reply", "chat_id", msg.ChatID, "preview", logger.Preview(msg.Content), "error", err)
		}
	}
}

func (s *Service) statusText() string {
	s.mu.RLock()
	started := s.startedAt
	s.mu.RUnlock()

	uptime := time.Duration(0)
	if !started.IsZero() {
		uptime = time.Since(started).Truncate(time.Second)
	}

	return fmt.Sprintf("%s\nConnection: %s\nSession stored: %t\nUptime: %s",
		s.cfg.Bot.Name, s.supervisor.State(), s.store.HasBundle(), uptime)
}

func (s *Service) connectionState() string {
	return string(s.supervisor.State())
}

func (s *Service) closeResources() {
	if s.pairing != nil {
		s.pairing.Close()
	}
	s.scheduler.Close()
	s.bus.Close()
}
