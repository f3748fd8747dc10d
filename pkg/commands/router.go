package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"pairbot/pkg/bus"
	"pairbot/pkg/fault"
	"pairbot/pkg/logger"
)

const DefaultPrefix = "!"

// RouterOptions configures a Router.
type RouterOptions struct {
	Prefix        string
	Registry      *Registry
	AutoResponses AutoResponses
	Replier       Replier
	Logger        *slog.Logger
}

// Router dispatches one inbound message at a time. It holds no per-message
// state, so Handle may be called from several goroutines.
type Router struct {
	prefix   string
	registry *Registry
	auto     AutoResponses
	replier  Replier
	log      *slog.Logger
	now      func() time.Time
}

func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Registry == nil {
		return nil, errors.New("commands: registry is required")
	}
	if opts.Replier == nil {
		return nil, errors.New("commands: replier is required")
	}

	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Router{
		prefix:   prefix,
		registry: opts.Registry,
		auto:     opts.AutoResponses,
		replier:  opts.Replier,
		log:      logger.OrDefault(opts.Logger, "commands.router"),
		now:      time.Now,
	}, nil
}

func (r *Router) Prefix() string {
	return r.prefix
}

// Handle routes msg. Only delivery failures are returned; command failures
// are reported to the originating chat.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) error {
	received := r.now()
	text := strings.TrimSpace(msg.Content)

	log := r.log.With("chat_id", msg.ChatID, "message_id", msg.ID)
	log.Info("Message received",
		"sender", senderLabel(msg),
		"chat_type", chatType(msg),
		"from_self", msg.FromSelf,
		"text", logger.Preview(text),
	)

	if text == "" {
		return nil
	}

	isCommand := strings.HasPrefix(text, r.prefix)
	if msg.FromSelf && !isCommand {
		return nil
	}

	if isCommand {
		return r.dispatch(ctx, log, msg, text, received)
	}

	if entry, ok := r.auto.Match(text); ok {
		log.Info("Auto-responding", "trigger", entry.Trigger)
		return r.reply(ctx, msg.ChatID, entry.Reply)
	}

	if msg.IsGroup {
		return nil
	}

	return r.reply(ctx, msg.ChatID, fmt.Sprintf("🤖 I received your message: \"%s\"\n\nType %shelp to see what I can do!", text, r.prefix))
}

func (r *Router) dispatch(ctx context.Context, log *slog.Logger, msg bus.InboundMessage, text string, received time.Time) error {
	fields := strings.Fields(strings.TrimPrefix(text, r.prefix))
	if len(fields) == 0 {
		return r.reply(ctx, msg.ChatID, fmt.Sprintf("❌ Unknown command: \n\nType %shelp to see available commands.", r.prefix))
	}

	name := strings.ToLower(fields[0])
	cmd, ok := r.registry.Lookup(name)
	if !ok {
		log.Info("Unknown command", "command", name)
		return r.reply(ctx, msg.ChatID, fmt.Sprintf("❌ Unknown command: %s\n\nType %shelp to see available commands.", name, r.prefix))
	}

	call := Call{
		Name:     name,
		Args:     fields[1:],
		Prefix:   r.prefix,
		Message:  msg,
		Received: received,
		Commands: r.registry.Descriptors(),
		replier:  r.replier,
	}

	log = log.With("command", name)
	log.Info("Executing command", "args", len(call.Args))

	result, err := execute(ctx, cmd, call)
	if err != nil {
		log.Error("Command failed", "error", err, "duration_ms", time.Since(received).Milliseconds())
		return r.reply(ctx, msg.ChatID, "❌ Error executing command: "+errorDetail(err))
	}

	log.Debug("Command completed", "duration_ms", time.Since(received).Milliseconds())
	if result == "" {
		return nil
	}
	return r.reply(ctx, msg.ChatID, result)
}

func execute(ctx context.Context, cmd Command, call Call) (result string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &fault.Error{
				Category: fault.CommandExecution,
				Detail:   fmt.Sprint(recovered),
				Err:      fmt.Errorf("panic: %v\n%s", recovered, debug.Stack()),
			}
		}
	}()

	result, err = cmd.Execute(ctx, call)
	if err != nil {
		var categorized *fault.Error
		if !errors.As(err, &categorized) {
			err = fault.Wrap(fault.CommandExecution, err.Error(), err)
		}
	}
	return result, err
}

// errorDetail is the chat-facing part of a command error.
func errorDetail(err error) string {
	var categorized *fault.Error
	if errors.As(err, &categorized) && categorized.Detail != "" {
		return categorized.Detail
	}
	return err.Error()
}

func (r *Router) reply(ctx context.Context, chatID string, text string) error {
	if err := r.replier.Reply(ctx, chatID, text); err != nil {
		r.log.Warn("Reply delivery failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("reply to %s: %w", chatID, err)
	}
	return nil
}

func senderLabel(msg bus.InboundMessage) string {
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}
	if msg.SenderID != "" {
		return msg.SenderID
	}
	return "Unknown"
}

func chatType(msg bus.InboundMessage) string {
	if msg.IsGroup {
		return "group"
	}
	return "private"
}
