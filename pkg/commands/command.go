// Package commands parses inbound chat messages and dispatches them to
// registered commands, canned auto-responses or the direct-chat fallback.
package commands

import (
	"context"
	"strings"
	"time"

	"pairbot/pkg/bus"
)

// Replier delivers text to a chat. *bus.MessageBus satisfies it.
type Replier interface {
	Reply(ctx context.Context, chatID string, text string) error
}

// Descriptor is the static description of a command.
type Descriptor struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
}

// Command is one chat command. A non-empty result is sent to the
// originating chat; an error is reported there instead.
type Command interface {
	Describe() Descriptor
	Execute(ctx context.Context, call Call) (string, error)
}

// Call is one invocation of a command.
type Call struct {
	Name     string
	Args     []string
	Prefix   string
	Message  bus.InboundMessage
	Received time.Time

	// Commands lists every registered command in registry order.
	Commands []Descriptor

	replier Replier
}

// Text joins the arguments with single spaces.
func (c Call) Text() string {
	return strings.Join(c.Args, " ")
}

// Reply sends an extra message to the originating chat before the command
// returns.
func (c Call) Reply(ctx context.Context, text string) error {
	return c.replier.Reply(ctx, c.Message.ChatID, text)
}

// Usage renders a descriptor's usage line with the active prefix.
func (c Call) Usage(d Descriptor) string {
	return c.Prefix + d.Usage
}

// Func adapts a plain function into a Command.
type Func struct {
	Descriptor Descriptor
	Run        func(ctx context.Context, call Call) (string, error)
}

func (f Func) Describe() Descriptor { return f.Descriptor }

func (f Func) Execute(ctx context.Context, call Call) (string, error) {
	return f.Run(ctx, call)
}
