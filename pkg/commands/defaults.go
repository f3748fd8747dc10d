package commands

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"pairbot/pkg/logger"
	"pairbot/pkg/schedule"
)

// Options configures the stock command set.
type Options struct {
	BotName   string
	Version   string
	Started   time.Time
	Scheduler *schedule.Scheduler
	// Asker enables the ask command when set.
	Asker  Asker
	Logger *slog.Logger

	now  func() time.Time
	intn func(n int) int
}

// Defaults returns the stock commands in help order.
func Defaults(opts Options) []Command {
	now := opts.now
	if now == nil {
		now = time.Now
	}
	intn := opts.intn
	if intn == nil {
		intn = rand.IntN
	}
	started := opts.Started
	if started.IsZero() {
		started = now()
	}
	name := strings.TrimSpace(opts.BotName)
	if name == "" {
		name = "WhatsApp Bot"
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = "dev"
	}

	cmds := []Command{
		pingCommand(),
		helpCommand(name),
		infoCommand{name: name, version: version, started: started, now: now},
		echoCommand(),
		timeCommand(now),
		quoteCommand(),
		jokeCommand(),
		weatherCommand(),
		calcCommand(),
		randomCommand(intn),
		flipCommand(intn),
		countCommand(),
		remindCommand{scheduler: opts.Scheduler, log: logger.OrDefault(opts.Logger, "commands.remind")},
		upperCommand(),
		reverseCommand(),
	}
	if opts.Asker != nil {
		cmds = append(cmds, askCommand{asker: opts.Asker})
	}

	return cmds
}

// DefaultRegistry builds a registry from Defaults.
func DefaultRegistry(opts Options) (*Registry, error) {
	return NewRegistry(Defaults(opts)...)
}
