package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"pairbot/pkg/schedule"
)

const (
	defaultRandomMin = 1
	defaultRandomMax = 100
)

// Asker answers free-form questions. *llm.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

func randomCommand(intn func(n int) int) Command {
	return Func{
		Descriptor: Descriptor{Name: "random", Usage: "random <min> <max>", Description: "Generate a random number"},
		Run: func(_ context.Context, call Call) (string, error) {
			low, high := randomBounds(call.Args)
			span := high - low + 1
			if span <= 0 {
				return "", errors.New("range is too large")
			}
			n := low + intn(span)
			return fmt.Sprintf("🎲 *Random Number:* %d\n*Range:* %d - %d", n, low, high), nil
		},
	}
}

// randomBounds applies the defaults for missing or unparsable bounds and
// orders the result.
func randomBounds(args []string) (int, int) {
	low, high := defaultRandomMin, defaultRandomMax

	switch {
	case len(args) >= 2:
		low = parseIntOr(args[0], defaultRandomMin)
		high = parseIntOr(args[1], defaultRandomMax)
	case len(args) == 1:
		high = parseIntOr(args[0], defaultRandomMax)
	}

	if low > high {
		low, high = high, low
	}
	return low, high
}

func parseIntOr(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n == 0 {
		return fallback
	}
	return n
}

func flipCommand(intn func(n int) int) Command {
	return Func{
		Descriptor: Descriptor{Name: "flip", Usage: "flip", Description: "Flip a coin"},
		Run: func(context.Context, Call) (string, error) {
			if intn(2) == 0 {
				return "🪙 *Coin Flip Result:* Heads!", nil
			}
			return "🔄 *Coin Flip Result:* Tails!", nil
		},
	}
}

func countCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "count", Usage: "count <your message>", Description: "Count words in a message"},
		Run: func(_ context.Context, call Call) (string, error) {
			if len(call.Args) == 0 {
				return "❌ Please provide text to count!\n\nUsage: " + call.Prefix + "count your message here", nil
			}

			text := call.Text()
			return fmt.Sprintf("📊 *Text Statistics:*\n\n*Words:* %d\n*Characters:* %d\n*Text:* \"%s\"",
				len(strings.Fields(text)), utf8.RuneCountInString(text), text), nil
		},
	}
}

type remindCommand struct {
	scheduler *schedule.Scheduler
	log       *slog.Logger
}

func (c remindCommand) Describe() Descriptor {
	return Descriptor{Name: "remind", Usage: "remind <seconds> <message>", Description: "Set a simple reminder"}
}

func (c remindCommand) Execute(ctx context.Context, call Call) (string, error) {
	if len(call.Args) < 2 {
		return "❌ Please provide time and message!\n\nUsage: " + call.Prefix + "remind 60 Take a break\n(Time in seconds)", nil
	}

	seconds, err := strconv.Atoi(call.Args[0])
	if err != nil || seconds <= 0 {
		return "❌ Please provide a valid number of seconds!", nil
	}
	if c.scheduler == nil {
		return "", errors.New("reminders are not available")
	}

	text := strings.Join(call.Args[1:], " ")
	if err := call.Reply(ctx, fmt.Sprintf("⏰ *Reminder set!*\nI'll remind you in %d seconds: \"%s\"", seconds, text)); err != nil {
		return "", err
	}

	chatID := call.Message.ChatID
	_, err = c.scheduler.After(time.Duration(seconds)*time.Second, func(taskCtx context.Context) {
		if err := call.Reply(taskCtx, "🔔 *Reminder:* "+text); err != nil {
			c.log.Error("Reminder delivery failed", "chat_id", chatID, "error", err)
		}
	})
	if err != nil {
		return "", fmt.Errorf("schedule reminder: %w", err)
	}

	return "", nil
}

func upperCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "upper", Usage: "upper <text>", Description: "Convert text to uppercase"},
		Run: func(_ context.Context, call Call) (string, error) {
			if len(call.Args) == 0 {
				return "❌ Please provide text to convert!\n\nUsage: " + call.Prefix + "upper hello world", nil
			}
			return "🔤 *Uppercase:* " + strings.ToUpper(call.Text()), nil
		},
	}
}

func reverseCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "reverse", Usage: "reverse <text>", Description: "Reverse text"},
		Run: func(_ context.Context, call Call) (string, error) {
			if len(call.Args) == 0 {
				return "❌ Please provide text to reverse!\n\nUsage: " + call.Prefix + "reverse hello world", nil
			}
			runes := []rune(call.Text())
			slices.Reverse(runes)
			return "🔄 *Reversed:* " + string(runes), nil
		},
	}
}

type askCommand struct {
	asker Asker
}

func (c askCommand) Describe() Descriptor {
	return Descriptor{Name: "ask", Usage: "ask <question>", Description: "Ask the AI assistant a question"}
}

func (c askCommand) Execute(ctx context.Context, call Call) (string, error) {
	if len(call.Args) == 0 {
		return "❌ Please provide a question!\n\nUsage: " + call.Prefix + "ask what is the capital of France?", nil
	}

	answer, err := c.asker.Ask(ctx, call.Text())
	if err != nil {
		return "", err
	}
	return "🤖 " + answer, nil
}
