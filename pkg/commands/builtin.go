package commands

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"runtime"
	"strings"
	"time"

	"pairbot/pkg/calc"
)

const timeLayout = "Monday, January 2, 2006 at 03:04:05 PM MST"

var quotes = []string{
	"The only way to do great work is to love what you do. - Steve Jobs",
	"Innovation distinguishes between a leader and a follower. - Steve Jobs",
	"Life is what happens to you while you're busy making other plans. - John Lennon",
	"The future belongs to those who believe in the beauty of their dreams. - Eleanor Roosevelt",
	"It is during our darkest moments that we must focus to see the light. - Aristotle",
	"Success is not final, failure is not fatal: it is the courage to continue that counts. - Winston Churchill",
}

var jokes = []string{
	"Why don't scientists trust atoms? Because they make up everything!",
	"Why did the scarecrow win an award? He was outstanding in his field!",
	"Why don't eggs tell jokes? They'd crack each other up!",
	"What do you call a fake noodle? An impasta!",
	"Why did the math book look so sad? Because it was full of problems!",
}

// calcFilter keeps only characters the calculator grammar can use.
var calcFilter = regexp.MustCompile(`[^0-9+\-*/().\s]`)

func pingCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "ping", Usage: "ping", Description: "Test bot responsiveness"},
		Run: func(ctx context.Context, call Call) (string, error) {
			if err := call.Reply(ctx, "🏓 Pong!"); err != nil {
				return "", err
			}
			return fmt.Sprintf("⚡ Response time: %dms", time.Since(call.Received).Milliseconds()), nil
		},
	}
}

func helpCommand(title string) Command {
	return Func{
		Descriptor: Descriptor{Name: "help", Usage: "help", Description: "Show available commands"},
		Run: func(_ context.Context, call Call) (string, error) {
			var b strings.Builder
			fmt.Fprintf(&b, "🤖 *%s Commands*\n\n", title)
			for _, d := range call.Commands {
				fmt.Fprintf(&b, "*%s*\n%s\n\n", call.Usage(d), d.Description)
			}
			b.WriteString("💡 _Type any command to get started!_")
			return b.String(), nil
		},
	}
}

type infoCommand struct {
	name    string
	version string
	started time.Time
	now     func() time.Time
}

func (c infoCommand) Describe() Descriptor {
	return Descriptor{Name: "info", Usage: "info", Description: "Get bot information"}
}

func (c infoCommand) Execute(context.Context, Call) (string, error) {
	uptime := int64(c.now().Sub(c.started) / time.Second)
	return fmt.Sprintf(`🤖 *%s Information*

*Status:* ✅ Online
*Version:* %s
*Runtime:* Go %s
*Uptime:* %d seconds

*Features:*
• Message handling
• Command processing
• Session persistence
• Auto-reconnection`, c.name, c.version, strings.TrimPrefix(runtime.Version(), "go"), uptime), nil
}

func echoCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "echo", Usage: "echo <message>", Description: "Echo back your message"},
		Run: func(_ context.Context, call Call) (string, error) {
			if len(call.Args) == 0 {
				return "❌ Please provide a message to echo!\n\nUsage: " + call.Prefix + "echo <your message>", nil
			}
			return "🔄 *Echo:* " + call.Text(), nil
		},
	}
}

func timeCommand(now func() time.Time) Command {
	return Func{
		Descriptor: Descriptor{Name: "time", Usage: "time", Description: "Get current server time"},
		Run: func(context.Context, Call) (string, error) {
			return "🕐 *Current Time:*\n" + now().Format(timeLayout), nil
		},
	}
}

func quoteCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "quote", Usage: "quote", Description: "Get a random inspirational quote"},
		Run: func(context.Context, Call) (string, error) {
			return fmt.Sprintf("💭 *Quote of the moment:*\n\n\"%s\"", quotes[rand.IntN(len(quotes))]), nil
		},
	}
}

func jokeCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "joke", Usage: "joke", Description: "Get a random joke"},
		Run: func(context.Context, Call) (string, error) {
			return "😄 *Here's a joke for you:*\n\n" + jokes[rand.IntN(len(jokes))], nil
		},
	}
}

// weatherCommand returns a fixed demo forecast.
func weatherCommand() Command {
	return Func{
		Descriptor: Descriptor{Name: "weather", Usage: "weather <city>", Description: "Get weather information (demo command)"},
		Run: func(_ context.Context, call Call) (string, error) {
			if len(call.Args) == 0 {
				return "❌ Please provide a city name!\n\nUsage: " + call.Prefix + "weather <city>", nil
			}
			return fmt.Sprintf("🌤️ *Weather in %s:*\n\n*Temperature:* 22°C\n*Condition:* Partly Cloudy\n*Humidity:* 65%%\n\n_Note: This is a demo command. Connect a real weather API for live data._", call.Text()), nil
		},
	}
}

func calcCommand() Command {
	return Func{
		Descriptor: Descriptor{
			Name:        "calc",
			Aliases:     []string{"calculate"},
			Usage:       "calc <expression>",
			Description: "Simple calculator",
		},
		Run: func(_ context.Context, call Call) (string, error) {
			if len(call.Args) == 0 {
				return fmt.Sprintf("❌ Please provide a math expression!\n\nUsage: %[1]scalc 2 + 2\nExamples: %[1]scalc 10 * 5, %[1]scalc 100 / 4", call.Prefix), nil
			}

			expression := call.Text()
			result, err := calc.Eval(calcFilter.ReplaceAllString(expression, ""))
			if err != nil {
				return "❌ Invalid math expression! Please use basic operations (+, -, *, /)", nil
			}
			return fmt.Sprintf("🧮 *Calculator:*\n\n%s = %s", expression, calc.Format(result)), nil
		},
	}
}
