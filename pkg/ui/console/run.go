// Package console is a terminal chat that feeds typed lines to the command
// router and shows its replies, without a protocol connection.
package console

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pairbot/pkg/bus"
)

// HandleFunc routes one inbound message. Router.Handle satisfies it.
type HandleFunc func(ctx context.Context, msg bus.InboundMessage) error

// Info labels the console.
type Info struct {
	BotName string
	Prefix  string
	// Group starts the console as a group chat.
	Group bool
}

func (i Info) name() string {
	if name := strings.TrimSpace(i.BotName); name != "" {
		return name
	}
	return "pairbot"
}

func (i Info) prefix() string {
	if prefix := strings.TrimSpace(i.Prefix); prefix != "" {
		return prefix
	}
	return "!"
}

// Run blocks until the operator quits. outbox must be the replier the
// router sends through.
func Run(ctx context.Context, handle HandleFunc, outbox *Outbox, info Info) error {
	defer outbox.Close()

	program := tea.NewProgram(newModel(ctx, handle, outbox, info), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner(info.name()))
	return nil
}

func renderGoodbyeBanner(name string) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("28")).
		Padding(1, 2)

	return style.Render("👋 " + name + " console closed")
}
