package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"pairbot/pkg/logger"
	"pairbot/pkg/pairing"
	"pairbot/pkg/protocol/bridge"
	"pairbot/pkg/session"
)

var (
	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("28")).
			Padding(1, 4)
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
)

var pairCmd = &cobra.Command{
	Use:   "pair <number>",
	Short: "Pair a device from the terminal",
	Long:  "Requests a linking code for the phone number, prints it and waits until the device is linked and the session is stored.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadRuntime()
		if err != nil {
			return err
		}
		log := logger.OrDefault(appLogger, "cmd.pair")

		store, err := session.Open(cfg.Session.Dir)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}

		coordinator, err := pairing.New(pairing.Options{
			Store:       store,
			ScratchRoot: cfg.Session.ScratchDir,
			Dialer: &bridge.Dialer{
				URL:              cfg.Connection.BridgeURL,
				HandshakeTimeout: cfg.Connection.HandshakeTimeout(),
				Logger:           appLogger,
			},
			Label:          cfg.Bot.Name,
			CodeDelay:      cfg.Pairing.CodeDelay(),
			SettleDelay:    cfg.Pairing.SettleDelay(),
			RetryDelay:     cfg.Pairing.RetryDelay(),
			AttemptTimeout: cfg.Pairing.AttemptTimeout(),
			Confirmation:   cfg.Pairing.ConfirmationText,
			Logger:         appLogger,
		})
		if err != nil {
			return err
		}
		defer coordinator.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		attempt, err := coordinator.Start(ctx, args[0])
		if err != nil {
			fmt.Fprintln(out, failStyle.Render("❌ "+pairFailure(err)))
			return err
		}

		log.Info("Linking code issued", "pairing_id", attempt.ID)
		fmt.Fprintln(out, renderCode(attempt.Code()))

		return waitForLink(ctx, out, attempt)
	},
}

func init() {
	rootCmd.AddCommand(pairCmd)
}

func renderCode(code string) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		codeStyle.Render(code),
		hintStyle.Render("Open WhatsApp › Linked devices › Link with phone number, then enter the code above."),
		hintStyle.Render("Waiting for the device to link... (Ctrl+C to abort)"),
	)
}

func waitForLink(ctx context.Context, out io.Writer, attempt *pairing.Attempt) error {
	select {
	case <-ctx.Done():
		attempt.Cancel()
		<-attempt.Done()
		fmt.Fprintln(out, failStyle.Render("❌ Pairing aborted"))
		return ctx.Err()
	case <-attempt.Done():
	}

	if err := attempt.Err(); err != nil {
		fmt.Fprintln(out, failStyle.Render("❌ Pairing failed: "+err.Error()))
		return err
	}

	fmt.Fprintln(out, okStyle.Render("✅ Device linked and session stored"))
	return nil
}

func pairFailure(err error) string {
	if errors.Is(err, pairing.ErrUnavailable) {
		return pairing.UnavailableMessage
	}
	return err.Error()
}
