package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"pairbot/pkg/config"
	"pairbot/pkg/session"
	"pairbot/pkg/transfer"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or move the stored credential bundle",
}

var sessionTransferCmd = &cobra.Command{
	Use:   "transfer <session-id>",
	Short: "Promote a pairing scratch session into the stored bundle",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		return withTransferGateway(func(g *transfer.Gateway) error {
			return transferSession(cmd.OutOrStdout(), g, id)
		})
	},
}

var sessionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether a stored bundle exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTransferGateway(func(g *transfer.Gateway) error {
			checkSession(cmd.OutOrStdout(), g)
			return nil
		})
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored bundle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTransferGateway(func(g *transfer.Gateway) error {
			return clearSession(cmd.OutOrStdout(), g)
		})
	},
}

func init() {
	sessionCmd.AddCommand(sessionTransferCmd, sessionCheckCmd, sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}

func withTransferGateway(run func(*transfer.Gateway) error) error {
	cfg, appLogger, err := loadRuntime()
	if err != nil {
		return err
	}

	g, err := newTransferGateway(cfg.Session, appLogger)
	if err != nil {
		return err
	}
	return run(g)
}

func newTransferGateway(cfg config.SessionConfig, log *slog.Logger) (*transfer.Gateway, error) {
	store, err := session.Open(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return transfer.New(store, cfg.ScratchDir, log), nil
}

func transferSession(out io.Writer, g *transfer.Gateway, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		fmt.Fprintln(out, "Usage: pairbot session transfer <session-id>")
		return errors.New("session id is required")
	}

	bundle, err := g.Transfer(id)
	if err != nil {
		fmt.Fprintf(out, "❌ Failed to transfer session %s: %v\n", id, err)
		return err
	}

	fmt.Fprintf(out, "✅ Session %s transferred (%d artifacts)\n", id, len(bundle))
	return nil
}

func checkSession(out io.Writer, g *transfer.Gateway) {
	fmt.Fprintln(out, "Bot has valid session:", g.Health().BotReady)
}

func clearSession(out io.Writer, g *transfer.Gateway) error {
	if err := g.Clear(); err != nil {
		fmt.Fprintf(out, "❌ Failed to clear session: %v\n", err)
		return err
	}

	fmt.Fprintln(out, "✅ Bot session cleared")
	return nil
}
