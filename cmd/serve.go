package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pairbot/pkg/fault"
	"pairbot/pkg/gateway"
	"pairbot/pkg/logger"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot with its gateway and pairing APIs",
	Long:  "Keeps the stored session connected, routes chat commands and serves the session transfer and pairing HTTP APIs until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, appLogger, err := loadRuntime()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Gateway.Port = servePort
		}
		log := logger.OrDefault(appLogger, "cmd.serve")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, gateway.Options{Version: version, Logger: appLogger})
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Bot starting",
			"bot", cfg.Bot.Name,
			"version", version,
			"bridge", cfg.Connection.BridgeURL,
			"port", cfg.Gateway.Port,
			"pairing", cfg.Pairing.Enabled,
		)

		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, fault.ErrTerminalAuth) {
				log.Error("Session was logged out; pair the device again before restarting", "error", err)
			} else {
				log.Error("Gateway runtime failed", "error", err)
			}
			return err
		}

		log.Info("Bot stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "override gateway.port")
}
