package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pairbot/pkg/commands"
	"pairbot/pkg/llm"
	"pairbot/pkg/logger"
	"pairbot/pkg/schedule"
	"pairbot/pkg/ui/console"
)

var consoleGroup bool

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the command router in the terminal",
	Long:  "Starts a local chat console that sends typed lines through the same commands and auto-responses the bot uses, without a protocol connection.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}

		// Log lines would tear the full-screen UI.
		quiet := logger.Discard()

		scheduler := schedule.New(quiet)
		defer scheduler.Close()

		var asker commands.Asker
		if cfg.Providers.OpenAI.Enabled {
			client, err := llm.New(cfg.Providers.OpenAI, quiet)
			if err != nil {
				return err
			}
			asker = client
		}

		registry, err := commands.DefaultRegistry(commands.Options{
			BotName:   cfg.Bot.Name,
			Version:   version,
			Started:   time.Now(),
			Scheduler: scheduler,
			Asker:     asker,
			Logger:    quiet,
		})
		if err != nil {
			return err
		}

		outbox := console.NewOutbox()
		router, err := commands.NewRouter(commands.RouterOptions{
			Prefix:        cfg.Bot.Prefix,
			Registry:      registry,
			AutoResponses: commands.DefaultAutoResponses(cfg.Bot.Prefix),
			Replier:       outbox,
			Logger:        quiet,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return console.Run(ctx, router.Handle, outbox, console.Info{
			BotName: cfg.Bot.Name,
			Prefix:  router.Prefix(),
			Group:   consoleGroup,
		})
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().BoolVarP(&consoleGroup, "group", "g", false, "start as a group chat")
}
