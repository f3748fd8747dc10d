package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pairbot/pkg/config"
	"pairbot/pkg/logger"
)

// version is set at build time with -ldflags "-X pairbot/cmd.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "pairbot",
	Short:         "Chat bot with device pairing and session transfer",
	Long:          "pairbot keeps one chat-protocol session alive, pairs new devices through a linking code and answers chat commands.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadRuntime loads configuration and installs the configured logger as the
// slog default.
func loadRuntime() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, appLogger, nil
}
