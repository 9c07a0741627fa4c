package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wtask/chatcast/internal/chat"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, envErr := configFromEnv()
	logger := slog.Default()

	rootCmd := &cobra.Command{
		Use:   "chatsrv",
		Short: "Broadcast chat server over TCP",
		Long: `Multi-client chat server over TCP.

Every message is a length-prefixed JSON frame. Chat text is
broadcast to all connected clients, payloads starting with '!'
are commands: !ping <ts>, !disconnect.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			l, err := chat.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
			if err != nil {
				return err
			}
			logger = l.With("version", version)
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json (CHATCAST_LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (CHATCAST_LOG_LEVEL)")

	rootCmd.AddCommand(
		serveCmd(&cfg, func() *slog.Logger { return logger }),
		pingCmd(&cfg),
		sayCmd(&cfg),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatsrv (%s) error:\n\n\t%s\n", version, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatsrv %s (%s)\n", version, commit)
		},
	}
}
