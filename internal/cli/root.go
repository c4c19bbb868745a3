// Package cli wires the remnabot commands: serve runs the Telegram bot,
// build runs the image build pipeline.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	flagVerbose bool
	flagQuiet   bool
	flagConfig  string
)

// Execute parses arguments and runs the selected subcommand under a
// signal-aware context.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "remnabot",
		Short:         "Telegram VPN subscription bot and its image build tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug output")
	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")

	root.AddCommand(serveCmd(), buildCmd(), versionCmd())

	return root.ExecuteContext(ctx)
}

func newLogger(prefix string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
	})
	switch {
	case flagVerbose:
		logger.SetLevel(log.DebugLevel)
	case flagQuiet:
		logger.SetLevel(log.WarnLevel)
	}
	return logger
}
