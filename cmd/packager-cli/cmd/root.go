package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bundle-packager/client"
)

var (
	serverURL string
	timeout   time.Duration

	// rootCmd is the base command, every subcommand talks to one server.
	rootCmd = &cobra.Command{
		Use:          "packager-cli",
		Short:        "Upload web bundles and drive packaging jobs",
		SilenceUsage: true,
	}
)

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://127.0.0.1:7290", "packager server base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-request timeout")

	rootCmd.AddCommand(uploadCmd, packageCmd, statusCmd, cancelCmd, retryCmd)
}

func newClient() *client.Client {
	return client.New(serverURL, timeout)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}
