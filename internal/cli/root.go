// Package cli defines the deckhand command-line interface.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// Options stores global CLI options shared between commands.
type Options struct {
	Environment string
	LogLevel    string
}

// Execute builds the root command, runs it with args and returns any error.
func Execute(ctx context.Context, args []string, stdout io.Writer) error {
	opts := &Options{}
	cmd := newRootCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deckhand",
		Short: "deckhand creates, pauses and deletes services on Kubernetes environments",
		Long: `deckhand renders a chart bundle per service, applies it with helm and waits for the
workload to become ready. Environments, their clusters and compose sources are listed in the
file named by DECKHAND_ENVIRONMENTS_FILE.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Environment, "environment", "e", "", "Environment name from the environments file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newDeployCommand(opts),
		newPauseCommand(opts),
		newDeleteCommand(opts),
		newStatusCommand(opts),
		newLogsCommand(opts),
		newWatchCommand(opts),
	)

	return cmd
}
