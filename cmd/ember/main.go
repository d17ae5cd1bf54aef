// Package main provides the Ember CLI.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/ember-ml/ember/tensor"
)

const version = "v0.1.0-dev"

type globalFlags struct {
	verbosity int
	workers   int
}

func newRootCommand() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "ember",
		Short:         "Ember trains small neural networks on the CPU",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			stdr.SetVerbosity(g.verbosity)
			tensor.SetWorkers(g.workers)
		},
	}
	root.PersistentFlags().IntVarP(&g.verbosity, "verbose", "v", 0, "log verbosity (1: progress, 2: every batch)")
	root.PersistentFlags().IntVar(&g.workers, "workers", 0, "matrix multiplication goroutines (0: one per CPU)")

	root.AddCommand(
		newTrainCommand(),
		newDescribeCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Ember %s\n", version)
		},
	}
}

func main() {
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logr.NewContext(ctx, logger)

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Error(err, "ember failed")
		stop()
		os.Exit(1)
	}
}
