// Package commands implements the membench command-line interface.
// Each subcommand covers one pipeline stage (validate, dispatch, score,
// report) plus `run`, which chains all of them over a single run
// directory.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions carries the persistent flags shared by every subcommand.
// Values are bound by Root and read when a subcommand executes.
type globalOptions struct {
	configPath string
	logLevel   string
}

// Root builds the membench root command.
func Root(version, buildTime string) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "membench",
		Short: "Long-term memory benchmark harness",
		Long: `Membench evaluates long-term memory of large language models over
long multi-party workplace conversations, across three tiers:
factual recall, applied memory, and personalization.

The pipeline reads a prepared JSONL dataset (personas, conversation
turns, questions), dispatches each question with its permitted
conversation context to the subject model, grades the recorded
responses per tier, and aggregates scores by tier, community, and
conversation length.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newValidateCommand(opts),
		newDispatchCommand(opts),
		newScoreCommand(opts),
		newReportCommand(opts),
		newRunCommand(opts),
		newModelsCommand(opts),
		newVersionCommand(version, buildTime),
	)

	return cmd
}

func newVersionCommand(version, buildTime string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "membench version %s (build: %s)\n", version, buildTime)
		},
	}
}
