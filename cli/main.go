package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the root command; every subcommand is registered here.
func RootCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:           "blockbench",
		Short:         "blockbench measures block device performance of a microVM and checks it against baselines.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(logger)
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output, including every command that is run.")

	cmd.AddCommand(
		exerciseCmd(),
		baselinesCmd(),
	)
	return cmd
}

func main() {
	err := RootCmd().Execute()
	if err != nil {
		slog.Error("failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
