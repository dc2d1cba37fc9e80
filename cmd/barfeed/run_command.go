package main

import (
	"github.com/spf13/cobra"

	"barfeed/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon, writing bar lines to stdout",
		Long: "Run the barfeed daemon in the foreground. Bar lines go to stdout and logs to\n" +
			"stderr and the log file, so the output can be piped straight into a bar.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel: logLevel,
				Output:   cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}
