package main

import (
	"strings"

	"github.com/spf13/cobra"

	"barfeed/internal/daemonctl"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command...>",
		Short: "Send a command line to the running daemon",
		Long: "Write one line to the daemon's command pipe. Module actions matching a\n" +
			"configured click or scroll command run in that module; anything else runs\n" +
			"in the daemon's shell.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonctl.Send(cfg.Paths.Pipe, strings.Join(args, " "))
		},
	}
}
