package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"barfeed/internal/daemonctl"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cfg.PIDPath(), grace)
			if errors.Is(err, daemonctl.ErrNotRunning) {
				fmt.Fprintln(out, "barfeed is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Killed barfeed (pid %d) after %s\n", result.PID, grace)
				return nil
			}
			fmt.Fprintf(out, "Stopped barfeed (pid %d)\n", result.PID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "timeout", 10*time.Second, "How long to wait before killing the daemon")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			alive, pid, err := daemonctl.ProcessInfo(cfg.PIDPath())
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Running", yesNo(alive)},
				{"PID", pidValue(alive, pid)},
				{"Pipe", cfg.Paths.Pipe},
				{"Config", ctx.configPath},
				{"Log", cfg.LogPath()},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil, isTerminal(cmd)))
			return nil
		},
	}
}

func pidValue(alive bool, pid int) string {
	if !alive {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}
