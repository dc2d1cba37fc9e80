package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"barfeed/internal/config"
	"barfeed/internal/deps"
)

func newModulesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List configured modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			names := cfg.ModuleNames()
			if len(names) == 0 {
				fmt.Fprintln(out, "No modules configured")
				return nil
			}

			onBar := make(map[string]bool, len(cfg.Bar.Modules))
			for _, name := range cfg.Bar.Modules {
				onBar[name] = true
			}

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				def := cfg.Modules[name]
				rows = append(rows, []string{
					name,
					def.Type,
					moduleMode(def),
					yesNo(onBar[name] || len(cfg.Bar.Modules) == 0),
					strconv.Itoa(len(def.Actions())),
					yesNo(len(def.Actions()) > 0),
					binaryStatus(name, def),
				})
			}
			headers := []string{"Name", "Type", "Mode", "On Bar", "Actions", "Commands", "Binary"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
			fmt.Fprintln(out, renderTable(headers, rows, aligns, isTerminal(cmd)))
			return nil
		},
	}
}

func moduleMode(def config.Module) string {
	switch {
	case def.Type == config.ModuleTypeText:
		return "static"
	case def.Tail:
		return "tail"
	default:
		return fmt.Sprintf("every %ds", def.Interval)
	}
}

func binaryStatus(name string, def config.Module) string {
	if def.Type != config.ModuleTypeScript {
		return "-"
	}
	req, ok := deps.ScriptRequirement(name, def.Exec)
	if !ok {
		return "-"
	}
	status := deps.CheckBinaries([]deps.Requirement{req})[0]
	if status.Available {
		return status.Command
	}
	return "missing: " + status.Command
}
