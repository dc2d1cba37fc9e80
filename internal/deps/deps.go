package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement names a program a module or the shell fallback starts.
// Optional requirements come from script exec lines, which may start with
// something the shell resolves without a binary.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of resolving one Requirement.
type Status struct {
	Requirement
	Available bool
	// Path is the resolved executable; empty for builtins and misses.
	Path   string
	Detail string
}

// shellBuiltins start exec lines that sh runs without looking up a binary.
var shellBuiltins = map[string]struct{}{
	".": {}, ":": {}, "[": {}, "cd": {}, "echo": {}, "eval": {}, "exec": {},
	"exit": {}, "export": {}, "false": {}, "printf": {}, "read": {}, "set": {},
	"test": {}, "true": {}, "case": {}, "for": {}, "if": {}, "while": {},
	"until": {}, "{": {},
}

// CheckBinaries resolves each requirement the way sh would start it: shell
// builtins count as available, a leading ~/ is expanded against the home
// directory, and everything else is looked up on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		results = append(results, resolve(req))
	}
	return results
}

func resolve(req Requirement) Status {
	status := Status{Requirement: req}
	cmd := req.Command
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	if _, ok := shellBuiltins[cmd]; ok {
		status.Available = true
		status.Detail = "shell builtin"
		return status
	}

	path, err := exec.LookPath(expandHome(cmd))
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		if req.Optional {
			status.Detail += "; module shows no output until it is installed"
		}
		return status
	}
	status.Available = true
	status.Path = path
	return status
}

func expandHome(cmd string) string {
	if !strings.HasPrefix(cmd, "~/") {
		return cmd
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return cmd
	}
	return filepath.Join(home, cmd[2:])
}
