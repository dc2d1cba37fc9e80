package deps

import "strings"

// ShellRequirements are needed for script modules and the command pipe's
// shell fallback.
func ShellRequirements() []Requirement {
	return []Requirement{
		{Name: "env", Command: "/usr/bin/env", Description: "Launches the shell for module and fallback commands"},
		{Name: "sh", Command: "sh", Description: "Runs module scripts and unrecognized pipe commands"},
	}
}

// ScriptRequirement reports the program a script module's exec line starts
// with, skipping leading VAR=value assignments. The requirement is optional
// because a missing program only blanks that module.
func ScriptRequirement(module, execLine string) (Requirement, bool) {
	fields := strings.Fields(execLine)
	for len(fields) > 0 && isAssignment(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return Requirement{}, false
	}
	return Requirement{
		Name:        module,
		Command:     fields[0],
		Description: "Script module " + module,
		Optional:    true,
	}, true
}

func isAssignment(field string) bool {
	name, _, ok := strings.Cut(field, "=")
	if !ok || name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
