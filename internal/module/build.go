package module

import (
	"fmt"
	"log/slog"
	"time"

	"barfeed/internal/config"
)

// Build constructs the modules shown on the bar, in bar order. When the bar
// lists no modules every defined module is built, sorted by name.
func Build(cfg *config.Config, logger *slog.Logger) ([]Module, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	names := cfg.Bar.Modules
	if len(names) == 0 {
		names = cfg.ModuleNames()
	}

	modules := make([]Module, 0, len(names))
	for _, name := range names {
		def, ok := cfg.Modules[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrUnknownModule)
		}
		m, err := buildOne(name, def, logger)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func buildOne(name string, def config.Module, logger *slog.Logger) (Module, error) {
	switch def.Type {
	case config.ModuleTypeScript, "":
		return NewScript(name, ScriptOptions{
			Exec:     def.Exec,
			Interval: time.Duration(def.Interval) * time.Second,
			Tail:     def.Tail,
			Actions:  def.Actions(),
		}, logger), nil
	case config.ModuleTypeText:
		return NewText(name, def.Content), nil
	default:
		return nil, fmt.Errorf("module %s: unsupported type %q", name, def.Type)
	}
}
