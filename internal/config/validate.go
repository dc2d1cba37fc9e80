package config

import (
	"errors"
	"fmt"
)

// Module types understood by the module factory.
const (
	ModuleTypeScript = "script"
	ModuleTypeText   = "text"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSettings(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateBar(); err != nil {
		return err
	}
	if err := c.validateModules(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSettings() error {
	if c.Settings.ThrottleLimit < 1 {
		return errors.New("settings.throttle_limit must be at least 1")
	}
	if c.Settings.ThrottleMS < 1 {
		return errors.New("settings.throttle_ms must be at least 1")
	}
	if c.Settings.CleanupTimeoutMS < 1 {
		return errors.New("settings.cleanup_timeout_ms must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateBar() error {
	seen := make(map[string]struct{}, len(c.Bar.Modules))
	for _, name := range c.Bar.Modules {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("bar.modules: %q listed more than once", name)
		}
		seen[name] = struct{}{}
		if _, ok := c.Modules[name]; !ok {
			return fmt.Errorf("bar.modules: no [modules.%s] definition", name)
		}
	}
	return nil
}

func (c *Config) validateModules() error {
	for _, name := range c.ModuleNames() {
		def := c.Modules[name]
		switch def.Type {
		case ModuleTypeScript:
			if def.Exec == "" {
				return fmt.Errorf("modules.%s.exec must be set for script modules", name)
			}
			if def.Interval < 0 {
				return fmt.Errorf("modules.%s.interval must not be negative", name)
			}
		case ModuleTypeText:
			if def.Tail {
				return fmt.Errorf("modules.%s.tail is only valid for script modules", name)
			}
		default:
			return fmt.Errorf("modules.%s.type: unsupported value %q", name, def.Type)
		}
	}
	return nil
}
