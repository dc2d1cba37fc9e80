package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides holds BARFEED_* environment values. Unset variables stay nil.
type envOverrides struct {
	Pipe          *string `envconfig:"PIPE"`
	RuntimeDir    *string `envconfig:"RUNTIME_DIR"`
	LogDir        *string `envconfig:"LOG_DIR"`
	LogLevel      *string `envconfig:"LOG_LEVEL"`
	LogFormat     *string `envconfig:"LOG_FORMAT"`
	ThrottleLimit *int    `envconfig:"THROTTLE_LIMIT"`
	ThrottleMS    *int    `envconfig:"THROTTLE_MS"`
	MetricsBind   *string `envconfig:"METRICS_BIND"`
}

func (c *Config) normalize() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeBar()
	c.normalizeModules()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	return nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("barfeed", &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if env.Pipe != nil {
		c.Paths.Pipe = *env.Pipe
	}
	if env.RuntimeDir != nil {
		c.Paths.RuntimeDir = *env.RuntimeDir
	}
	if env.LogDir != nil {
		c.Paths.LogDir = *env.LogDir
	}
	if env.LogLevel != nil {
		c.Logging.Level = *env.LogLevel
	}
	if env.LogFormat != nil {
		c.Logging.Format = *env.LogFormat
	}
	if env.ThrottleLimit != nil {
		c.Settings.ThrottleLimit = *env.ThrottleLimit
	}
	if env.ThrottleMS != nil {
		c.Settings.ThrottleMS = *env.ThrottleMS
	}
	if env.MetricsBind != nil {
		c.Metrics.Bind = *env.MetricsBind
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	c.Paths.Pipe = strings.TrimSpace(c.Paths.Pipe)
	if c.Paths.Pipe, err = expandPath(c.Paths.Pipe); err != nil {
		return fmt.Errorf("paths.pipe: %w", err)
	}
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeBar() {
	names := make([]string, 0, len(c.Bar.Modules))
	for _, name := range c.Bar.Modules {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	c.Bar.Modules = names
}

func (c *Config) normalizeModules() {
	if c.Modules == nil {
		c.Modules = map[string]Module{}
		return
	}
	for name, def := range c.Modules {
		def.Type = strings.ToLower(strings.TrimSpace(def.Type))
		if def.Type == "" {
			def.Type = ModuleTypeScript
		}
		def.Exec = strings.TrimSpace(def.Exec)
		if def.Type == ModuleTypeScript && def.Interval == 0 && !def.Tail {
			def.Interval = defaultScriptInterval
		}
		c.Modules[name] = def
	}
}
