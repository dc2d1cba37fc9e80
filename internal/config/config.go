package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Settings contains output loop tuning.
type Settings struct {
	ThrottleLimit    int `toml:"throttle_limit"`
	ThrottleMS       int `toml:"throttle_ms"`
	CleanupTimeoutMS int `toml:"cleanup_timeout_ms"`
}

// Paths contains filesystem locations used by the daemon.
type Paths struct {
	Pipe       string `toml:"pipe"`
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Bar describes which modules make up the emitted line and how they are joined.
type Bar struct {
	Modules   []string `toml:"modules"`
	Separator string   `toml:"separator"`
}

// Module is a single module definition from a [modules.<name>] table.
type Module struct {
	Type     string `toml:"type"`
	Exec     string `toml:"exec"`
	Interval int    `toml:"interval"`
	Tail     bool   `toml:"tail"`
	Content  string `toml:"content"`

	ClickLeft   string `toml:"click_left"`
	ClickMiddle string `toml:"click_middle"`
	ClickRight  string `toml:"click_right"`
	ScrollUp    string `toml:"scroll_up"`
	ScrollDown  string `toml:"scroll_down"`
}

// Actions returns the configured action commands in a stable order.
func (m Module) Actions() []string {
	var actions []string
	for _, action := range []string{m.ClickLeft, m.ClickMiddle, m.ClickRight, m.ScrollUp, m.ScrollDown} {
		if action = strings.TrimSpace(action); action != "" {
			actions = append(actions, action)
		}
	}
	return actions
}

// Config encapsulates all configuration values for barfeed.
//
// Configuration sections by subsystem:
//   - Settings: output throttling and shutdown timeout
//   - Paths: command pipe, runtime (lock/pid) and log directories
//   - Logging: log format and level
//   - Metrics: optional Prometheus listener
//   - Bar: module order and separator
//   - Modules: per-module definitions keyed by name
type Config struct {
	Settings Settings          `toml:"settings"`
	Paths    Paths             `toml:"paths"`
	Logging  Logging           `toml:"logging"`
	Metrics  Metrics           `toml:"metrics"`
	Bar      Bar               `toml:"bar"`
	Modules  map[string]Module `toml:"modules"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/barfeed/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := decode(file, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decode(r io.Reader, cfg *Config) error {
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("barfeed.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RuntimeDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if pipe := strings.TrimSpace(c.Paths.Pipe); pipe != "" {
		if err := os.MkdirAll(filepath.Dir(pipe), 0o755); err != nil {
			return fmt.Errorf("create pipe directory: %w", err)
		}
	}
	return nil
}

// ThrottleWindow returns throttle_ms as a duration.
func (c *Config) ThrottleWindow() time.Duration {
	return time.Duration(c.Settings.ThrottleMS) * time.Millisecond
}

// CleanupTimeout returns cleanup_timeout_ms as a duration.
func (c *Config) CleanupTimeout() time.Duration {
	return time.Duration(c.Settings.CleanupTimeoutMS) * time.Millisecond
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "barfeed.lock")
}

// PIDPath returns the pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "barfeed.pid")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "barfeed.log")
}

// ModuleNames returns every defined module name, sorted.
func (c *Config) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	encoder := toml.NewEncoder(w)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
