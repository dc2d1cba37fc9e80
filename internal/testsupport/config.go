package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"barfeed/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Pipe = filepath.Join(base, "run", "barfeed.fifo")
	cfgVal.Paths.RuntimeDir = filepath.Join(base, "run")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTextModule adds a static text module and appends it to the bar.
func WithTextModule(name, content string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Modules[name] = config.Module{Type: config.ModuleTypeText, Content: content}
		b.cfg.Bar.Modules = append(b.cfg.Bar.Modules, name)
	}
}

// WithScriptModule adds a script module and appends it to the bar.
func WithScriptModule(name string, def config.Module) ConfigOption {
	return func(b *configBuilder) {
		def.Type = config.ModuleTypeScript
		b.cfg.Modules[name] = def
		b.cfg.Bar.Modules = append(b.cfg.Bar.Modules, name)
	}
}

// WithThrottle overrides the output throttle settings.
func WithThrottle(limit, ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Settings.ThrottleLimit = limit
		b.cfg.Settings.ThrottleMS = ms
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
