// Package bar composes module outputs into the single line handed to the bar
// renderer.
package bar

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"barfeed/internal/config"
	"barfeed/internal/logging"
	"barfeed/internal/module"
)

// Source looks modules up by name. *module.Registry satisfies it.
type Source interface {
	Find(name string) (module.Module, bool)
	Names() []string
}

// Bar joins the outputs of its modules with a separator.
type Bar struct {
	cfg    config.Bar
	source Source
	logger *slog.Logger

	mu      sync.RWMutex
	modules []module.Module
}

// New constructs a Bar over source.
func New(cfg config.Bar, source Source, logger *slog.Logger) *Bar {
	return &Bar{
		cfg:    cfg,
		source: source,
		logger: logging.NewComponentLogger(logger, "bar"),
	}
}

// Load resolves the configured module names. With no names configured every
// module the source knows about is used, in its order.
func (b *Bar) Load() error {
	if b.source == nil {
		return errors.New("bar requires a module source")
	}
	names := b.cfg.Modules
	if len(names) == 0 {
		names = b.source.Names()
	}
	modules := make([]module.Module, 0, len(names))
	for _, name := range names {
		m, ok := b.source.Find(name)
		if !ok {
			return fmt.Errorf("bar module %s: %w", name, module.ErrUnknownModule)
		}
		modules = append(modules, m)
	}

	b.mu.Lock()
	b.modules = modules
	b.mu.Unlock()
	b.logger.Debug("bar loaded", logging.Strings("modules", names))
	return nil
}

// Output returns the composed line. Any module error (typically
// module.ErrNotReady) aborts composition.
func (b *Bar) Output() (string, error) {
	b.mu.RLock()
	modules := b.modules
	b.mu.RUnlock()

	parts := make([]string, 0, len(modules))
	for _, m := range modules {
		out, err := m.Output()
		if err != nil {
			return "", fmt.Errorf("bar output: %w", err)
		}
		if out == "" {
			continue
		}
		parts = append(parts, out)
	}
	return strings.Join(parts, b.cfg.Separator), nil
}
