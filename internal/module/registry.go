package module

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"barfeed/internal/logging"
)

// Registry owns the loaded modules and turns their change notifications into
// ticks for the output loop.
type Registry struct {
	modules []Module
	byName  map[string]Module
	logger  *slog.Logger

	ticks chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	loaded   bool
	unloaded bool
	cancel   context.CancelFunc
}

// NewRegistry takes ownership of modules. Names must be unique.
func NewRegistry(modules []Module, logger *slog.Logger) (*Registry, error) {
	byName := make(map[string]Module, len(modules))
	for _, m := range modules {
		if m == nil {
			return nil, fmt.Errorf("nil module")
		}
		if _, dup := byName[m.Name()]; dup {
			return nil, fmt.Errorf("duplicate module %q", m.Name())
		}
		byName[m.Name()] = m
	}
	return &Registry{
		modules: append([]Module(nil), modules...),
		byName:  byName,
		logger:  logging.NewComponentLogger(logger, "registry"),
		ticks:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// Load starts every module in order. subscribe is called with the name of
// each module that accepts command lines, in the same order.
func (r *Registry) Load(subscribe func(name string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded || r.unloaded {
		return ErrAlreadyLoaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	for i, m := range r.modules {
		r.logger.Debug("loading module", logging.String(logging.FieldModule, m.Name()))
		if err := m.Start(ctx, r.Notify); err != nil {
			cancel()
			for j := i - 1; j >= 0; j-- {
				r.modules[j].Stop()
			}
			return fmt.Errorf("start module %s: %w", m.Name(), err)
		}
		if _, ok := m.(CommandHandler); ok && subscribe != nil {
			subscribe(m.Name())
		}
	}
	r.cancel = cancel
	r.loaded = true
	return nil
}

// Unload stops all modules and releases any goroutine blocked in Wait. It is
// safe to call more than once, and before Load.
func (r *Registry) Unload() {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return
	}
	r.unloaded = true
	close(r.done)
	cancel := r.cancel
	wasLoaded := r.loaded
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !wasLoaded {
		return
	}
	for i := len(r.modules) - 1; i >= 0; i-- {
		r.logger.Debug("unloading module", logging.String(logging.FieldModule, r.modules[i].Name()))
		r.modules[i].Stop()
	}
}

// Notify records a tick. Ticks coalesce while nobody is waiting.
func (r *Registry) Notify() {
	select {
	case r.ticks <- struct{}{}:
	default:
	}
}

// Wait blocks until the next tick. It returns false once the registry is unloaded.
func (r *Registry) Wait() bool {
	select {
	case <-r.done:
		return false
	case <-r.ticks:
		select {
		case <-r.done:
			return false
		default:
			return true
		}
	}
}

// Ready reports whether every module has produced output.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	active := r.loaded && !r.unloaded
	r.mu.Unlock()
	if !active {
		return false
	}
	for _, m := range r.modules {
		if !m.Ready() {
			return false
		}
	}
	return true
}

// Find returns the module registered under name.
func (r *Registry) Find(name string) (Module, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Names returns module names in load order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for _, m := range r.modules {
		names = append(names, m.Name())
	}
	return names
}
