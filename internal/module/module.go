package module

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRegistry marks recoverable module availability problems. The output
	// loop skips the current tick when it sees one.
	ErrRegistry = errors.New("module registry")
	// ErrNotReady is reported by modules that have not produced output yet.
	ErrNotReady = fmt.Errorf("%w: module not ready", ErrRegistry)
	// ErrUnknownModule is reported when a name has no loaded module.
	ErrUnknownModule = fmt.Errorf("%w: unknown module", ErrRegistry)
	// ErrAlreadyLoaded is returned by a second Registry.Load.
	ErrAlreadyLoaded = errors.New("registry already loaded")
)

// Module produces one fragment of the bar output.
type Module interface {
	Name() string
	// Start begins producing output without blocking. notify must be called
	// whenever Output may return something new.
	Start(ctx context.Context, notify func()) error
	Stop()
	Ready() bool
	Output() (string, error)
}

// CommandHandler is implemented by modules that accept raw command lines from
// the command pipe. HandleCommand reports whether the line was consumed.
type CommandHandler interface {
	HandleCommand(line string) bool
}

func notReady(name string) error {
	return fmt.Errorf("%s: %w", name, ErrNotReady)
}
