package eventloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"barfeed/internal/fileutil"
	"barfeed/internal/logging"
	"barfeed/internal/module"
)

const (
	defaultThrottleLimit  = 5
	defaultThrottleWindow = 50 * time.Millisecond
	fifoMode              = 0o600
)

var (
	// ErrSetup wraps failures preparing the command pipe.
	ErrSetup = errors.New("event loop setup")
	// ErrPipeOpen is the input loop's fatal error.
	ErrPipeOpen = errors.New("open command pipe")
	// ErrOutputWrite is the output loop's fatal error.
	ErrOutputWrite = errors.New("write bar output")
	// ErrCleanupTimeout reports loops that did not exit before the cleanup deadline.
	ErrCleanupTimeout = errors.New("event loop cleanup timed out")
)

// State is the run state shared by both loops.
type State int32

const (
	StateStopped State = iota
	StateStarted
)

func (s State) String() string {
	if s == StateStarted {
		return "started"
	}
	return "stopped"
}

// Registry is the module registry as seen by the loop.
type Registry interface {
	Load(subscribe func(name string)) error
	Unload()
	Wait() bool
	Ready() bool
	Find(name string) (module.Module, bool)
}

// Aggregator composes the current bar line.
type Aggregator interface {
	Load() error
	Output() (string, error)
}

// Options wires an EventLoop to its collaborators.
type Options struct {
	// PipePath is the command FIFO. Empty disables the input loop.
	PipePath string
	// ThrottleLimit emissions are allowed inside each ThrottleWindow.
	ThrottleLimit  int
	ThrottleWindow time.Duration

	Registry   Registry
	Aggregator Aggregator
	// Output receives one line per emission. Defaults to os.Stdout.
	Output  io.Writer
	Logger  *slog.Logger
	Metrics *Metrics
	// Terminate is called after a fatal output error. Defaults to sending
	// SIGTERM to the current process, which wakes Wait.
	Terminate func()
}

// EventLoop coordinates the output and input loops.
type EventLoop struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	out     io.Writer

	state       atomic.Int32
	subscribers []string

	wake *wakePipe

	// cancels shell commands started by the input loop
	runCtx    context.Context
	runCancel context.CancelFunc

	writeDone chan struct{}
	readDone  chan struct{}
	writeErr  error
	readErr   error

	// termination signals, armed by Start and released by Cleanup
	signals chan os.Signal
}

// New validates opts and prepares the command pipe. Pipe failures are
// returned wrapped in ErrSetup.
func New(opts Options) (*EventLoop, error) {
	if opts.Registry == nil || opts.Aggregator == nil {
		return nil, errors.New("event loop requires registry and aggregator")
	}
	if opts.ThrottleLimit <= 0 {
		opts.ThrottleLimit = defaultThrottleLimit
	}
	if opts.ThrottleWindow <= 0 {
		opts.ThrottleWindow = defaultThrottleWindow
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Terminate == nil {
		opts.Terminate = terminateSelf
	}

	l := &EventLoop{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "eventloop"),
		metrics: opts.Metrics,
		out:     opts.Output,
		signals: make(chan os.Signal, 1),
	}
	l.runCtx, l.runCancel = context.WithCancel(context.Background())

	if opts.PipePath == "" {
		return l, nil
	}
	if err := fileutil.EnsureFIFO(opts.PipePath, fifoMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	wake, err := newWakePipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	l.wake = wake
	return l, nil
}

// State returns the current run state.
func (l *EventLoop) State() State {
	return State(l.state.Load())
}

// Running reports whether the loop is started.
func (l *EventLoop) Running() bool {
	return l.State() == StateStarted
}

// Subscribers returns the command subscribers in dispatch order.
func (l *EventLoop) Subscribers() []string {
	return append([]string(nil), l.subscribers...)
}

// Start loads the aggregator and registry, arms SIGINT, SIGQUIT and SIGTERM
// for Wait, ignores SIGPIPE, then launches both loops. It is a no-op when
// already started.
func (l *EventLoop) Start() error {
	if l.Running() {
		return nil
	}
	if l.writeDone != nil {
		return errors.New("event loop cannot be restarted")
	}

	l.logger.Debug("starting event loop")

	if err := l.opts.Aggregator.Load(); err != nil {
		return fmt.Errorf("load bar: %w", err)
	}

	var subscribers []string
	err := l.opts.Registry.Load(func(name string) {
		l.logger.Debug("adding command subscriber", logging.String(logging.FieldModule, name))
		subscribers = append(subscribers, name)
	})
	if err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	l.subscribers = subscribers

	// before either loop can write or call Terminate
	signal.Ignore(unix.SIGPIPE)
	signal.Notify(l.signals, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)

	l.state.Store(int32(StateStarted))

	l.writeDone = make(chan struct{})
	l.readDone = make(chan struct{})
	go func() {
		defer close(l.writeDone)
		l.writeErr = l.guard("output", l.writeLoop)
		if l.writeErr != nil {
			l.opts.Terminate()
		}
	}()
	go func() {
		defer close(l.readDone)
		l.readErr = l.guard("input", l.readLoop)
	}()

	l.logger.Debug("event loop started")
	return nil
}

// Stop flips the state to stopped, wakes the input loop and unloads the
// registry, which releases the output loop. It is a no-op when already stopped.
func (l *EventLoop) Stop() {
	if !l.state.CompareAndSwap(int32(StateStarted), int32(StateStopped)) {
		return
	}

	l.logger.Debug("stopping event loop")

	if l.wake != nil {
		if err := l.wake.signal(); err != nil {
			logging.WarnWithContext(l.logger, "failed to wake input loop", "input_wake_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cleanup may time out waiting for the input loop"))
		}
	}
	l.runCancel()

	l.opts.Registry.Unload()

	l.logger.Debug("event loop stopped")
}

// guard runs fn and converts a panic into an error so it reaches Cleanup.
func (l *EventLoop) guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s loop panic: %v", name, r)
			l.logger.Error("loop panicked", logging.String("loop", name), logging.Any("panic", r))
		}
	}()
	return fn()
}

func terminateSelf() {
	_ = unix.Kill(os.Getpid(), unix.SIGTERM)
}
