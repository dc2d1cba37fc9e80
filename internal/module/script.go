package module

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"barfeed/internal/command"
	"barfeed/internal/logging"
)

const (
	counterToken      = "%counter%"
	tailRestartDelay  = time.Second
	minScriptInterval = 100 * time.Millisecond
)

// ScriptOptions configures a Script module.
type ScriptOptions struct {
	Exec     string
	Interval time.Duration
	// Tail keeps one process running and uses each stdout line as the output.
	Tail bool
	// Actions lists command lines this module consumes from the command pipe.
	Actions []string
}

// Script runs a shell command and shows its output.
//
// In interval mode the command is re-run every Interval, with %counter%
// replaced by the run number. In tail mode a single process is kept alive and
// restarted if it exits.
type Script struct {
	name    string
	opts    ScriptOptions
	logger  *slog.Logger
	actions map[string]struct{}

	mu     sync.Mutex
	output string
	ready  bool

	counter atomic.Int64
	refresh chan struct{}
	notify  func()

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lifeMu  sync.Mutex
	stopped bool
}

// NewScript constructs a script module.
func NewScript(name string, opts ScriptOptions, logger *slog.Logger) *Script {
	if opts.Interval > 0 && opts.Interval < minScriptInterval {
		opts.Interval = minScriptInterval
	}
	actions := make(map[string]struct{}, len(opts.Actions))
	for _, action := range opts.Actions {
		if action = strings.TrimSpace(action); action != "" {
			actions[action] = struct{}{}
		}
	}
	return &Script{
		name:    name,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "module").With(logging.String(logging.FieldModule, name)),
		actions: actions,
		refresh: make(chan struct{}, 1),
	}
}

func (s *Script) Name() string { return s.name }

func (s *Script) Start(ctx context.Context, notify func()) error {
	if strings.TrimSpace(s.opts.Exec) == "" {
		return errors.New("script module requires exec")
	}
	if notify == nil {
		notify = func() {}
	}
	s.notify = notify
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.opts.Tail {
			s.runTail()
			return
		}
		s.runInterval()
	}()
	return nil
}

func (s *Script) Stop() {
	s.lifeMu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.lifeMu.Unlock()
	s.wg.Wait()
}

func (s *Script) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Script) Output() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return "", notReady(s.name)
	}
	return s.output, nil
}

// HandleCommand consumes lines matching one of the configured actions. The
// action runs in the background and the module refreshes afterwards.
func (s *Script) HandleCommand(line string) bool {
	if _, ok := s.actions[strings.TrimSpace(line)]; !ok {
		return false
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.ctx == nil || s.stopped {
		return true
	}
	s.logger.Debug("running action", logging.String("action", line))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := command.Shell(line).Run(s.ctx, nil); err != nil && s.ctx.Err() == nil {
			logging.WarnWithContext(s.logger, "module action failed", "module_action_failed",
				logging.String("action", line),
				logging.Error(err),
				logging.String(logging.FieldImpact, "click or scroll had no effect"))
		}
		s.requestRefresh()
	}()
	return true
}

func (s *Script) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *Script) runInterval() {
	s.update()
	if s.opts.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.refresh:
		}
		s.update()
	}
}

func (s *Script) update() {
	n := s.counter.Add(1)
	line := strings.ReplaceAll(s.opts.Exec, counterToken, strconv.FormatInt(n, 10))
	out, err := command.Shell(line).Output(s.ctx)
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		logging.WarnWithContext(s.logger, "script failed", "module_script_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "module keeps its previous output"),
			logging.String(logging.FieldErrorHint, "run the exec command manually to check it"))
		s.setOutput(s.currentOutput())
		return
	}
	s.setOutput(out)
}

func (s *Script) runTail() {
	for {
		cmd := command.Shell(s.opts.Exec)
		err := cmd.Run(s.ctx, func(line string) {
			s.setOutput(line)
		})
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.WarnWithContext(s.logger, "tailed script exited", "module_tail_exited",
				logging.Error(err),
				logging.String(logging.FieldImpact, "module output is stale until restart"))
		}
		delay := s.opts.Interval
		if delay <= 0 {
			delay = tailRestartDelay
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Script) currentOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// setOutput stores out and notifies when it differs from what was shown.
func (s *Script) setOutput(out string) {
	s.mu.Lock()
	changed := !s.ready || s.output != out
	s.output = out
	s.ready = true
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}
