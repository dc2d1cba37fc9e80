package eventloop

import (
	"bufio"
	"errors"
	"strings"

	"barfeed/internal/command"
	"barfeed/internal/fileutil"
	"barfeed/internal/logging"
	"barfeed/internal/module"
)

// readLoop reads the command pipe and dispatches every line it reads. It
// holds its own write end on the pipe so writers never find it without a
// reader between sessions, and removes the pipe on exit.
func (l *EventLoop) readLoop() error {
	if l.opts.PipePath == "" {
		l.logger.Debug("no command pipe configured, input loop idle")
		return nil
	}

	l.logger.Debug("input loop started", logging.String("pipe", l.opts.PipePath))
	defer func() {
		l.wake.closeRead()
		if err := fileutil.RemoveIfExists(l.opts.PipePath); err != nil {
			l.logger.Warn("failed to remove command pipe",
				logging.String("pipe", l.opts.PipePath),
				logging.Error(err))
		}
		l.logger.Debug("input loop exited")
	}()

	for l.Running() {
		p, err := openFIFO(l.opts.PipePath)
		if err != nil {
			logging.ErrorWithContext(l.logger, "command pipe unavailable", "pipe_open_failed",
				logging.String("pipe", l.opts.PipePath),
				logging.Error(err))
			return err
		}
		err = l.readSessions(bufio.NewReader(&fifoReader{fd: p.r, wake: l.wake.r}))
		p.close()
		if errors.Is(err, errWoken) {
			break
		}
		l.logger.Warn("command pipe read failed, reopening", logging.Error(err))
	}
	return nil
}

// readSessions runs sessions on br while the loop is started. It returns
// errWoken on Stop and any other read failure for the caller to reopen on.
func (l *EventLoop) readSessions(br *bufio.Reader) error {
	for l.Running() {
		if err := l.readSession(br); err != nil {
			return err
		}
	}
	return errWoken
}

// readSession dispatches lines until an empty line arrives, the pipe fails,
// or the loop is woken. A hang-up reads as io.EOF.
func (l *EventLoop) readSession(br *bufio.Reader) error {
	for {
		raw, err := br.ReadString('\n')
		if raw != "" {
			line := strings.TrimRight(raw, "\r\n")
			if line == "" {
				return nil
			}
			if !l.Running() {
				return errWoken
			}
			l.dispatch(line)
		}
		if err != nil {
			return err
		}
	}
}

// dispatch offers line to each subscriber in load order and falls back to
// the shell when none consumes it.
func (l *EventLoop) dispatch(line string) {
	l.logger.Debug("command received", logging.String("line", line))

	for _, name := range l.subscribers {
		m, ok := l.opts.Registry.Find(name)
		if !ok {
			continue
		}
		handler, ok := m.(module.CommandHandler)
		if !ok {
			continue
		}
		if handler.HandleCommand(line) {
			l.logger.Debug("command handled", logging.String(logging.FieldModule, name))
			l.metrics.Commands.WithLabelValues(targetModule).Inc()
			return
		}
	}

	l.logger.Debug("unrecognized command, running in shell", logging.String("line", line))
	l.metrics.Commands.WithLabelValues(targetShell).Inc()
	l.runShell(line)
}

func (l *EventLoop) runShell(line string) {
	err := command.Shell(line).Run(l.runCtx, func(out string) {
		l.logger.Debug("| " + out)
	})
	if err != nil {
		l.metrics.ShellFailures.Inc()
		logging.WarnWithContext(l.logger, "shell command failed", "shell_command_failed",
			logging.String("line", line),
			logging.Error(err),
			logging.String(logging.FieldImpact, "command had no effect"))
	}
}
