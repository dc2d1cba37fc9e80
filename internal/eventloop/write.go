package eventloop

import (
	"errors"
	"fmt"
	"io"

	"barfeed/internal/logging"
	"barfeed/internal/module"
)

// writeLoop emits one bar line per registry tick until the loop stops. Only
// a failed write to the output is fatal.
func (l *EventLoop) writeLoop() error {
	l.logger.Debug("output loop started")
	defer l.logger.Debug("output loop exited")

	th := newThrottle(l.opts.ThrottleLimit, l.opts.ThrottleWindow)
	for l.Running() {
		if !l.opts.Registry.Wait() {
			continue
		}

		ok, backoff := th.admit()
		if backoff > 0 {
			l.logger.Debug("throttling bar output", logging.Duration("backoff", backoff))
			l.metrics.Backoffs.Inc()
		}
		if !ok {
			l.metrics.Skipped.WithLabelValues(skipThrottled).Inc()
			continue
		}

		if err := l.emit(); err != nil {
			logging.ErrorWithContext(l.logger, "bar output failed", "output_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the bar process reading stdout is still alive"))
			return err
		}
	}
	return nil
}

func (l *EventLoop) emit() error {
	if !l.opts.Registry.Ready() {
		l.metrics.Skipped.WithLabelValues(skipNotReady).Inc()
		return nil
	}

	line, err := l.opts.Aggregator.Output()
	if err != nil {
		if errors.Is(err, module.ErrRegistry) {
			l.logger.Error("bar output unavailable", logging.Error(err))
			l.metrics.Skipped.WithLabelValues(skipModuleError).Inc()
			return nil
		}
		return fmt.Errorf("compose bar output: %w", err)
	}

	// Stop may have landed while the line was being composed.
	if !l.Running() {
		return nil
	}
	if _, err := io.WriteString(l.out, line+"\n"); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	l.metrics.Emissions.Inc()
	return nil
}
