package eventloop

import (
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"time"

	"barfeed/internal/fileutil"
	"barfeed/internal/logging"
)

const watchdogInterval = 20 * time.Millisecond

// Cleanup joins both loops under a watchdog. A non-positive timeout waits
// indefinitely. When the deadline passes first, ErrCleanupTimeout is returned
// and the stuck loop is abandoned. Otherwise the loops' own fatal errors are
// returned joined.
func (l *EventLoop) Cleanup(timeout time.Duration) error {
	l.logger.Debug("cleaning up event loop", logging.Duration("timeout", timeout))

	var readJoined, writeJoined atomic.Bool
	joined := make(chan struct{})
	go func() {
		defer close(joined)
		l.join("input", l.readDone)
		readJoined.Store(true)
		l.join("output", l.writeDone)
		writeJoined.Store(true)
	}()

	watchdog := make(chan error, 1)
	go func() {
		start := time.Now()
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for range ticker.C {
			if readJoined.Load() && writeJoined.Load() {
				watchdog <- nil
				return
			}
			if timeout > 0 && time.Since(start) > timeout {
				watchdog <- fmt.Errorf("%w after %s (input joined: %t, output joined: %t)",
					ErrCleanupTimeout, timeout, readJoined.Load(), writeJoined.Load())
				return
			}
		}
	}()

	l.logger.Debug("joining watchdog")
	if err := <-watchdog; err != nil {
		logging.ErrorWithContext(l.logger, "event loop cleanup timed out", "cleanup_timeout",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "a module or shell command may be blocking shutdown"))
		return err
	}
	<-joined

	if l.readDone == nil && l.opts.PipePath != "" {
		// never started, so the input loop did not get to remove it
		if err := fileutil.RemoveIfExists(l.opts.PipePath); err != nil {
			l.logger.Warn("failed to remove command pipe", logging.Error(err))
		}
		l.wake.closeRead()
	}
	if l.wake != nil {
		l.wake.closeWrite()
	}
	l.runCancel()
	signal.Stop(l.signals)

	l.logger.Debug("event loop cleaned up")
	return errors.Join(l.readErr, l.writeErr)
}

func (l *EventLoop) join(name string, done <-chan struct{}) {
	if done == nil {
		l.logger.Debug(name + " loop not joinable")
		return
	}
	l.logger.Debug("joining " + name + " loop")
	<-done
}
