package eventloop

import (
	"context"
	"os"
	"time"

	"barfeed/internal/logging"
)

const readyPollInterval = 100 * time.Millisecond

// Wait blocks until SIGINT, SIGQUIT or SIGTERM is delivered and returns it.
// Signals arriving after Start are not lost. It first waits for every module
// to report ready; a termination signal during that phase returns early.
// Wait returns immediately when the loop is not running, and with ctx.Err()
// when ctx ends first.
func (l *EventLoop) Wait(ctx context.Context) (os.Signal, error) {
	if !l.Running() {
		return nil, nil
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for !l.opts.Registry.Ready() {
		select {
		case sig := <-l.signals:
			return l.received(sig), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	l.logger.Debug("all modules ready, waiting for termination signal")

	select {
	case sig := <-l.signals:
		return l.received(sig), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *EventLoop) received(sig os.Signal) os.Signal {
	l.logger.Info("termination signal received", logging.String("signal", sig.String()))
	return sig
}
