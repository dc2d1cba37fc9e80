// Package eventloop is barfeed's run-time core.
//
// An EventLoop owns two goroutines: the output loop, which waits for module
// ticks, throttles, and writes the composed bar line to stdout; and the input
// loop, which reads command lines from a named pipe and hands them to
// subscribed modules or, failing that, to the shell. The coordinating
// goroutine drives Start, Wait, Stop and Cleanup:
//
//	loop, err := eventloop.New(opts)
//	if err != nil {
//		return err
//	}
//	if err := loop.Start(); err != nil {
//		return err
//	}
//	loop.Wait(ctx)
//	loop.Stop()
//	return loop.Cleanup(timeout)
//
// Fatal loop errors are returned by Cleanup. A shutdown that exceeds its
// deadline is reported as ErrCleanupTimeout.
package eventloop
