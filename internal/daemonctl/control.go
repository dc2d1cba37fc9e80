package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"barfeed/internal/fileutil"
)

// ErrNotRunning indicates no daemon is reading the pipe or owns the pid file.
var ErrNotRunning = errors.New("daemon not running")

// Send writes line to the daemon's command pipe. It never blocks waiting for
// a reader: with no daemon on the other end it returns ErrNotRunning.
func Send(pipePath, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return fmt.Errorf("command is empty")
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("command must be a single line")
	}
	if !fileutil.IsFIFO(pipePath) {
		return fmt.Errorf("%w: no command pipe at %s", ErrNotRunning, pipePath)
	}

	fd, err := unix.Open(pipePath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("%w: nothing is reading %s", ErrNotRunning, pipePath)
		}
		return fmt.Errorf("open command pipe %q: %w", pipePath, err)
	}
	f := os.NewFile(uintptr(fd), pipePath)
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write command pipe: %w", err)
	}
	return nil
}

// ReadPID parses the daemon pid file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: no pid file at %s", ErrNotRunning, path)
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid daemon pid file %q", path)
	}
	return pid, nil
}

// ProcessAlive reports whether a process with pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// ProcessInfo returns whether the daemon recorded in pidPath is alive and its pid.
func ProcessInfo(pidPath string) (bool, int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return ProcessAlive(pid), pid, nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Stop sends SIGTERM to the daemon recorded in pidPath and waits up to
// gracePeriod for it to exit. A daemon still alive afterwards is killed and
// its pid file removed.
func Stop(pidPath string, gracePeriod time.Duration) (StopResult, error) {
	alive, pid, err := ProcessInfo(pidPath)
	if err != nil {
		return StopResult{}, err
	}
	if !alive {
		return StopResult{}, ErrNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	if WaitForShutdown(pid, gracePeriod) == nil {
		return result, nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	result.ForcedKill = true
	return result, nil
}

// WaitForShutdown waits for pid to exit.
func WaitForShutdown(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !ProcessAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !ProcessAlive(pid) {
		return nil
	}
	return fmt.Errorf("daemon process %d did not stop within %s", pid, timeout)
}
