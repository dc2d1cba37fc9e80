// Package command runs external processes for modules and the command pipe.
//
// A Command is started with Exec, its stdout consumed line by line with Tail,
// and reaped with Wait. Every process gets its own process group so Terminate
// also reaches anything the shell spawned.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ShellPrefix is prepended to shell command lines.
var ShellPrefix = []string{"/usr/bin/env", "sh", "-c"}

const (
	maxLineBytes  = 1 << 20
	maxStderrKeep = 4 << 10
	waitDelay     = 2 * time.Second
)

var (
	// ErrNotStarted is returned when Tail or Wait run before Exec.
	ErrNotStarted = errors.New("command not started")
	// ErrAlreadyStarted is returned by a second Exec.
	ErrAlreadyStarted = errors.New("command already started")
)

// Error describes a failed command.
type Error struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command %q", strings.Join(e.Argv, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" exited with status %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += " (" + stderr + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Command is a single external process invocation.
type Command struct {
	argv   []string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer
}

// New prepares argv for execution. Nothing runs until Exec.
func New(argv ...string) *Command {
	cp := make([]string, len(argv))
	copy(cp, argv)
	return &Command{argv: cp}
}

// Shell prepares line for execution through sh -c.
func Shell(line string) *Command {
	argv := append(append([]string{}, ShellPrefix...), line)
	return New(argv...)
}

// Args returns the argument vector.
func (c *Command) Args() []string {
	cp := make([]string, len(c.argv))
	copy(cp, c.argv)
	return cp
}

// Pid returns the process id, or 0 before Exec.
func (c *Command) Pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Exec starts the process with stdout piped. Cancelling ctx terminates the
// whole process group.
func (c *Command) Exec(ctx context.Context) error {
	if c.cmd != nil {
		return ErrAlreadyStarted
	}
	if len(c.argv) == 0 {
		return &Error{ExitCode: -1, Err: errors.New("empty argument vector")}
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd, unix.SIGTERM)
	}
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Argv: c.Args(), ExitCode: -1, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	c.stderr = &limitedBuffer{limit: maxStderrKeep}
	cmd.Stderr = c.stderr

	if err := cmd.Start(); err != nil {
		return &Error{Argv: c.Args(), ExitCode: -1, Err: fmt.Errorf("start: %w", err)}
	}
	c.cmd = cmd
	c.stdout = stdout
	return nil
}

// Tail calls fn for each stdout line until the process closes its stdout.
func (c *Command) Tail(fn func(string)) error {
	if c.cmd == nil {
		return ErrNotStarted
	}
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
		return &Error{Argv: c.Args(), ExitCode: -1, Err: fmt.Errorf("read output: %w", err)}
	}
	return nil
}

// Wait reaps the process. A non-zero exit is reported as *Error.
func (c *Command) Wait() error {
	if c.cmd == nil {
		return ErrNotStarted
	}
	err := c.cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Error{Argv: c.Args(), ExitCode: exitErr.ExitCode(), Stderr: c.stderr.String()}
	}
	return &Error{Argv: c.Args(), ExitCode: -1, Stderr: c.stderr.String(), Err: err}
}

// Terminate sends SIGTERM to the process group.
func (c *Command) Terminate() error {
	if c.cmd == nil {
		return ErrNotStarted
	}
	return signalGroup(c.cmd, unix.SIGTERM)
}

// Run executes the command, streams stdout to fn, and waits for completion.
func (c *Command) Run(ctx context.Context, fn func(string)) error {
	if err := c.Exec(ctx); err != nil {
		return err
	}
	tailErr := c.Tail(fn)
	if err := c.Wait(); err != nil {
		return err
	}
	return tailErr
}

// Output runs the command and returns its stdout without the final newline.
func (c *Command) Output(ctx context.Context) (string, error) {
	var lines []string
	err := c.Run(ctx, func(line string) {
		lines = append(lines, line)
	})
	return strings.Join(lines, "\n"), err
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b == nil {
		return ""
	}
	return b.buf.String()
}
