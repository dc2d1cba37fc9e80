package command_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"barfeed/internal/command"
)

func TestShellRunStreamsLines(t *testing.T) {
	var lines []string
	cmd := command.Shell("printf 'one\\ntwo\\n'")
	if err := cmd.Run(context.Background(), func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestShellUsesEnvPrefix(t *testing.T) {
	args := command.Shell("echo hi").Args()
	want := []string{"/usr/bin/env", "sh", "-c", "echo hi"}
	if strings.Join(args, "\x00") != strings.Join(want, "\x00") {
		t.Fatalf("unexpected argv %q", args)
	}
}

func TestOutputTrimsFinalNewline(t *testing.T) {
	out, err := command.Shell("echo hello").Output(context.Background())
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected hello, got %q", out)
	}
}

func TestWaitReportsExitStatus(t *testing.T) {
	err := command.Shell("echo nope >&2; exit 3").Run(context.Background(), nil)
	var cmdErr *command.Error
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *command.Error, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Error(), "nope") {
		t.Fatalf("expected stderr in message, got %q", cmdErr.Error())
	}
}

func TestExecFailsForMissingBinary(t *testing.T) {
	err := command.New("/nonexistent/barfeed-test-binary").Exec(context.Background())
	var cmdErr *command.Error
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *command.Error, got %v", err)
	}
	if cmdErr.ExitCode != -1 {
		t.Fatalf("expected exit code -1 for start failure, got %d", cmdErr.ExitCode)
	}
}

func TestTailBeforeExec(t *testing.T) {
	if err := command.New("true").Tail(nil); !errors.Is(err, command.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := command.New("true").Wait(); !errors.Is(err, command.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestExecTwiceFails(t *testing.T) {
	cmd := command.Shell("true")
	if err := cmd.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Wait() })
	if err := cmd.Exec(context.Background()); !errors.Is(err, command.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestContextCancelTerminatesProcessGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := command.Shell("sleep 30")
	if err := cmd.Exec(ctx); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if cmd.Pid() == 0 {
		t.Fatal("expected pid after Exec")
	}

	done := make(chan error, 1)
	go func() {
		_ = cmd.Tail(nil)
		done <- cmd.Wait()
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from cancelled command")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled command did not exit")
	}
}

func TestTerminateStopsTail(t *testing.T) {
	cmd := command.Shell("while true; do echo tick; sleep 0.05; done")
	if err := cmd.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	seen := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cmd.Tail(func(string) {
			select {
			case seen <- struct{}{}:
			default:
			}
		})
		_ = cmd.Wait()
	}()

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("no output from tailing command")
	}
	if err := cmd.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminated command did not exit")
	}
}
