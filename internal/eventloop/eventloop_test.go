package eventloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"barfeed/internal/daemonctl"
	"barfeed/internal/fileutil"
	"barfeed/internal/logging"
	"barfeed/internal/module"
)

type fakeRegistry struct {
	modules []module.Module
	ticks   chan struct{}
	done    chan struct{}
	once    sync.Once
	ready   atomic.Bool
	loads   atomic.Int32
}

func newFakeRegistry(modules ...module.Module) *fakeRegistry {
	return &fakeRegistry{
		modules: modules,
		ticks:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (r *fakeRegistry) Load(subscribe func(string)) error {
	r.loads.Add(1)
	for _, m := range r.modules {
		if _, ok := m.(module.CommandHandler); ok {
			subscribe(m.Name())
		}
	}
	return nil
}

func (r *fakeRegistry) Unload() { r.once.Do(func() { close(r.done) }) }

func (r *fakeRegistry) Wait() bool {
	select {
	case <-r.done:
		return false
	case <-r.ticks:
		return true
	}
}

func (r *fakeRegistry) Ready() bool { return r.ready.Load() }

func (r *fakeRegistry) Find(name string) (module.Module, bool) {
	for _, m := range r.modules {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

func (r *fakeRegistry) tick() {
	select {
	case r.ticks <- struct{}{}:
	default:
	}
}

type fakeAggregator struct {
	mu     sync.Mutex
	line   string
	errs   []error
	block  chan struct{}
	called atomic.Int32
}

func (a *fakeAggregator) Load() error { return nil }

func (a *fakeAggregator) Output() (string, error) {
	a.called.Add(1)
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return "", err
	}
	return a.line, nil
}

type handlerModule struct {
	name    string
	consume func(string) bool
	mu      sync.Mutex
	seen    []string
}

func (h *handlerModule) Name() string { return h.name }
func (h *handlerModule) Start(context.Context, func()) error { return nil }
func (h *handlerModule) Stop() {}
func (h *handlerModule) Ready() bool { return true }
func (h *handlerModule) Output() (string, error) { return h.name, nil }
func (h *handlerModule) HandleCommand(line string) bool {
	h.mu.Lock()
	h.seen = append(h.seen, line)
	h.mu.Unlock()
	return h.consume != nil && h.consume(line)
}

func (h *handlerModule) lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, syscall.EPIPE }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestLoop(t *testing.T, opts Options) *EventLoop {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Output == nil {
		opts.Output = &syncBuffer{}
	}
	if opts.Terminate == nil {
		opts.Terminate = func() {}
	}
	loop, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop
}

func TestNewCreatesPipe(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "cmd.fifo")
	loop := newTestLoop(t, Options{PipePath: pipe, Registry: newFakeRegistry(), Aggregator: &fakeAggregator{}})
	if !fileutil.IsFIFO(pipe) {
		t.Fatal("expected command pipe to exist after New")
	}
	if loop.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", loop.State())
	}
	if err := loop.Cleanup(time.Second); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if fileutil.Exists(pipe) {
		t.Fatal("expected unstarted cleanup to remove the pipe")
	}
}

func TestNewReportsSetupFailure(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "missing", "cmd.fifo")
	_, err := New(Options{PipePath: pipe, Registry: newFakeRegistry(), Aggregator: &fakeAggregator{}})
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("expected ErrSetup, got %v", err)
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "cmd.fifo")
	reg := newFakeRegistry()
	loop := newTestLoop(t, Options{PipePath: pipe, Registry: reg, Aggregator: &fakeAggregator{}})

	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := loop.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := reg.loads.Load(); got != 1 {
		t.Fatalf("expected one registry load, got %d", got)
	}
	if !loop.Running() {
		t.Fatal("expected running after Start")
	}

	loop.Stop()
	loop.Stop()
	if loop.Running() {
		t.Fatal("expected stopped after Stop")
	}
	if err := loop.Cleanup(2 * time.Second); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if fileutil.Exists(pipe) {
		t.Fatal("expected pipe removed after cleanup")
	}
}

func TestWriteLoopEmitsOnTick(t *testing.T) {
	reg := newFakeRegistry()
	reg.ready.Store(true)
	out := &syncBuffer{}
	metrics := NewMetrics(prometheus.NewRegistry())
	loop := newTestLoop(t, Options{
		Registry:   reg,
		Aggregator: &fakeAggregator{line: "cpu 3% | 12:00"},
		Output:     out,
		Metrics:    metrics,
	})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reg.tick()
	waitFor(t, "bar line", func() bool { return out.String() == "cpu 3% | 12:00\n" })
	if got := testutil.ToFloat64(metrics.Emissions); got != 1 {
		t.Fatalf("expected 1 emission, got %v", got)
	}

	loop.Stop()
	if err := loop.Cleanup(time.Second); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if out.String() != "cpu 3% | 12:00\n" {
		t.Fatalf("unexpected output after stop: %q", out.String())
	}
}

func TestWriteLoopSkipsModuleErrors(t *testing.T) {
	reg := newFakeRegistry()
	reg.ready.Store(true)
	out := &syncBuffer{}
	agg := &fakeAggregator{line: "ok", errs: []error{module.ErrNotReady}}
	metrics := NewMetrics(nil)
	loop := newTestLoop(t, Options{Registry: reg, Aggregator: agg, Output: out, Metrics: metrics})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reg.tick()
	waitFor(t, "first output attempt", func() bool { return agg.called.Load() == 1 })
	reg.tick()
	waitFor(t, "bar line", func() bool { return out.String() == "ok\n" })
	if got := testutil.ToFloat64(metrics.Skipped.WithLabelValues(skipModuleError)); got != 1 {
		t.Fatalf("expected one skipped tick, got %v", got)
	}

	loop.Stop()
	if err := loop.Cleanup(time.Second); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}

func TestWriteLoopSkipsUntilReady(t *testing.T) {
	reg := newFakeRegistry()
	agg := &fakeAggregator{line: "x"}
	out := &syncBuffer{}
	loop := newTestLoop(t, Options{Registry: reg, Aggregator: agg, Output: out})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reg.tick()
	time.Sleep(50 * time.Millisecond)
	if agg.called.Load() != 0 || out.String() != "" {
		t.Fatal("expected no output before modules are ready")
	}

	loop.Stop()
	if err := loop.Cleanup(time.Second); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}

func TestWriteFailureTerminates(t *testing.T) {
	reg := newFakeRegistry()
	reg.ready.Store(true)
	terminated := make(chan struct{})
	loop := newTestLoop(t, Options{
		Registry:   reg,
		Aggregator: &fakeAggregator{line: "x"},
		Output:     failingWriter{},
		Terminate:  func() { close(terminated) },
	})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reg.tick()
	select {
	case <-terminated:
	case <-time.After(3 * time.Second):
		t.Fatal("expected terminate hook after write failure")
	}

	loop.Stop()
	err := loop.Cleanup(time.Second)
	if !errors.Is(err, ErrOutputWrite) || !errors.Is(err, syscall.EPIPE) {
		t.Fatalf("expected output write error, got %v", err)
	}
}

func TestDispatchStopsAtFirstConsumer(t *testing.T) {
	first := &handlerModule{name: "first"}
	second := &handlerModule{name: "second", consume: func(line string) bool { return line == "click" }}
	third := &handlerModule{name: "third", consume: func(string) bool { return true }}
	reg := newFakeRegistry(first, second, third)
	metrics := NewMetrics(nil)
	loop := newTestLoop(t, Options{Registry: reg, Aggregator: &fakeAggregator{}, Metrics: metrics})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		loop.Stop()
		_ = loop.Cleanup(time.Second)
	}()

	if got := strings.Join(loop.Subscribers(), ","); got != "first,second,third" {
		t.Fatalf("unexpected subscribers %q", got)
	}

	loop.dispatch("click")
	if len(first.lines()) != 1 || len(second.lines()) != 1 {
		t.Fatalf("expected first two subscribers offered the line, got %v %v", first.lines(), second.lines())
	}
	if len(third.lines()) != 0 {
		t.Fatalf("expected dispatch to stop at second, third saw %v", third.lines())
	}
	if got := testutil.ToFloat64(metrics.Commands.WithLabelValues(targetModule)); got != 1 {
		t.Fatalf("expected one module command, got %v", got)
	}
}

func TestDispatchFallsBackToShell(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	reg := newFakeRegistry(&handlerModule{name: "ignores"})
	metrics := NewMetrics(nil)
	loop := newTestLoop(t, Options{Registry: reg, Aggregator: &fakeAggregator{}, Metrics: metrics})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		loop.Stop()
		_ = loop.Cleanup(time.Second)
	}()

	loop.dispatch("echo fallback > " + marker)
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("expected shell command to run: %v", err)
	}
	if strings.TrimSpace(string(data)) != "fallback" {
		t.Fatalf("unexpected marker content %q", data)
	}
	if got := testutil.ToFloat64(metrics.Commands.WithLabelValues(targetShell)); got != 1 {
		t.Fatalf("expected one shell command, got %v", got)
	}

	loop.dispatch("exit 3")
	if got := testutil.ToFloat64(metrics.ShellFailures); got != 1 {
		t.Fatalf("expected one shell failure, got %v", got)
	}
}

func TestShellOutputGoesToDebugLog(t *testing.T) {
	logs := &syncBuffer{}
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", Writer: logs})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	loop := newTestLoop(t, Options{Registry: newFakeRegistry(), Aggregator: &fakeAggregator{}, Logger: logger})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		loop.Stop()
		_ = loop.Cleanup(time.Second)
	}()

	loop.dispatch(`printf 'alpha\nbeta\n'`)

	var streamed []string
	for _, raw := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		msg, _ := entry["msg"].(string)
		if strings.HasPrefix(msg, "| ") {
			if entry["level"] != "debug" {
				t.Fatalf("expected shell output at debug level, got %v", entry["level"])
			}
			streamed = append(streamed, msg)
		}
	}
	if got := strings.Join(streamed, ","); got != "| alpha,| beta" {
		t.Fatalf("unexpected shell output entries %q", got)
	}
}

func writeToPipe(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open pipe for writing: %v", err)
	}
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("write pipe: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close pipe: %v", err)
	}
}

func TestReadLoopDispatchesPipeLines(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "cmd.fifo")
	handler := &handlerModule{name: "sink", consume: func(string) bool { return true }}
	reg := newFakeRegistry(handler)
	loop := newTestLoop(t, Options{PipePath: pipe, Registry: reg, Aggregator: &fakeAggregator{}})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeToPipe(t, pipe, "one\ntwo\r\n")
	waitFor(t, "first session", func() bool { return len(handler.lines()) == 2 })

	writeToPipe(t, pipe, "three\n")
	waitFor(t, "second session", func() bool { return len(handler.lines()) == 3 })

	if got := strings.Join(handler.lines(), ","); got != "one,two,three" {
		t.Fatalf("unexpected dispatched lines %q", got)
	}

	loop.Stop()
	if err := loop.Cleanup(2 * time.Second); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if fileutil.Exists(pipe) {
		t.Fatal("expected pipe removed after cleanup")
	}
}

func TestReadLoopEmptyLineEndsSession(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "cmd.fifo")
	handler := &handlerModule{name: "sink", consume: func(string) bool { return true }}
	reg := newFakeRegistry(handler)
	loop := newTestLoop(t, Options{PipePath: pipe, Registry: reg, Aggregator: &fakeAggregator{}})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		loop.Stop()
		_ = loop.Cleanup(2 * time.Second)
	}()

	writeToPipe(t, pipe, "before\n\n")
	waitFor(t, "line before blank", func() bool { return len(handler.lines()) == 1 })
	writeToPipe(t, pipe, "after\n")
	waitFor(t, "line in new session", func() bool { return len(handler.lines()) == 2 })
}

func TestReadLoopAcceptsBurstOfWriters(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "cmd.fifo")
	handler := &handlerModule{name: "sink", consume: func(string) bool { return true }}
	reg := newFakeRegistry(handler)
	loop := newTestLoop(t, Options{PipePath: pipe, Registry: reg, Aggregator: &fakeAggregator{}})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		loop.Stop()
		_ = loop.Cleanup(2 * time.Second)
	}()

	waitFor(t, "input loop reading", func() bool { return daemonctl.Send(pipe, "warmup") == nil })

	const burst = 300
	for i := range burst {
		if err := daemonctl.Send(pipe, "scroll-up"); err != nil {
			t.Fatalf("send %d of %d: %v", i+1, burst, err)
		}
	}
	waitFor(t, "burst dispatched", func() bool { return len(handler.lines()) == burst+1 })
}

func TestStopWakesIdleReader(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "cmd.fifo")
	loop := newTestLoop(t, Options{PipePath: pipe, Registry: newFakeRegistry(), Aggregator: &fakeAggregator{}})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	loop.Stop()
	start := time.Now()
	if err := loop.Cleanup(2 * time.Second); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cleanup took %s", elapsed)
	}
}

func TestCleanupTimesOutOnStuckLoop(t *testing.T) {
	reg := newFakeRegistry()
	reg.ready.Store(true)
	agg := &fakeAggregator{line: "x", block: make(chan struct{})}
	loop := newTestLoop(t, Options{Registry: reg, Aggregator: agg})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { close(agg.block) })

	reg.tick()
	waitFor(t, "blocked output", func() bool { return agg.called.Load() == 1 })

	loop.Stop()
	err := loop.Cleanup(60 * time.Millisecond)
	if !errors.Is(err, ErrCleanupTimeout) {
		t.Fatalf("expected ErrCleanupTimeout, got %v", err)
	}
}

func TestWaitReturnsImmediatelyWhenStopped(t *testing.T) {
	loop := newTestLoop(t, Options{Registry: newFakeRegistry(), Aggregator: &fakeAggregator{}})
	sig, err := loop.Wait(context.Background())
	if sig != nil || err != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", sig, err)
	}
}

func TestWaitReturnsOnTerminationSignal(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			reg := newFakeRegistry()
			reg.ready.Store(true)
			loop := newTestLoop(t, Options{Registry: reg, Aggregator: &fakeAggregator{}})
			if err := loop.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}

			type result struct {
				sig os.Signal
				err error
			}
			done := make(chan result, 1)
			go func() {
				got, err := loop.Wait(context.Background())
				done <- result{got, err}
			}()

			if err := syscall.Kill(os.Getpid(), sig); err != nil {
				t.Fatalf("kill: %v", err)
			}

			select {
			case res := <-done:
				if res.err != nil || res.sig != sig {
					t.Fatalf("unexpected wait result %v, %v", res.sig, res.err)
				}
			case <-time.After(3 * time.Second):
				t.Fatalf("Wait did not return after %s", sig)
			}

			loop.Stop()
			if err := loop.Cleanup(time.Second); err != nil {
				t.Fatalf("Cleanup: %v", err)
			}
		})
	}
}

func TestSignalBeforeWaitIsDelivered(t *testing.T) {
	reg := newFakeRegistry()
	loop := newTestLoop(t, Options{Registry: reg, Aggregator: &fakeAggregator{}})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		loop.Stop()
		_ = loop.Cleanup(time.Second)
	}()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sig, err := loop.Wait(ctx)
	if err != nil || sig != syscall.SIGTERM {
		t.Fatalf("expected SIGTERM delivered before Wait, got %v, %v", sig, err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	reg := newFakeRegistry()
	loop := newTestLoop(t, Options{Registry: reg, Aggregator: &fakeAggregator{}})
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		loop.Stop()
		_ = loop.Cleanup(time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := loop.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
