package engine_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/taskrunner/internal/engine"
	"github.com/seantiz/taskrunner/internal/model"
	"github.com/seantiz/taskrunner/internal/resultlog"
	"github.com/seantiz/taskrunner/internal/store"
	"github.com/seantiz/taskrunner/internal/task"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
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

func (b *syncBuffer) Lines() []string {
	s := strings.TrimRight(b.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type testEngine struct {
	*engine.Engine
	out     *syncBuffer
	diag    *syncBuffer
	logPath string
}

func newTestEngine(t *testing.T, tasks []task.Task, opts ...engine.Option) *testEngine {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "results.txt")
	rl, err := resultlog.Open(logPath)
	if err != nil {
		t.Fatalf("resultlog.Open: %v", err)
	}

	out, diag := &syncBuffer{}, &syncBuffer{}
	base := []engine.Option{
		engine.WithOutput(out),
		engine.WithLogger(slog.New(slog.NewJSONHandler(diag, nil))),
		engine.WithFatalHandler(func(err error) { t.Errorf("unexpected fatal: %v", err) }),
	}
	eng, err := engine.New(task.NewRegistry(tasks...), rl, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	return &testEngine{Engine: eng, out: out, diag: diag, logPath: logPath}
}

func (te *testEngine) resultLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(te.logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// lastOutput returns the most recent line printed by the engine.
func (te *testEngine) lastOutput() string {
	lines := te.out.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func failing(msg string) task.Task {
	return task.Func(func(context.Context) (any, error) { return nil, errors.New(msg) })
}

// blocking returns a task that waits for release or cancellation.
func blocking(release <-chan struct{}, v any) task.Task {
	return task.Func(func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func TestNewTruncatesResultLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "results.txt")
	if err := os.WriteFile(logPath, []byte("stale: 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rl, err := resultlog.Open(logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	eng, err := engine.New(task.NewRegistry(), rl, engine.WithOutput(io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	if _, ok, _ := eng.Latest(); ok {
		t.Error("result log not truncated at start")
	}
	if eng.State() != model.StateRunning {
		t.Errorf("initial state = %s, want running", eng.State())
	}
}

func TestNewRejectsInvalidWorkers(t *testing.T) {
	rl, err := resultlog.Open(filepath.Join(t.TempDir(), "results.txt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rl.Close()

	if _, err := engine.New(task.NewRegistry(), rl, engine.WithWorkers(0)); err == nil {
		t.Fatal("New with zero workers succeeded")
	}
}

func TestGetOnEmptyLog(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Execute(context.Background(), "get")

	if got := te.lastOutput(); got != "No results available." {
		t.Errorf("output = %q, want %q", got, "No results available.")
	}
}

func TestTaskThenGraceThenGet(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value(42), failing("boom")})
	ctx := context.Background()

	te.Execute(ctx, "task a 0")
	te.Execute(ctx, "finish grace")
	te.Execute(ctx, "get")

	if got := te.lastOutput(); got != "42 [a]" {
		t.Fatalf("output = %q, want %q", got, "42 [a]")
	}
	if lines := te.resultLines(t); len(lines) != 1 || lines[0] != "a: 42" {
		t.Errorf("result file = %q, want [a: 42]", lines)
	}

	te.Execute(ctx, "task b 1")
	te.Execute(ctx, "finish grace")
	te.Execute(ctx, "get")

	if got := te.lastOutput(); got != "42 [a]" {
		t.Errorf("output after failing task = %q, want %q", got, "42 [a]")
	}
}

func TestFailingTaskWritesDiagnosticOnly(t *testing.T) {
	te := newTestEngine(t, []task.Task{failing("kaboom")})
	ctx := context.Background()

	te.Execute(ctx, "task b 0")
	te.Execute(ctx, "finish grace")
	te.Execute(ctx, "get")

	if got := te.lastOutput(); got != "No results available." {
		t.Errorf("output = %q, want no results", got)
	}
	if len(te.resultLines(t)) != 0 {
		t.Error("failing task appended a record")
	}
	if !strings.Contains(te.diag.String(), "kaboom") {
		t.Errorf("diagnostic stream missing task error: %s", te.diag.String())
	}
	if strings.Contains(te.out.String(), "kaboom") {
		t.Error("task error leaked to standard output")
	}
}

func TestOutOfRangeTaskIsSilentlyDropped(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value(1)})
	ctx := context.Background()

	te.Execute(ctx, "task x 99")
	te.Execute(ctx, "get")

	if lines := te.out.Lines(); len(lines) != 1 || lines[0] != "No results available." {
		t.Errorf("output = %q, want only the empty-log message", lines)
	}
	if te.HasOutstandingWork() {
		t.Error("dropped command left outstanding work")
	}
}

func TestMalformedTaskCommandsAreSilent(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value(1)})
	ctx := context.Background()

	for _, cmd := range []string{
		"task",
		"task a",
		"task a b",
		"task a 0 extra",
		"task  a 0",
		"task a -1",
		"tasks a 0",
	} {
		te.Execute(ctx, cmd)
	}
	te.Execute(ctx, "finish grace")

	if lines := te.out.Lines(); len(lines) != 1 || lines[0] != "Shutting down gracefully..." {
		t.Errorf("output = %q, want only the shutdown line", lines)
	}
	if len(te.resultLines(t)) != 0 {
		t.Error("malformed command produced a result")
	}
}

func TestCleanThenGet(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value("v")})
	ctx := context.Background()

	te.Execute(ctx, "task a 0")
	if err := te.WaitToFinish(ctx); err != nil {
		t.Fatalf("WaitToFinish: %v", err)
	}
	te.Execute(ctx, "clean")
	te.Execute(ctx, "get")

	lines := te.out.Lines()
	want := []string{"Results file cleaned.", "No results available."}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Errorf("output = %q, want %q", lines, want)
	}
}

func TestUnknownCommand(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Execute(context.Background(), "dance")
	te.Execute(context.Background(), "finish")

	lines := te.out.Lines()
	if len(lines) != 2 || lines[0] != "Unknown command: dance" || lines[1] != "Unknown command: finish" {
		t.Errorf("output = %q", lines)
	}
}

func TestHelp(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Execute(context.Background(), "help")

	out := te.out.String()
	for _, want := range []string{"task <name> <index>", "get", "finish grace", "finish force", "clean"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestFinishGraceBlocksUntilIdle(t *testing.T) {
	release := make(chan struct{})
	te := newTestEngine(t, []task.Task{blocking(release, "late")})
	ctx := context.Background()

	te.Execute(ctx, "task slow 0")

	returned := make(chan struct{})
	go func() {
		te.Execute(ctx, "finish grace")
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("finish grace returned while work was outstanding")
	case <-time.After(100 * time.Millisecond):
	}
	if te.State() != model.StateDraining {
		t.Errorf("state while draining = %s, want draining", te.State())
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("finish grace did not return after work completed")
	}

	if te.HasOutstandingWork() {
		t.Error("outstanding work after finish grace returned")
	}
	if te.State() != model.StateStopped {
		t.Errorf("state = %s, want stopped", te.State())
	}
	if lines := te.resultLines(t); len(lines) != 1 || lines[0] != "slow: late" {
		t.Errorf("result file = %q, want [slow: late]", lines)
	}
}

func TestDrainingRejectsNewSubmissions(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	counting := task.Func(func(context.Context) (any, error) {
		calls.Add(1)
		return "x", nil
	})
	te := newTestEngine(t, []task.Task{blocking(release, "first"), counting})
	ctx := context.Background()

	te.Execute(ctx, "task a 0")
	done := make(chan struct{})
	go func() {
		te.Execute(ctx, "finish grace")
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for te.State() != model.StateDraining && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	te.Execute(ctx, "task b 1")
	close(release)
	<-done

	te.Execute(ctx, "task c 1")
	if err := te.WaitToFinish(ctx); err != nil {
		t.Fatalf("WaitToFinish: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("task submitted after finish grace ran %d times", calls.Load())
	}
}

func TestFinishForceReturnsWithoutWaiting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stubborn := task.Func(func(context.Context) (any, error) {
		<-release
		return "ignored", nil
	})
	te := newTestEngine(t, []task.Task{stubborn, task.Value("after")})
	ctx := context.Background()

	te.Execute(ctx, "task s 0")

	returned := make(chan struct{})
	go func() {
		te.Execute(ctx, "finish force")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("finish force blocked on an uncooperative task")
	}

	if te.State() != model.StateForceStopped {
		t.Errorf("state = %s, want force_stopped", te.State())
	}
	if te.HasOutstandingWork() {
		t.Error("outstanding work after finish force")
	}

	te.Execute(ctx, "task a 1")
	if te.HasOutstandingWork() {
		t.Error("submission accepted after finish force")
	}
	if err := te.WaitToFinish(ctx); err != nil {
		t.Errorf("WaitToFinish after force: %v", err)
	}
}

func TestFinishForceCancelsCooperativeTasks(t *testing.T) {
	never := make(chan struct{})
	te := newTestEngine(t, []task.Task{blocking(never, "never")}, engine.WithWorkers(1))
	ctx := context.Background()

	te.Execute(ctx, "task a 0")
	te.Execute(ctx, "task b 0")
	te.Execute(ctx, "finish force")
	te.Execute(ctx, "get")

	if got := te.lastOutput(); got != "No results available." {
		t.Errorf("output = %q, want no results", got)
	}
}

func TestEmptyLineStops(t *testing.T) {
	te := newTestEngine(t, nil)

	te.Execute(context.Background(), "")

	if te.State() != model.StateStopped {
		t.Errorf("state = %s, want stopped", te.State())
	}
	if len(te.out.Lines()) != 0 {
		t.Errorf("empty line printed output: %q", te.out.Lines())
	}
}

func TestRunProcessesCommandsUntilGrace(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value(42)})

	input := strings.NewReader("help\ntask a 0\nfinish grace\nget\n")
	if err := te.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if te.State() != model.StateStopped {
		t.Errorf("state = %s, want stopped", te.State())
	}
	// The loop ends after finish grace, so the trailing get is never read.
	if strings.Contains(te.out.String(), "[a]") {
		t.Error("command after finish grace was executed")
	}
	if lines := te.resultLines(t); len(lines) != 1 || lines[0] != "a: 42" {
		t.Errorf("result file = %q, want [a: 42]", lines)
	}
}

func TestRunTreatsEOFAsQuit(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value(7)})

	if err := te.Run(context.Background(), strings.NewReader("task x 0\r\n")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if te.State() != model.StateStopped {
		t.Errorf("state = %s, want stopped", te.State())
	}

	if err := te.WaitToFinish(context.Background()); err != nil {
		t.Fatalf("WaitToFinish: %v", err)
	}
	te.Execute(context.Background(), "get")
	if got := te.lastOutput(); got != "7 [x]" {
		t.Errorf("output = %q, want %q", got, "7 [x]")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	te := newTestEngine(t, nil)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- te.Run(ctx, pr) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentTasksEachAppendOneLine(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value(strings.Repeat("y", 256))})
	ctx := context.Background()

	const n = 60
	for i := 0; i < n; i++ {
		te.Execute(ctx, "task n"+strings.Repeat("0", i%3)+" 0")
	}
	te.Execute(ctx, "finish grace")

	lines := te.resultLines(t)
	if len(lines) != n {
		t.Fatalf("got %d result lines, want %d", len(lines), n)
	}
	for _, l := range lines {
		rec := model.ParseResultRecord(l)
		if rec.Result != strings.Repeat("y", 256) || !strings.HasPrefix(rec.Name, "n") {
			t.Fatalf("corrupted line %q", l)
		}
	}
}

func TestCustomParser(t *testing.T) {
	strict := func(line string, n int) (model.Submission, error) {
		sub, err := engine.ParseSubmission(line, n)
		if err == nil {
			sub.Name = strings.ToUpper(sub.Name)
		}
		return sub, err
	}
	te := newTestEngine(t, []task.Task{task.Value(1)}, engine.WithParser(strict))
	ctx := context.Background()

	te.Execute(ctx, "task low 0")
	te.Execute(ctx, "finish grace")
	te.Execute(ctx, "get")

	if got := te.lastOutput(); got != "1 [LOW]" {
		t.Errorf("output = %q, want %q", got, "1 [LOW]")
	}
}

func TestResultLogFailureIsFatal(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "results.txt")
	rl, err := resultlog.Open(logPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var fatal atomic.Value
	eng, err := engine.New(task.NewRegistry(), rl,
		engine.WithOutput(io.Discard),
		engine.WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		engine.WithFatalHandler(func(err error) { fatal.Store(err) }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	rl.Close()
	eng.Execute(context.Background(), "clean")

	if err, _ := fatal.Load().(error); !errors.Is(err, resultlog.ErrClosed) {
		t.Errorf("fatal handler got %v, want ErrClosed", fatal.Load())
	}
}

func TestBrokerReceivesResults(t *testing.T) {
	te := newTestEngine(t, []task.Task{task.Value("hi")})
	ch, unsub := te.Broker().Subscribe()
	defer unsub()

	te.Execute(context.Background(), "task greet 0")

	select {
	case rec := <-ch:
		if rec.Name != "greet" || rec.Result != "hi" {
			t.Errorf("record = %+v, want greet/hi", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no record published")
	}
}

func TestHistoryRecordsJobOutcomes(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	te := newTestEngine(t, []task.Task{task.Value(42), failing("bad")}, engine.WithStore(s, "sess"))
	ctx := context.Background()

	te.Execute(ctx, "task ok 0")
	te.Execute(ctx, "task bad 1")
	te.Execute(ctx, "finish grace")

	jobs, total, err := s.ListJobs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}

	byName := make(map[string]*model.JobRecord)
	for _, j := range jobs {
		byName[j.Name] = j
		if j.SessionID != "sess" {
			t.Errorf("job %s session = %q, want sess", j.Name, j.SessionID)
		}
	}
	if ok := byName["ok"]; ok == nil || ok.Status != model.StatusCompleted || ok.Result != "42" {
		t.Errorf("ok job = %+v, want completed/42", ok)
	}
	if bad := byName["bad"]; bad == nil || bad.Status != model.StatusFailed || !strings.Contains(bad.Error, "bad") {
		t.Errorf("bad job = %+v, want failed with error", bad)
	}
}
