package viewer

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
)

// TestHelperProcess is not a real test: the launcher tests start the test
// binary itself as a fake trace viewer that listens on the given port.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("TASK_VIEWER_HELPER") != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	if os.Getenv("TASK_VIEWER_HELPER_MODE") == "exit" {
		os.Exit(3)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:"+args[0])
	if err != nil {
		os.Exit(2)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			os.Exit(0)
		}
		conn.Close()
	}
}

func freeBasePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func newTestLauncher(t *testing.T, mode string) (*Launcher, string) {
	t.Helper()
	traceDir := t.TempDir()

	env := []string{"TASK_VIEWER_HELPER=1"}
	if mode != "" {
		env = append(env, "TASK_VIEWER_HELPER_MODE="+mode)
	}

	l := NewLauncher(Options{
		TraceDir:     traceDir,
		Command:      []string{os.Args[0], "-test.run=TestHelperProcess", "--", "{port}", "{trace}"},
		Env:          env,
		Host:         "127.0.0.1",
		BasePort:     freeBasePort(t),
		MaxAttempts:  20,
		ReadyTimeout: 10 * time.Second,
		StopGrace:    2 * time.Second,
	})
	t.Cleanup(func() { l.StopAll(context.Background()) })
	return l, traceDir
}

func addTrace(t *testing.T, dir string, taskID int) {
	t.Helper()
	path := filepath.Join(dir, strconv.Itoa(taskID)+".trace.zip")
	if err := os.WriteFile(path, []byte("PK"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLaunch_ReusesRunningViewer(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	addTrace(t, dir, 7)

	first, err := l.Launch(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	h := l.Handle(7)
	if h == nil {
		t.Fatal("no handle tracked after launch")
	}

	second, err := l.Launch(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("second Launch URL = %q, want %q", second, first)
	}
	if l.Handle(7).ID != h.ID {
		t.Error("second Launch started a new viewer")
	}
	if got := len(l.Status()); got != 1 {
		t.Errorf("Status() has %d viewers, want 1", got)
	}
}

func TestLaunch_URLPointsAtListeningViewer(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	addTrace(t, dir, 3)

	url, err := l.Launch(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	h := l.Handle(3)
	if url != "http://127.0.0.1:"+strconv.Itoa(h.Port) {
		t.Errorf("URL = %q, port %d", url, h.Port)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(h.Port)), time.Second)
	if err != nil {
		t.Fatalf("viewer not accepting connections: %v", err)
	}
	conn.Close()
}

func TestLaunch_MissingTrace(t *testing.T) {
	l, _ := newTestLauncher(t, "")

	_, err := l.Launch(context.Background(), 99)
	if !errors.Is(err, vierr.ErrNotFound) {
		t.Errorf("Launch() error = %v, want NotFound", err)
	}
	if l.Handle(99) != nil || len(l.Status()) != 0 {
		t.Error("failed launch must not leave a tracked handle")
	}
}

func TestLaunch_ViewerExitsDuringStartup(t *testing.T) {
	l, dir := newTestLauncher(t, "exit")
	addTrace(t, dir, 4)

	_, err := l.Launch(context.Background(), 4)
	if !errors.Is(err, vierr.ErrExternalProcess) {
		t.Errorf("Launch() error = %v, want ExternalProcessError", err)
	}
	if l.Handle(4) != nil {
		t.Error("exited viewer must not be tracked")
	}
}

func TestLaunch_CommandNotFound(t *testing.T) {
	dir := t.TempDir()
	addTrace(t, dir, 1)
	l := NewLauncher(Options{
		TraceDir: dir,
		Command:  []string{filepath.Join(dir, "no-such-viewer"), "{trace}"},
		BasePort: freeBasePort(t),
	})

	_, err := l.Launch(context.Background(), 1)
	if !errors.Is(err, vierr.ErrExternalProcess) {
		t.Errorf("Launch() error = %v, want ExternalProcessError", err)
	}
}

func TestLaunch_NoFreePort(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	l.opts.PortFree = func(int) bool { return false }
	addTrace(t, dir, 5)

	_, err := l.Launch(context.Background(), 5)
	if !errors.Is(err, vierr.ErrResourceExhausted) {
		t.Errorf("Launch() error = %v, want ResourceExhausted", err)
	}
	if l.Handle(5) != nil {
		t.Error("failed launch must not leave a tracked handle")
	}
}

func TestLaunch_RelaunchAfterExit(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	addTrace(t, dir, 8)

	if _, err := l.Launch(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	old := l.Handle(8)

	if err := terminate(old, time.Second); err != nil {
		t.Fatal(err)
	}
	if len(l.Status()) != 0 {
		t.Error("Status() should prune the exited viewer")
	}

	if _, err := l.Launch(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	if h := l.Handle(8); h == nil || h.ID == old.ID {
		t.Error("Launch after exit should start a new viewer")
	}
}

func TestLaunch_SecondTaskGetsNextPort(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	addTrace(t, dir, 1)
	addTrace(t, dir, 2)

	if _, err := l.Launch(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Launch(context.Background(), 2); err != nil {
		t.Fatal(err)
	}

	statuses := l.Status()
	if len(statuses) != 2 {
		t.Fatalf("Status() = %+v, want 2 viewers", statuses)
	}
	if statuses[0].TaskID != 1 || statuses[1].TaskID != 2 {
		t.Errorf("Status() not sorted by task id: %+v", statuses)
	}
	if statuses[0].Port == statuses[1].Port {
		t.Error("viewers share a port")
	}
}

func TestLaunch_ConcurrentTasksGetDistinctPorts(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	ids := []int{1, 2, 3}
	for _, id := range ids {
		addTrace(t, dir, id)
	}

	var wg sync.WaitGroup
	urls := make([]string, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			urls[i], errs[i] = l.Launch(context.Background(), id)
		}(i, id)
	}
	wg.Wait()

	seen := make(map[string]int)
	for i, id := range ids {
		if errs[i] != nil {
			t.Fatalf("Launch(%d) error = %v", id, errs[i])
		}
		if other, ok := seen[urls[i]]; ok {
			t.Errorf("tasks %d and %d share viewer URL %s", other, id, urls[i])
		}
		seen[urls[i]] = id
		if h := l.Handle(id); h == nil || h.URL != urls[i] {
			t.Errorf("Launch(%d) returned %q, handle %+v", id, urls[i], h)
		}
	}
	if len(l.reserved) != 0 {
		t.Errorf("reserved ports left after launches: %v", l.reserved)
	}
}

func TestLaunch_FailureReleasesPort(t *testing.T) {
	l, dir := newTestLauncher(t, "exit")
	addTrace(t, dir, 4)

	if _, err := l.Launch(context.Background(), 4); err == nil {
		t.Fatal("expected launch to fail")
	}
	if len(l.reserved) != 0 {
		t.Errorf("reserved ports left after failed launch: %v", l.reserved)
	}
}

func TestLaunch_SettleDelayMode(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	l.opts.ReadyTimeout = 0
	l.opts.SettleDelay = 200 * time.Millisecond
	addTrace(t, dir, 6)

	if _, err := l.Launch(context.Background(), 6); err != nil {
		t.Fatal(err)
	}
	if l.Handle(6) == nil {
		t.Error("viewer not tracked")
	}
}

func TestStopAll(t *testing.T) {
	l, dir := newTestLauncher(t, "")
	addTrace(t, dir, 1)

	if _, err := l.Launch(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	h := l.Handle(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.StopAll(ctx); err != nil {
		t.Fatal(err)
	}

	if h.Alive() {
		t.Error("viewer still running after StopAll")
	}
	if len(l.Status()) != 0 {
		t.Error("Status() not empty after StopAll")
	}
}

func TestArgs(t *testing.T) {
	l := NewLauncher(Options{
		Command: []string{"playwright", "show-trace", "--host", "{host}", "--port", "{port}", "{trace}"},
		Host:    "0.0.0.0",
	})

	got := l.Args(9322, "/t/7.trace.zip")
	want := []string{"playwright", "show-trace", "--host", "0.0.0.0", "--port", "9322", "/t/7.trace.zip"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
