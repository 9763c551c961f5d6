// Package viewer opens recorded traces, either by linking to a hosted viewer
// or by launching a local viewer process per task.
package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
	"github.com/hochfrequenz/task-viewer/internal/traceindex"
)

// Options configures a Launcher
type Options struct {
	TraceDir string
	// Command is the viewer command line; {port}, {trace} and {host} are
	// replaced per launch
	Command []string
	// Env is appended to the current environment of launched viewers
	Env []string
	// Host is the hostname put into viewer URLs and used for readiness probes
	Host        string
	BasePort    int
	MaxAttempts int
	// ReadyTimeout bounds the readiness probe; zero means sleep SettleDelay instead
	ReadyTimeout time.Duration
	SettleDelay  time.Duration
	// StopGrace is how long StopAll waits after SIGTERM before killing
	StopGrace time.Duration
	Logger    *slog.Logger
	// PortFree overrides the bindability check
	PortFree PortChecker
}

// Handle tracks one launched viewer process
type Handle struct {
	ID        string
	TaskID    int
	Port      int
	URL       string
	StartedAt time.Time

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Alive reports whether the process has not exited yet
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Status describes a running viewer
type Status struct {
	ID            string    `json:"id"`
	TaskID        int       `json:"task_id"`
	Port          int       `json:"port"`
	URL           string    `json:"url"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// Launcher starts one viewer process per task and reuses it while it runs
type Launcher struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	handles   map[int]*Handle
	launching map[int]*sync.Mutex
	// reserved ports belong to launches that have not recorded a handle yet
	reserved map[int]struct{}
}

// NewLauncher creates a Launcher
func NewLauncher(opts Options) *Launcher {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 20
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = 5 * time.Second
	}
	if opts.PortFree == nil {
		opts.PortFree = PortFree
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		opts:      opts,
		logger:    logger,
		handles:   make(map[int]*Handle),
		launching: make(map[int]*sync.Mutex),
		reserved:  make(map[int]struct{}),
	}
}

// Launch returns the URL of a viewer for taskID, starting one if no viewer
// for the task is running.
func (l *Launcher) Launch(ctx context.Context, taskID int) (string, error) {
	lock := l.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	if h := l.running(taskID); h != nil {
		return h.URL, nil
	}

	tracePath, err := traceindex.Path(l.opts.TraceDir, taskID)
	if err != nil {
		return "", err
	}

	port, err := l.reservePort()
	if err != nil {
		return "", err
	}

	h, err := l.start(taskID, port, tracePath)
	if err != nil {
		l.releasePort(port)
		return "", err
	}

	if err := l.waitReady(ctx, h); err != nil {
		terminate(h, l.opts.StopGrace)
		l.releasePort(port)
		return "", err
	}

	l.mu.Lock()
	l.handles[taskID] = h
	delete(l.reserved, port)
	l.mu.Unlock()

	l.logger.Info("trace viewer started", "task_id", taskID, "port", port, "pid", h.cmd.Process.Pid)
	return h.URL, nil
}

// Handle returns the tracked handle for taskID if its process is alive
func (l *Launcher) Handle(taskID int) *Handle {
	return l.running(taskID)
}

// Status lists running viewers sorted by task id, forgetting exited ones
func (l *Launcher) Status() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	statuses := make([]Status, 0, len(l.handles))
	for id, h := range l.handles {
		if !h.Alive() {
			delete(l.handles, id)
			continue
		}
		statuses = append(statuses, Status{
			ID:            h.ID,
			TaskID:        h.TaskID,
			Port:          h.Port,
			URL:           h.URL,
			PID:           h.cmd.Process.Pid,
			StartedAt:     h.StartedAt,
			Uptime:        strings.TrimSpace(humanize.RelTime(h.StartedAt, now, "", "")),
			UptimeSeconds: now.Sub(h.StartedAt).Seconds(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].TaskID < statuses[j].TaskID })
	return statuses
}

// StopAll terminates every tracked viewer. Errors are returned but every
// process is attempted.
func (l *Launcher) StopAll(ctx context.Context) error {
	l.mu.Lock()
	handles := make([]*Handle, 0, len(l.handles))
	for _, h := range l.handles {
		handles = append(handles, h)
	}
	l.handles = make(map[int]*Handle)
	l.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			grace := l.opts.StopGrace
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < grace {
				grace = time.Until(deadline)
			}
			if err := terminate(h, grace); err != nil {
				return fmt.Errorf("stopping viewer for task %d: %w", h.TaskID, err)
			}
			l.logger.Info("trace viewer stopped", "task_id", h.TaskID, "port", h.Port)
			return nil
		})
	}
	return g.Wait()
}

func (l *Launcher) running(taskID int) *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.handles[taskID]
	if !ok {
		return nil
	}
	if !h.Alive() {
		delete(l.handles, taskID)
		return nil
	}
	return h
}

func (l *Launcher) taskLock(taskID int) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.launching[taskID]
	if !ok {
		lock = &sync.Mutex{}
		l.launching[taskID] = lock
	}
	return lock
}

// reservePort picks a free port and holds it until releasePort or until a
// handle owns it. Ports of our own viewers and of launches still starting
// are skipped even if nothing is bound to them yet.
func (l *Launcher) reservePort() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owned := make(map[int]struct{}, len(l.handles)+len(l.reserved))
	for port := range l.reserved {
		owned[port] = struct{}{}
	}
	for _, h := range l.handles {
		if h.Alive() {
			owned[h.Port] = struct{}{}
		}
	}

	port, err := FindFreePort(l.opts.BasePort, l.opts.MaxAttempts, func(p int) bool {
		if _, ok := owned[p]; ok {
			return false
		}
		return l.opts.PortFree(p)
	})
	if err != nil {
		return 0, err
	}
	l.reserved[port] = struct{}{}
	return port, nil
}

func (l *Launcher) releasePort(port int) {
	l.mu.Lock()
	delete(l.reserved, port)
	l.mu.Unlock()
}

// Args returns the viewer command line for a launch
func (l *Launcher) Args(port int, tracePath string) []string {
	r := strings.NewReplacer("{port}", strconv.Itoa(port), "{trace}", tracePath, "{host}", l.opts.Host)
	args := make([]string, len(l.opts.Command))
	for i, a := range l.opts.Command {
		args[i] = r.Replace(a)
	}
	return args
}

func (l *Launcher) start(taskID, port int, tracePath string) (*Handle, error) {
	if len(l.opts.Command) == 0 {
		return nil, vierr.ExternalProcess("no trace viewer command configured", nil)
	}
	args := l.Args(port, tracePath)

	// not tied to the request context: the viewer outlives the request
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if len(l.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), l.opts.Env...)
	}

	if err := cmd.Start(); err != nil {
		return nil, vierr.ExternalProcess(fmt.Sprintf("starting trace viewer for task %d", taskID), err)
	}

	h := &Handle{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Port:      port,
		URL:       fmt.Sprintf("http://%s:%d", l.opts.Host, port),
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// waitReady polls the viewer port until it accepts connections. Without a
// ready timeout it sleeps the settle delay instead.
func (l *Launcher) waitReady(ctx context.Context, h *Handle) error {
	exited := func() error {
		return vierr.ExternalProcess(fmt.Sprintf("trace viewer for task %d exited during startup", h.TaskID), h.err)
	}

	if l.opts.ReadyTimeout <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return exited()
		case <-time.After(l.opts.SettleDelay):
		}
		if !h.Alive() {
			return exited()
		}
		return nil
	}

	addr := net.JoinHostPort(l.opts.Host, strconv.Itoa(h.Port))
	deadline := time.NewTimer(l.opts.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return exited()
		case <-deadline.C:
			// still running, just slow: hand out the URL anyway
			l.logger.Warn("trace viewer not accepting connections yet", "task_id", h.TaskID, "port", h.Port, "timeout", l.opts.ReadyTimeout)
			return nil
		case <-tick.C:
		}
	}
}

func terminate(h *Handle, grace time.Duration) error {
	if !h.Alive() {
		return nil
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if !h.Alive() {
			return nil
		}
		return h.cmd.Process.Kill()
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
		if err := h.cmd.Process.Kill(); err != nil && h.Alive() {
			return err
		}
		<-h.done
		return nil
	}
}
