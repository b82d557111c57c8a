package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/previewhq/preview-core/logger"
	"github.com/previewhq/preview-core/ports"
	"github.com/previewhq/preview-core/probe"
)

var (
	// ErrSpawn indicates the dev server process could not be started at all.
	ErrSpawn = errors.New("failed to spawn dev server process")

	// ErrLaunchTimeout indicates no strategy produced a responsive server
	// within the attempt budget.
	ErrLaunchTimeout = errors.New("dev server did not become healthy in time")
)

// Launcher starts a project's dev server, retrying across the framework's
// strategy list until one attempt yields a server that answers HTTP.
type Launcher struct {
	Allocator    *ports.Allocator
	Prober       *probe.Prober
	MaxAttempts  int
	HealthBudget time.Duration
	PollInterval time.Duration
}

// Result describes a successfully launched dev server. Port is the port
// the server actually listens on, which may differ from the allocated one
// when the server picked its own.
type Result struct {
	Proc     *os.Process
	PID      int
	Port     int
	Strategy string
	LogPath  string
}

// New returns a Launcher with the given tunables.
func New(alloc *ports.Allocator, pr *probe.Prober, maxAttempts int, budget, poll time.Duration) *Launcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Launcher{
		Allocator:    alloc,
		Prober:       pr,
		MaxAttempts:  maxAttempts,
		HealthBudget: budget,
		PollInterval: poll,
	}
}

// Launch tries the framework's strategies in order, cycling if attempts
// outnumber strategies, until one produces a healthy server or the attempt
// budget runs out. basePath, when non-empty, is passed to strategies that
// can serve under a URL prefix. Every failed attempt is fully torn down
// (process group killed, port released) before the next begins.
func (l *Launcher) Launch(ctx context.Context, root, framework, sessionID, basePath string) (*Result, error) {
	log := logger.WithSession(sessionID).With("component", "launch")
	strategies := StrategiesFor(framework)

	var lastLogPath string
	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		strat := strategies[(attempt-1)%len(strategies)]

		port, err := l.Allocator.Acquire()
		if err != nil {
			return nil, err
		}

		logPath, err := logger.LaunchLogPath(sessionID, attempt)
		if err != nil {
			l.Allocator.Release(port)
			return nil, err
		}
		lastLogPath = logPath
		log.Info("launch attempt",
			"attempt", attempt,
			"strategy", strat.Name,
			"port", port,
			"log", logPath)

		res, err := l.runAttempt(ctx, root, strat, port, basePath, logPath)
		if err == nil {
			if res.Port != port {
				// The server picked its own port; the allocated one
				// was never bound.
				l.Allocator.Release(port)
			}
			res.Strategy = strat.Name
			res.LogPath = logPath
			log.Info("dev server healthy", "port", res.Port, "pid", res.PID, "strategy", strat.Name)
			return res, nil
		}

		l.Allocator.Release(port)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("launch attempt failed", "attempt", attempt, "strategy", strat.Name, "error", err)
	}

	return nil, fmt.Errorf("%w after %d attempts (last log: %s)", ErrLaunchTimeout, l.MaxAttempts, lastLogPath)
}

// runAttempt spawns one dev server and waits for it to answer HTTP. On any
// failure the spawned process group is killed before returning.
func (l *Launcher) runAttempt(ctx context.Context, root string, strat Strategy, port int, basePath, logPath string) (*Result, error) {
	if !strat.SupportsBasePath() {
		basePath = ""
	}
	args, extraEnv := strat.Instantiate(port, basePath)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	defer logFile.Close()

	cmd := exec.Command(strat.Command, args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group so teardown can reach npm's grandchildren.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	effectivePort, err := l.awaitHealthy(ctx, port, logPath, exited)
	if err != nil {
		KillGroup(cmd.Process.Pid)
		<-exited
		return nil, err
	}

	return &Result{
		Proc: cmd.Process,
		PID:  cmd.Process.Pid,
		Port: effectivePort,
	}, nil
}

// awaitHealthy polls until the server answers HTTP, watching the attempt
// log for a self-announced port that differs from the allocated one. It
// returns the port the server actually answers on.
func (l *Launcher) awaitHealthy(ctx context.Context, port int, logPath string, exited <-chan struct{}) (int, error) {
	deadline := time.Now().Add(l.HealthBudget)
	effectivePort := port

	ticker := time.NewTicker(l.PollInterval)
	defer ticker.Stop()

	for {
		if data, err := os.ReadFile(logPath); err == nil {
			if announced := ParseBoundPort(data); announced != 0 {
				effectivePort = announced
			}
		}

		// A sweep over all candidate paths can cost several request
		// timeouts; the deadline must cut it short, not just the loop.
		checkCtx, cancelCheck := context.WithDeadline(ctx, deadline)
		healthy := l.Prober.Check(checkCtx, fmt.Sprintf("http://127.0.0.1:%d", effectivePort))
		cancelCheck()
		if healthy {
			return effectivePort, nil
		}

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: no response on port %d (log: %s)", ErrLaunchTimeout, effectivePort, logPath)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-exited:
			return 0, fmt.Errorf("%w: process exited before becoming healthy (log: %s)", ErrSpawn, logPath)
		case <-ticker.C:
		}
	}
}

// boundPortRe matches the listen address dev servers print on startup,
// e.g. "Local: http://localhost:5174/" or "ready on http://0.0.0.0:3001".
var boundPortRe = regexp.MustCompile(`(?i)https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):(\d{2,5})`)

// ParseBoundPort scans dev server output for the port the server announced
// it is listening on. Returns 0 when no announcement is found.
func ParseBoundPort(output []byte) int {
	m := boundPortRe.FindSubmatch(output)
	if m == nil {
		return 0
	}
	port, err := strconv.Atoi(string(m[1]))
	if err != nil || port < 1 || port > 65535 {
		return 0
	}
	return port
}

// KillGroup sends SIGKILL to the process group rooted at pid. Errors are
// ignored; the group may already be gone.
func KillGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// TerminateGroup asks the process group to exit with SIGTERM, escalating
// to SIGKILL after the grace period if it is still alive.
func TerminateGroup(pid int, grace time.Duration) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		// Signal 0 only checks existence.
		if err := syscall.Kill(-pid, 0); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
