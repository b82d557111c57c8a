package reaper

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/previewhq/preview-core/logger"
	"github.com/previewhq/preview-core/paths"
	"github.com/previewhq/preview-core/ports"
	"github.com/previewhq/preview-core/registry"
)

func setupTestHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	logger.Reset()
	t.Cleanup(func() {
		logger.Reset()
		paths.Reset()
	})
}

// startSleeper spawns a long-lived process in its own process group, the
// same shape a launched dev server has.
func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start sleeper: %v", err)
	}
	go cmd.Wait()
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	})
	return cmd
}

func newTestReaper(t *testing.T) (*Reaper, *registry.Store, *ports.Allocator) {
	t.Helper()
	store := registry.NewStore()
	alloc := ports.NewAllocator(43000, 43099)
	return New(store, alloc, 30*time.Minute, time.Minute), store, alloc
}

func putSession(t *testing.T, store *registry.Store, alloc *ports.Allocator, id string, pid int, age time.Duration) *registry.PreviewSession {
	t.Helper()
	port, err := alloc.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	sess := &registry.PreviewSession{
		ID:         id,
		Port:       port,
		ProjectDir: dir,
		OwnsDir:    true,
		PID:        pid,
		CreatedAt:  time.Now().Add(-age),
	}
	store.Put(sess)
	return sess
}

func TestStopReleasesEverything(t *testing.T) {
	setupTestHome(t)

	r, store, alloc := newTestReaper(t)
	cmd := startSleeper(t)
	sess := putSession(t, store, alloc, "sess-1", cmd.Process.Pid, 0)

	if !r.Stop("sess-1") {
		t.Fatal("Stop returned false for a live session")
	}

	if store.Get("sess-1") != nil {
		t.Error("session still in registry after stop")
	}
	if alloc.Reserved(sess.Port) {
		t.Error("port still reserved after stop")
	}
	if _, err := os.Stat(sess.ProjectDir); !os.IsNotExist(err) {
		t.Error("project dir still exists after stop")
	}

	// The process group must be gone shortly after teardown
	deadline := time.Now().Add(5 * time.Second)
	for pidAlive(cmd.Process.Pid) {
		if time.Now().After(deadline) {
			t.Fatal("dev server process still alive after stop")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStopKeepsUnownedDir(t *testing.T) {
	setupTestHome(t)

	r, store, alloc := newTestReaper(t)
	cmd := startSleeper(t)
	sess := putSession(t, store, alloc, "sess-1", cmd.Process.Pid, 0)
	sess.OwnsDir = false

	if !r.Stop("sess-1") {
		t.Fatal("Stop returned false")
	}
	if _, err := os.Stat(sess.ProjectDir); err != nil {
		t.Errorf("unowned project dir was removed: %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	setupTestHome(t)

	r, store, alloc := newTestReaper(t)
	cmd := startSleeper(t)
	putSession(t, store, alloc, "sess-1", cmd.Process.Pid, 0)

	if !r.Stop("sess-1") {
		t.Fatal("first Stop returned false")
	}
	if r.Stop("sess-1") {
		t.Error("second Stop returned true")
	}
	if r.Stop("never-existed") {
		t.Error("Stop of unknown session returned true")
	}
}

func TestSweepReclaimsExpired(t *testing.T) {
	setupTestHome(t)

	r, store, alloc := newTestReaper(t)
	old := startSleeper(t)
	fresh := startSleeper(t)
	putSession(t, store, alloc, "old", old.Process.Pid, time.Hour)
	putSession(t, store, alloc, "fresh", fresh.Process.Pid, time.Minute)

	if n := r.Sweep(); n != 1 {
		t.Errorf("Sweep reclaimed %d sessions, want 1", n)
	}
	if store.Get("old") != nil {
		t.Error("expired session survived sweep")
	}
	if store.Get("fresh") == nil {
		t.Error("fresh session was reclaimed")
	}
}

func TestSweepReclaimsDeadProcess(t *testing.T) {
	setupTestHome(t)

	r, store, alloc := newTestReaper(t)

	// A process that has already exited: its pid is dead by the time the
	// sweep runs.
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	cmd.Wait()
	putSession(t, store, alloc, "dead", cmd.Process.Pid, time.Minute)

	if n := r.Sweep(); n != 1 {
		t.Errorf("Sweep reclaimed %d sessions, want 1", n)
	}
	if store.Get("dead") != nil {
		t.Error("dead-process session survived sweep")
	}
}

func TestSweepReclaimsExpiredAndDeadTogether(t *testing.T) {
	setupTestHome(t)

	r, store, alloc := newTestReaper(t)

	old := startSleeper(t)
	putSession(t, store, alloc, "old", old.Process.Pid, time.Hour)

	dead := exec.Command("true")
	if err := dead.Start(); err != nil {
		t.Fatal(err)
	}
	dead.Wait()
	putSession(t, store, alloc, "dead", dead.Process.Pid, time.Minute)

	fresh := startSleeper(t)
	putSession(t, store, alloc, "fresh", fresh.Process.Pid, time.Minute)

	if n := r.Sweep(); n != 2 {
		t.Errorf("Sweep reclaimed %d sessions, want 2", n)
	}
	if store.Get("fresh") == nil {
		t.Error("fresh session was reclaimed")
	}
	if store.Get("old") != nil || store.Get("dead") != nil {
		t.Error("stale session survived sweep")
	}
}

func TestStopAll(t *testing.T) {
	setupTestHome(t)

	r, store, alloc := newTestReaper(t)
	for _, id := range []string{"a", "b", "c"} {
		cmd := startSleeper(t)
		putSession(t, store, alloc, id, cmd.Process.Pid, 0)
	}

	if n := r.StopAll(); n != 3 {
		t.Errorf("StopAll stopped %d sessions, want 3", n)
	}
	if store.Len() != 0 {
		t.Errorf("registry still holds %d sessions", store.Len())
	}
	if alloc.ReservedCount() != 0 {
		t.Errorf("%d ports still reserved", alloc.ReservedCount())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	setupTestHome(t)

	r, _, _ := newTestReaper(t)
	r.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
