// Package reaper reclaims preview sessions: expired ones on a periodic
// sweep, and any session on demand when its owner stops it. Teardown is
// claimed through the registry so that a concurrent sweep and an explicit
// stop never double-free a session's resources.
package reaper

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/previewhq/preview-core/launch"
	"github.com/previewhq/preview-core/logger"
	"github.com/previewhq/preview-core/ports"
	"github.com/previewhq/preview-core/registry"
)

// termGrace is how long a dev server gets to exit after SIGTERM before
// the process group is killed outright.
const termGrace = 3 * time.Second

// Reaper sweeps the session store on an interval, reclaiming sessions
// whose TTL has elapsed or whose dev server process has died.
type Reaper struct {
	Store     *registry.Store
	Allocator *ports.Allocator
	TTL       time.Duration
	Interval  time.Duration
}

// New creates a reaper over the given store and port allocator.
func New(store *registry.Store, alloc *ports.Allocator, ttl, interval time.Duration) *Reaper {
	return &Reaper{Store: store, Allocator: alloc, TTL: ttl, Interval: interval}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep reclaims every session that is past its TTL or whose process is no
// longer alive. Returns the number of sessions reclaimed.
func (r *Reaper) Sweep() int {
	log := logger.WithComponent("reaper")
	reclaimed := 0

	for _, sess := range r.Store.ListExpired(r.TTL) {
		if r.Stop(sess.ID) {
			log.Info("session reclaimed", "sessionID", sess.ID, "reason", "ttl expired", "age", sess.Age().Round(time.Second))
			reclaimed++
		}
	}

	// A dead dev server makes the entry stale regardless of age.
	for _, sess := range r.Store.List() {
		if pidAlive(sess.PID) {
			continue
		}
		if r.Stop(sess.ID) {
			log.Info("session reclaimed", "sessionID", sess.ID, "reason", "process dead", "age", sess.Age().Round(time.Second))
			reclaimed++
		}
	}
	return reclaimed
}

// Stop tears down one session: kill its process group, release its port,
// and remove its project directory. Returns false when the session was
// already gone, making concurrent and repeated stops safe.
func (r *Reaper) Stop(id string) bool {
	sess, ok := r.Store.Remove(id)
	if !ok {
		return false
	}
	r.teardown(sess)
	return true
}

// StopAll reclaims every live session. Used on daemon shutdown.
func (r *Reaper) StopAll() int {
	stopped := 0
	for _, sess := range r.Store.List() {
		if r.Stop(sess.ID) {
			stopped++
		}
	}
	return stopped
}

// teardown frees a session's resources. Kill failures are logged and
// swallowed: the process may already be gone, and the port and directory
// must be released regardless.
func (r *Reaper) teardown(sess *registry.PreviewSession) {
	log := logger.WithSession(sess.ID).With("component", "reaper")

	if sess.PID > 0 && pidAlive(sess.PID) {
		launch.TerminateGroup(sess.PID, termGrace)
	}

	r.Allocator.Release(sess.Port)

	if sess.OwnsDir && sess.ProjectDir != "" {
		if err := os.RemoveAll(sess.ProjectDir); err != nil {
			log.Warn("failed to remove project dir", "dir", sess.ProjectDir, "error", err)
		}
	}

	log.Debug("session resources released", "port", sess.Port, "dir", sess.ProjectDir)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}
