// Package preview orchestrates the full lifecycle of a live preview:
// extract the uploaded archive, resolve the project root, detect the
// framework, install dependencies, launch the dev server, and register
// the session for proxying. Any failure along the way tears down
// everything already built.
package preview

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/previewhq/preview-core/archive"
	"github.com/previewhq/preview-core/config"
	"github.com/previewhq/preview-core/exec"
	"github.com/previewhq/preview-core/launch"
	"github.com/previewhq/preview-core/logger"
	"github.com/previewhq/preview-core/paths"
	"github.com/previewhq/preview-core/ports"
	"github.com/previewhq/preview-core/probe"
	"github.com/previewhq/preview-core/project"
	"github.com/previewhq/preview-core/proxy"
	"github.com/previewhq/preview-core/reaper"
	"github.com/previewhq/preview-core/registry"
)

// Service wires the preview subsystem together and owns the start/stop
// operations exposed over the API.
type Service struct {
	Config    *config.Config
	Store     *registry.Store
	Allocator *ports.Allocator
	Launcher  *launch.Launcher
	Installer *project.Installer
	Reaper    *reaper.Reaper
}

// NewService builds a fully wired Service from config. The exec seam is
// injectable so tests can run without npm on the machine.
func NewService(cfg *config.Config, executor exec.CommandExecutor) *Service {
	store := registry.NewStore()
	alloc := ports.NewAllocator(cfg.PortRangeStart, cfg.PortRangeEnd)
	pr := probe.New(cfg.ProbeRequestTimeout.Duration)

	return &Service{
		Config:    cfg,
		Store:     store,
		Allocator: alloc,
		Launcher:  launch.New(alloc, pr, cfg.MaxLaunchAttempts, cfg.HealthBudget.Duration, cfg.HealthPollInterval.Duration),
		Installer: project.NewInstaller(executor, cfg.InstallTimeout.Duration),
		Reaper:    reaper.New(store, alloc, cfg.SessionTTL.Duration, cfg.SweepInterval.Duration),
	}
}

// StartResult is what a successful start returns to the API layer.
type StartResult struct {
	Session    *registry.PreviewSession
	PreviewURL string
	DirectURL  string
}

// Request names the project source for one start: either an archive on
// disk (extracted into a session-private workspace) or an existing
// project directory (previewed in place, never deleted).
type Request struct {
	ArchivePath string
	ProjectDir  string
}

// Start builds a live preview. The whole operation runs under the
// configured request timeout; cancellation or failure at any step
// releases everything acquired so far. For archive starts the caller owns
// the upload temp file, the service owns the extracted workspace.
func (s *Service) Start(ctx context.Context, req Request) (*StartResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Config.RequestTimeout.Duration)
	defer cancel()

	id := uuid.NewString()
	log := logger.WithSession(id).With("component", "preview")
	start := time.Now()

	var workDir string
	ownsDir := req.ProjectDir == ""
	if ownsDir {
		var err error
		workDir, err = s.newWorkspace(id)
		if err != nil {
			return nil, err
		}
	}
	// cleanup on any failure below
	fail := func(err error) (*StartResult, error) {
		if ownsDir {
			os.RemoveAll(workDir)
		}
		return nil, err
	}

	searchDir := req.ProjectDir
	if ownsDir {
		if err := archive.ExtractZip(req.ArchivePath, workDir); err != nil {
			return fail(err)
		}
		searchDir = workDir
	}

	root, err := project.ResolveRoot(searchDir)
	if err != nil {
		return fail(err)
	}

	framework := project.DetectFramework(root)
	log.Info("project resolved", "root", root, "framework", framework)

	if err := s.Installer.Install(ctx, root, id); err != nil {
		return fail(err)
	}

	basePath := proxy.Prefix + id
	res, err := s.Launcher.Launch(ctx, root, framework, id, basePath)
	if err != nil {
		return fail(err)
	}

	projectDir := workDir
	if !ownsDir {
		projectDir = root
	}
	sess := &registry.PreviewSession{
		ID:         id,
		Port:       res.Port,
		ProjectDir: projectDir,
		OwnsDir:    ownsDir,
		Proc:       res.Proc,
		PID:        res.PID,
		Framework:  framework,
		Strategy:   res.Strategy,
		LogPath:    res.LogPath,
		CreatedAt:  time.Now(),
	}
	s.Store.Put(sess)

	log.Info("preview started",
		"port", sess.Port,
		"framework", framework,
		"strategy", res.Strategy,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return &StartResult{
		Session:    sess,
		PreviewURL: s.Config.BaseURL() + basePath + "/",
		DirectURL:  fmt.Sprintf("http://127.0.0.1:%d/", sess.Port),
	}, nil
}

// Stop tears down a session. Returns false when the session was already
// gone; stopping twice is not an error.
func (s *Service) Stop(id string) bool {
	return s.Reaper.Stop(id)
}

// Health reports whether a session's dev server currently answers HTTP.
func (s *Service) Health(ctx context.Context, id string) (sess *registry.PreviewSession, healthy bool, err error) {
	sess = s.Store.Get(id)
	if sess == nil {
		return nil, false, fmt.Errorf("%w: %s", proxy.ErrProxyTargetMissing, id)
	}

	pr := probe.New(s.Config.ProbeRequestTimeout.Duration)
	healthy = pr.Check(ctx, fmt.Sprintf("http://127.0.0.1:%d", sess.Port))
	return sess, healthy, nil
}

// newWorkspace creates the session's exclusive extraction directory.
func (s *Service) newWorkspace(id string) (string, error) {
	base, err := paths.WorkspacesDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
