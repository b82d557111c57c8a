package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/previewhq/preview-core/exec"
	"github.com/previewhq/preview-core/logger"
)

// ErrInstall wraps dependency installation failures.
var ErrInstall = errors.New("dependency installation failed")

// Installer runs the project's package manager to install dependencies
// before launch. The package manager is chosen from the lockfile present.
type Installer struct {
	Executor exec.CommandExecutor
	Timeout  time.Duration
}

// NewInstaller creates an installer with the given exec seam and per-install
// timeout.
func NewInstaller(executor exec.CommandExecutor, timeout time.Duration) *Installer {
	return &Installer{Executor: executor, Timeout: timeout}
}

// InstallCommand returns the package manager invocation for a project root
// based on which lockfile it ships.
func InstallCommand(root string) (name string, args []string) {
	switch {
	case fileExists(filepath.Join(root, "pnpm-lock.yaml")):
		return "pnpm", []string{"install", "--frozen-lockfile"}
	case fileExists(filepath.Join(root, "yarn.lock")):
		return "yarn", []string{"install", "--frozen-lockfile"}
	case fileExists(filepath.Join(root, "package-lock.json")):
		return "npm", []string{"ci"}
	default:
		return "npm", []string{"install"}
	}
}

// Install runs the package manager in root, bounded by the configured
// timeout under the caller's context. The tail of the tool's output is
// included in the error so launch failures are diagnosable from the API
// response.
func (in *Installer) Install(ctx context.Context, root, sessionID string) error {
	name, args := InstallCommand(root)
	log := logger.WithSession(sessionID).With("component", "install")
	log.Info("installing dependencies", "command", name, "args", args)

	ctx, cancel := context.WithTimeout(ctx, in.Timeout)
	defer cancel()

	start := time.Now()
	out, err := in.Executor.CombinedOutput(ctx, root, name, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s timed out after %s", ErrInstall, name, in.Timeout)
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrInstall, name, err, tail(out, 1024))
	}

	log.Info("dependencies installed", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
