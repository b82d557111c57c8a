package project

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/previewhq/preview-core/exec"
	"github.com/previewhq/preview-core/logger"
	"github.com/previewhq/preview-core/paths"
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

func TestInstallCommand(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		wantName string
		wantArg  string
	}{
		{
			name:     "pnpm lockfile",
			files:    map[string]string{"pnpm-lock.yaml": "", "package.json": "{}"},
			wantName: "pnpm",
			wantArg:  "install",
		},
		{
			name:     "yarn lockfile",
			files:    map[string]string{"yarn.lock": "", "package.json": "{}"},
			wantName: "yarn",
			wantArg:  "install",
		},
		{
			name:     "npm lockfile",
			files:    map[string]string{"package-lock.json": "{}", "package.json": "{}"},
			wantName: "npm",
			wantArg:  "ci",
		},
		{
			name:     "no lockfile",
			files:    map[string]string{"package.json": "{}"},
			wantName: "npm",
			wantArg:  "install",
		},
		{
			// pnpm lockfile wins when several are present
			name:     "multiple lockfiles",
			files:    map[string]string{"pnpm-lock.yaml": "", "package-lock.json": "{}", "package.json": "{}"},
			wantName: "pnpm",
			wantArg:  "install",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files)

			name, args := InstallCommand(dir)
			if name != tt.wantName {
				t.Errorf("command = %q, want %q", name, tt.wantName)
			}
			if len(args) == 0 || args[0] != tt.wantArg {
				t.Errorf("args = %v, want first arg %q", args, tt.wantArg)
			}
		})
	}
}

func TestInstallSuccess(t *testing.T) {
	setupTestHome(t)

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"package-lock.json": "{}", "package.json": "{}"})

	mock := exec.NewMockExecutor()
	mock.AddExactMatch("npm", []string{"ci"}, exec.MockResponse{Stdout: []byte("added 10 packages")})

	in := NewInstaller(mock, time.Minute)
	if err := in.Install(context.Background(), dir, "sess-1"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 || calls[0].Name != "npm" || calls[0].Dir != dir {
		t.Errorf("unexpected calls: %+v", calls)
	}
}

func TestInstallFailureIncludesOutput(t *testing.T) {
	setupTestHome(t)

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"package.json": "{}"})

	mock := exec.NewMockExecutor()
	mock.AddPrefixMatch("npm", []string{"install"}, exec.MockResponse{
		Stderr: []byte("npm ERR! 404 no-such-package not found"),
		Err:    errors.New("exit status 1"),
	})

	in := NewInstaller(mock, time.Minute)
	err := in.Install(context.Background(), dir, "sess-1")
	if !errors.Is(err, ErrInstall) {
		t.Fatalf("expected ErrInstall, got %v", err)
	}
	if !strings.Contains(err.Error(), "no-such-package") {
		t.Errorf("error does not carry tool output: %v", err)
	}
}

func TestInstallTimeout(t *testing.T) {
	setupTestHome(t)

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"package.json": "{}"})

	// Real executor with a command that outlives the timeout
	in := NewInstaller(slowExecutor{}, 50*time.Millisecond)
	err := in.Install(context.Background(), dir, "sess-1")
	if !errors.Is(err, ErrInstall) {
		t.Fatalf("expected ErrInstall, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error does not mention timeout: %v", err)
	}
}

// slowExecutor blocks until the context expires.
type slowExecutor struct{}

func (slowExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (slowExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
