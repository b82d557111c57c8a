package archive

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeZip builds a zip file from name → content pairs. A name ending in
// "/" becomes a directory entry.
func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		if name[len(name)-1] == '/' {
			if _, err := zw.Create(name); err != nil {
				t.Fatal(err)
			}
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractZip(t *testing.T) {
	src := writeZip(t, map[string]string{
		"package.json":  `{"name":"demo"}`,
		"src/":          "",
		"src/main.js":   "console.log('hi')",
		"src/app/ui.js": "export {}",
	})
	dest := t.TempDir()

	if err := ExtractZip(src, dest); err != nil {
		t.Fatalf("ExtractZip failed: %v", err)
	}

	for _, rel := range []string{"package.json", "src/main.js", "src/app/ui.js"} {
		if _, err := os.Stat(filepath.Join(dest, rel)); err != nil {
			t.Errorf("expected %s to exist: %v", rel, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dest, "package.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"name":"demo"}` {
		t.Errorf("package.json content = %q", data)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	src := writeZip(t, map[string]string{
		"package.json":     `{}`,
		"../../../evil.sh": "rm -rf /",
	})
	parent := t.TempDir()
	dest := filepath.Join(parent, "workspace")
	if err := os.MkdirAll(dest, 0755); err != nil {
		t.Fatal(err)
	}

	err := ExtractZip(src, dest)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}

	// Nothing may have been written outside dest
	if _, statErr := os.Stat(filepath.Join(parent, "evil.sh")); !os.IsNotExist(statErr) {
		t.Error("traversal entry escaped the destination")
	}
}

func TestExtractZipRejectsAbsolutePath(t *testing.T) {
	src := writeZip(t, map[string]string{
		"/etc/cron.d/evil": "boom",
	})

	err := ExtractZip(src, t.TempDir())
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractZipMissingArchive(t *testing.T) {
	err := ExtractZip(filepath.Join(t.TempDir(), "nope.zip"), t.TempDir())
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractZipNotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-zip.zip")
	if err := os.WriteFile(path, []byte("plain text"), 0644); err != nil {
		t.Fatal(err)
	}

	err := ExtractZip(path, t.TempDir())
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}
