// Package archive unpacks uploaded project archives into session
// workspace directories.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrExtraction wraps any failure to unpack an archive, including
// entries that try to escape the destination directory.
var ErrExtraction = errors.New("archive extraction failed")

// maxFileSize caps a single extracted file. Project sources are small;
// anything past this is a bomb or a mistake.
const maxFileSize = 512 << 20

// ExtractZip unpacks the zip at src into dest, which must already exist.
// Every entry path is validated before any write: absolute paths and
// paths that resolve outside dest are rejected, failing the whole
// extraction.
func ExtractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := safePath(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("%w: %v", ErrExtraction, err)
			}
			continue
		}

		// Symlinks could point outside the workspace; skip them.
		if f.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if f.UncompressedSize64 > maxFileSize {
		return fmt.Errorf("%w: entry %s exceeds size limit", ErrExtraction, f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer out.Close()

	// LimitReader guards against entries whose header lies about size
	if _, err := io.Copy(out, io.LimitReader(rc, maxFileSize+1)); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return nil
}

// safePath joins an archive entry name onto dest and verifies the result
// stays inside dest.
func safePath(dest, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute entry path %q", ErrExtraction, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes destination", ErrExtraction, name)
	}
	return target, nil
}
