// Package project inspects an extracted upload: finds the real project
// root, identifies the framework, and installs dependencies.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoProject is returned when no package.json can be found in an
// extracted upload.
var ErrNoProject = errors.New("no package.json found in upload")

// junkEntries are archive artifacts that never count as project content.
var junkEntries = map[string]bool{
	"__MACOSX":  true,
	".DS_Store": true,
}

// ResolveRoot finds the directory holding package.json inside an extracted
// upload. Archives are often zipped with one wrapper directory around the
// project, so a single non-junk subdirectory is descended into (one level
// only) before giving up.
func ResolveRoot(dir string) (string, error) {
	if hasPackageJSON(dir) {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, e := range entries {
		if !e.IsDir() || junkEntries[e.Name()] {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, e.Name()))
	}

	if len(candidates) == 1 && hasPackageJSON(candidates[0]) {
		return candidates[0], nil
	}
	return "", fmt.Errorf("%w (searched %s)", ErrNoProject, dir)
}

func hasPackageJSON(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "package.json"))
	return err == nil && !info.IsDir()
}

// packageJSON is the subset of package.json the detector reads.
type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

func (p *packageJSON) hasDep(name string) bool {
	if _, ok := p.Dependencies[name]; ok {
		return true
	}
	_, ok := p.DevDependencies[name]
	return ok
}

// DetectFramework identifies which dev server a project expects. Detection
// reads package.json dependencies, with a vite.config.* file as a second
// signal; anything unrecognized gets the generic tag.
func DetectFramework(root string) string {
	pkg := readPackageJSON(root)

	switch {
	case pkg != nil && pkg.hasDep("next"):
		return "next"
	case pkg != nil && pkg.hasDep("vite"):
		return "vite"
	case hasViteConfig(root):
		return "vite"
	case pkg != nil && pkg.hasDep("react-scripts"):
		return "cra"
	default:
		return "unknown"
	}
}

func readPackageJSON(root string) *packageJSON {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	return &pkg
}

func hasViteConfig(root string) bool {
	for _, name := range []string{"vite.config.js", "vite.config.ts", "vite.config.mjs", "vite.config.mts"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return true
		}
	}
	return false
}
