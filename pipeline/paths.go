package pipeline

import (
	"fmt"
	"path/filepath"
)

// Paths is the project layout, resolved once at startup.
type Paths struct {
	Root          string
	InputDir      string // data/input
	OutputDir     string // data/output
	SimulationDir string // engine scripts, externally owned
	GeneratedDir  string // generated RPC code
	VenvDir       string
}

// ResolvePaths derives the project layout from root. root is made absolute.
func ResolvePaths(root string) (Paths, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Paths{}, fmt.Errorf("resolving project root %q: %w", root, err)
	}
	return Paths{
		Root:          abs,
		InputDir:      filepath.Join(abs, "data", "input"),
		OutputDir:     filepath.Join(abs, "data", "output"),
		SimulationDir: filepath.Join(abs, "simulation"),
		GeneratedDir:  filepath.Join(abs, "mathworks"),
		VenvDir:       filepath.Join(abs, "automation", "venv"),
	}, nil
}

// Resolve joins rel onto the root unless it is already absolute.
func (p Paths) Resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.Root, rel)
}

// ExportPath is where the scene with the given stem is exported.
func (p Paths) ExportPath(stem string) string {
	return filepath.Join(p.OutputDir, stem+".xodr")
}
