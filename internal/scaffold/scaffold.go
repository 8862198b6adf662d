// Package scaffold lays out a new helix project directory from the
// embedded templates.
package scaffold

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/uke16/Helix-sub002/internal/dataflow"
	"github.com/uke16/Helix-sub002/internal/escalate"
	"github.com/uke16/Helix-sub002/internal/phase"
	"github.com/uke16/Helix-sub002/internal/planfile"
	"github.com/uke16/Helix-sub002/internal/status"
	"github.com/uke16/Helix-sub002/templates"
)

// Result reports what Run created.
type Result struct {
	ProjectDir string
	// Phases lists the phase IDs that received an instruction stub.
	Phases []string
}

// Run initializes projectDir for helix: the .helix/ state directory
// with its default config, a starter phases.yaml and spec.md when the
// user has not already written them, and one instruction stub per
// declared phase. A directory that already has .helix/ is rejected.
func Run(projectDir string) (*Result, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	helixDir := status.HelixDir(absDir)
	if _, err := os.Stat(helixDir); err == nil {
		return nil, fmt.Errorf("%s already exists; refusing to re-initialize", helixDir)
	}

	for _, dir := range []string{
		status.LogsDir(absDir),
		filepath.Join(helixDir, escalate.DirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := copyTemplate("config.yaml", status.ConfigPath(absDir), false); err != nil {
		return nil, err
	}
	if err := copyTemplate("phases.yaml", filepath.Join(absDir, planfile.DeclarationFileName), true); err != nil {
		return nil, err
	}
	if err := copyTemplate("spec.md", filepath.Join(absDir, "spec.md"), true); err != nil {
		return nil, err
	}

	// Validate whatever plan ended up in place, template or the
	// user's own, and stub out its phase directories.
	decls, err := planfile.Load(absDir)
	if err != nil {
		return nil, err
	}
	stub, err := fs.ReadFile(templates.FS, "instructions.md")
	if err != nil {
		return nil, fmt.Errorf("read template instructions.md: %w", err)
	}

	res := &Result{ProjectDir: absDir}
	for _, d := range decls {
		phaseDir := dataflow.PhaseDir(absDir, d.ID)
		if err := os.MkdirAll(phaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create phase dir for %s: %w", d.ID, err)
		}
		path := filepath.Join(phaseDir, phase.DefaultInstructionsFile)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		content := fmt.Sprintf("# %s\n\n%s", d.DisplayName(), stub)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write instructions for %s: %w", d.ID, err)
		}
		res.Phases = append(res.Phases, d.ID)
	}
	return res, nil
}

// copyTemplate writes the embedded template to dst. keepExisting
// preserves files the user already authored.
func copyTemplate(name, dst string, keepExisting bool) error {
	if keepExisting {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
	}
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
