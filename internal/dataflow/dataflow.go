// Package dataflow moves artifacts between phases: upstream outputs and
// ambient project files into a phase's input directory, and phase
// outputs into a collection directory.
package dataflow

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
)

const (
	PhasesDirName = "phases"
	InputDirName  = "input"
	OutputDirName = "output"

	// FeedbackFileName is the rejection feedback artifact the runner
	// places in a retry target's input directory.
	FeedbackFileName = "feedback.md"
)

// AmbientArtifacts are project-level files copied into every phase's
// input directory when present, regardless of input_from.
var AmbientArtifacts = []string{"spec.md", "architecture.md", "phases.yaml"}

func PhaseDir(projectDir, phaseID string) string {
	return filepath.Join(projectDir, PhasesDirName, phaseID)
}

func InputDir(projectDir, phaseID string) string {
	return filepath.Join(PhaseDir(projectDir, phaseID), InputDirName)
}

func OutputDir(projectDir, phaseID string) string {
	return filepath.Join(PhaseDir(projectDir, phaseID), OutputDirName)
}

// Manager implements the engine's artifact movement.
type Manager struct {
	log *logging.Logger
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{log: log.Named("dataflow")}
}

// PrepareInputs populates the phase's input directory from its declared
// upstream sources, then overlays the ambient project artifacts. A
// source phase with no output directory is skipped silently: producing
// nothing is a legitimate outcome. Returns the copied destination paths.
func (m *Manager) PrepareInputs(projectDir string, decl model.PhaseDeclaration) ([]string, error) {
	inputDir := InputDir(projectDir, decl.ID)
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir for %s: %w", decl.ID, err)
	}

	var copied []string
	for _, src := range decl.InputFrom {
		srcDir := OutputDir(projectDir, src.PhaseID)
		info, err := os.Stat(srcDir)
		if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
			m.log.Debug("input source has no outputs, skipping",
				zap.String("phase_id", decl.ID),
				zap.String("source", src.PhaseID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat outputs of %s: %w", src.PhaseID, err)
		}

		if len(src.Patterns) == 0 {
			if err := copyTree(srcDir, inputDir, &copied); err != nil {
				return nil, fmt.Errorf("copy outputs of %s: %w", src.PhaseID, err)
			}
			continue
		}
		if err := m.copyMatches(srcDir, inputDir, src, &copied); err != nil {
			return nil, err
		}
	}

	for _, name := range AmbientArtifacts {
		src := filepath.Join(projectDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(inputDir, name)
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("copy ambient artifact %s: %w", name, err)
		}
		copied = append(copied, dst)
	}

	m.log.Debug("inputs prepared",
		zap.String("phase_id", decl.ID),
		zap.Int("files", len(copied)))
	return copied, nil
}

func (m *Manager) copyMatches(srcDir, inputDir string, src model.InputSource, copied *[]string) error {
	for _, pattern := range src.Patterns {
		matches, err := filepath.Glob(filepath.Join(srcDir, pattern))
		if err != nil {
			return fmt.Errorf("bad input pattern %q for source %s: %w", pattern, src.PhaseID, err)
		}
		for _, match := range matches {
			rel, err := filepath.Rel(srcDir, match)
			if err != nil || strings.HasPrefix(rel, "..") {
				m.log.Warn("input pattern escapes source directory, skipping",
					zap.String("pattern", pattern),
					zap.String("match", match))
				continue
			}
			dst := filepath.Join(inputDir, rel)

			info, err := os.Stat(match)
			if err != nil {
				return fmt.Errorf("stat matched input %s: %w", match, err)
			}
			if info.IsDir() {
				if err := copyTree(match, dst, copied); err != nil {
					return fmt.Errorf("copy matched directory %s: %w", match, err)
				}
				continue
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return fmt.Errorf("create input subdir: %w", err)
			}
			if err := copyFile(match, dst); err != nil {
				return fmt.Errorf("copy matched input %s: %w", match, err)
			}
			*copied = append(*copied, dst)
		}
	}
	return nil
}

// CleanupInputs empties the phase's input directory without removing
// the directory itself, creating it when absent.
func (m *Manager) CleanupInputs(projectDir, phaseID string) error {
	inputDir := InputDir(projectDir, phaseID)
	entries, err := os.ReadDir(inputDir)
	if os.IsNotExist(err) {
		return os.MkdirAll(inputDir, 0o755)
	}
	if err != nil {
		return fmt.Errorf("read input dir for %s: %w", phaseID, err)
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(inputDir, entry.Name())); err != nil {
			return fmt.Errorf("remove stale input %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// CollectOutputs merges the output trees of the given phases into
// destDir in order; when two phases produced the same relative path the
// later phase wins. Nil phaseIDs collects every phase directory in
// lexical order.
func (m *Manager) CollectOutputs(projectDir, destDir string, phaseIDs []string) ([]string, error) {
	if len(phaseIDs) == 0 {
		var err error
		phaseIDs, err = listPhaseDirs(projectDir)
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}

	var copied []string
	for _, id := range phaseIDs {
		srcDir := OutputDir(projectDir, id)
		if info, err := os.Stat(srcDir); err != nil || !info.IsDir() {
			m.log.Debug("phase has no outputs to collect", zap.String("phase_id", id))
			continue
		}
		if err := copyTree(srcDir, destDir, &copied); err != nil {
			return nil, fmt.Errorf("collect outputs of %s: %w", id, err)
		}
	}
	return copied, nil
}

// ListOutputs returns the relative paths of every regular file under
// the phase's output directory, empty when the phase produced nothing.
func ListOutputs(projectDir, phaseID string) ([]string, error) {
	outDir := OutputDir(projectDir, phaseID)
	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list outputs of %s: %w", phaseID, err)
	}
	return files, nil
}

func listPhaseDirs(projectDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(projectDir, PhasesDirName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read phases dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func copyTree(src, dst string, copied *[]string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		*copied = append(*copied, target)
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
