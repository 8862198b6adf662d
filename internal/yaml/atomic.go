// Package yaml provides atomic, schema-checked YAML persistence for the
// files the engine owns under a project's .helix directory.
package yaml

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// BackupSuffix is appended to the previous version of a file before it is
// replaced.
const BackupSuffix = ".bak"

// AtomicWrite marshals v and replaces path in a crash-safe sequence:
// temp file, fsync, validation re-read, backup of the previous file,
// rename. A reader never observes a partially written file.
func AtomicWrite(path string, v any) error {
	data, err := yamlv3.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal yaml for %s: %w", path, err)
	}
	return AtomicWriteRaw(path, data)
}

// AtomicWriteRaw writes already-serialized YAML with the same guarantees
// as AtomicWrite.
func AtomicWriteRaw(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".helix-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Re-read and parse before the rename so a torn write can never
	// replace a good file.
	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("re-read temp file for validation: %w", err)
	}
	if err := validateYAML(written); err != nil {
		return fmt.Errorf("written yaml failed validation: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+BackupSuffix); err != nil {
			return fmt.Errorf("back up %s: %w", path, err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func validateYAML(data []byte) error {
	var v any
	return yamlv3.Unmarshal(data, &v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
