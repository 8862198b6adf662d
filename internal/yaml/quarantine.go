package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// QuarantineDirName is the directory under .helix where corrupted files
// are moved before recovery.
const QuarantineDirName = "quarantine"

// Quarantine moves a corrupted file into helixDir/quarantine with a
// timestamped name so it can be inspected later.
func Quarantine(helixDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(helixDir, QuarantineDirName)
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), stamp)
	quarantinePath := filepath.Join(quarantineDir, name)

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return quarantinePath, nil
}

// RestoreFromBackup replaces filePath with its .bak sibling, refusing to
// restore a backup that does not parse.
func RestoreFromBackup(filePath string) error {
	bakPath := filePath + BackupSuffix
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// RecoverCorruptedFile quarantines filePath and restores the last good
// backup in its place. There is no skeleton fallback: a status file the
// engine cannot reconstruct truthfully is an error, not a blank slate.
func RecoverCorruptedFile(helixDir, filePath string) error {
	if _, err := Quarantine(helixDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}
	if err := RestoreFromBackup(filePath); err != nil {
		return fmt.Errorf("recover %s: %w", filePath, err)
	}
	return nil
}
