// Package status persists and observes project run state under a
// project's .helix directory.
package status

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/uke16/Helix-sub002/internal/lock"
	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
	helixyaml "github.com/uke16/Helix-sub002/internal/yaml"
)

const (
	// HelixDirName holds everything the engine owns inside a project.
	HelixDirName = ".helix"
	// FileName is the status document inside the helix directory.
	FileName = "status.yaml"

	lockFileName   = "lock"
	logsDirName    = "logs"
	journalName    = "events.jsonl"
	configFileName = "config.yaml"
)

func HelixDir(projectDir string) string {
	return filepath.Join(projectDir, HelixDirName)
}

func Path(projectDir string) string {
	return filepath.Join(HelixDir(projectDir), FileName)
}

func LockPath(projectDir string) string {
	return filepath.Join(HelixDir(projectDir), lockFileName)
}

func JournalPath(projectDir string) string {
	return filepath.Join(LogsDir(projectDir), journalName)
}

func LogsDir(projectDir string) string {
	return filepath.Join(HelixDir(projectDir), logsDirName)
}

func ConfigPath(projectDir string) string {
	return filepath.Join(HelixDir(projectDir), configFileName)
}

// Tracker reads and writes project status documents. Writes are
// serialized per project directory and always atomic, so a reader never
// observes a half-written file and a crash always leaves either the old
// or the new state.
type Tracker struct {
	log   *logging.Logger
	locks *lock.MutexMap
}

func NewTracker(log *logging.Logger) *Tracker {
	return &Tracker{
		log:   log.Named("status"),
		locks: lock.NewMutexMap(),
	}
}

// Load reads the project's status. found is false when no status file
// exists, which marks a first run. A corrupt file is quarantined and
// restored from its backup; if that also fails, the error is fatal
// rather than silently starting the project over.
func (t *Tracker) Load(projectDir string) (st *model.ProjectStatus, found bool, err error) {
	path := Path(projectDir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read status file: %w", err)
	}

	st, derr := decode(data)
	if derr == nil {
		return st, true, nil
	}

	t.log.Warn("status file corrupt, attempting recovery",
		zap.String("path", path),
		zap.Error(derr))

	if rerr := helixyaml.RecoverCorruptedFile(HelixDir(projectDir), path); rerr != nil {
		return nil, false, fmt.Errorf("status file corrupt and unrecoverable: %w", rerr)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read restored status file: %w", err)
	}
	st, derr = decode(data)
	if derr != nil {
		return nil, false, fmt.Errorf("restored status file is invalid: %w", derr)
	}

	t.log.Info("status restored from backup", zap.String("path", path))
	return st, true, nil
}

func decode(data []byte) (*model.ProjectStatus, error) {
	if err := helixyaml.ValidateSchemaHeaderFromBytes(data, helixyaml.FileTypeProjectStatus); err != nil {
		return nil, err
	}
	var st model.ProjectStatus
	if err := yamlv3.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &st, nil
}

// Save stamps the schema header and timestamp, then writes atomically.
func (t *Tracker) Save(projectDir string, st *model.ProjectStatus) error {
	t.locks.Lock(projectDir)
	defer t.locks.Unlock(projectDir)

	st.SchemaVersion = helixyaml.CurrentSchemaVersion
	st.FileType = helixyaml.FileTypeProjectStatus
	st.UpdatedAt = model.NowUTC()

	if err := os.MkdirAll(HelixDir(projectDir), 0o755); err != nil {
		return fmt.Errorf("create helix dir: %w", err)
	}
	if err := helixyaml.AtomicWrite(Path(projectDir), st); err != nil {
		return fmt.Errorf("persist status: %w", err)
	}

	t.log.Debug("status persisted",
		zap.String("project_id", st.ProjectID),
		zap.String("state", string(st.State)),
		zap.Int("completed_phases", st.CompletedPhases))
	return nil
}
