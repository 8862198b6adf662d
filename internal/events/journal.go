package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxJournalSize triggers rotation at 100MB.
	DefaultMaxJournalSize = 100 * 1024 * 1024
	journalExtension      = ".jsonl"
	archiveDirName        = "archive"
)

// Entry is one journal line. The journal is append-only JSONL so a
// crashed run leaves every prior line intact and parseable.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     Type           `json:"event"`
	RunID     string         `json:"run_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	PhaseID   string         `json:"phase_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal records the full event stream of a run to disk. Every append
// is fsynced; when the file exceeds maxSize it rotates into archive/.
type Journal struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	path        string
	runID       string
	rotations   int
}

// NewJournal opens (or creates) the journal at path. runID is stamped
// on every entry written through this journal.
func NewJournal(path, runID string, maxSize int64) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalSize
	}

	j := &Journal{path: path, runID: runID, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = f
	j.currentSize = stat.Size()
	return nil
}

// Append writes one event as a journal line and syncs it to disk.
func (j *Journal) Append(ev Event) error {
	entry := Entry{
		Timestamp: ev.Timestamp,
		Event:     ev.Type,
		RunID:     j.runID,
		ProjectID: ev.ProjectID,
		PhaseID:   ev.PhaseID,
		Message:   ev.Message,
		Details:   ev.Details,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSize+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	j.currentSize += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal for rotation: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(j.path), archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	j.rotations++
	base := filepath.Base(j.path)
	stem := base[:len(base)-len(journalExtension)]
	name := fmt.Sprintf("%s.%s.%d%s", stem, time.Now().UTC().Format("20060102_150405"), j.rotations, journalExtension)

	if err := os.Rename(j.path, filepath.Join(archiveDir, name)); err != nil {
		return fmt.Errorf("archive journal: %w", err)
	}
	return j.open()
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// ReadEntries loads the journal at path, skipping malformed lines so a
// line torn by a crash never hides the rest of the stream.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
